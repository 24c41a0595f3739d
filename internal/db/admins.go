package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"marketplace/internal/models"
)

const adminColumns = `id, username, email, full_name, password_hash, enabled, last_login_at, created_at`

type AdminRepository struct {
	q querier
}

func NewAdminRepository(db *DB) *AdminRepository {
	return &AdminRepository{q: db}
}

func (r *AdminRepository) Create(ctx context.Context, a *models.Admin) error {
	if a.ID == "" {
		id, err := GenerateID("adm")
		if err != nil {
			return fmt.Errorf("generating admin ID: %w", err)
		}
		a.ID = id
	}

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO admins (`+adminColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Username, a.Email, a.FullName, a.PasswordHash, a.Enabled,
		timePtrArg(a.LastLoginAt), a.CreatedAt.UTC(),
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("creating admin: %w", err)
	}
	return nil
}

func (r *AdminRepository) FindByUsername(ctx context.Context, username string) (*models.Admin, error) {
	return r.findOne(ctx, `SELECT `+adminColumns+` FROM admins WHERE username = ?`, username)
}

func (r *AdminRepository) FindByUsernameOrEmail(ctx context.Context, s string) (*models.Admin, error) {
	return r.findOne(ctx, `SELECT `+adminColumns+` FROM admins WHERE username = ? OR email = ? LIMIT 1`, s, s)
}

func (r *AdminRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM admins`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting admins: %w", err)
	}
	return n, nil
}

func (r *AdminRepository) TouchLogin(ctx context.Context, id string, now time.Time) error {
	result, err := r.q.ExecContext(ctx, `UPDATE admins SET last_login_at = ? WHERE id = ?`, now.UTC(), id)
	if err != nil {
		return fmt.Errorf("stamping admin login: %w", err)
	}
	return checkRowsAffected(result)
}

func (r *AdminRepository) findOne(ctx context.Context, query string, args ...any) (*models.Admin, error) {
	var a models.Admin
	var lastLoginAt sql.NullTime

	err := r.q.QueryRowContext(ctx, query, args...).Scan(
		&a.ID, &a.Username, &a.Email, &a.FullName, &a.PasswordHash, &a.Enabled, &lastLoginAt, &a.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying admin: %w", err)
	}

	a.LastLoginAt = nullTimeToPtr(lastLoginAt)
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}
