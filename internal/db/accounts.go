package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"marketplace/internal/models"
)

const accountColumns = `id, username, email, full_name, phone, password_hash, role, enabled,
	email_verified, account_locked, failed_login_attempts, lock_time, last_login_at,
	last_login_ip, verification_token, verification_expires_at, password_reset_token,
	password_reset_expires_at, created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

type AccountRepository struct {
	q querier
}

func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{q: db}
}

// WithTx returns a repository bound to tx.
func (r *AccountRepository) WithTx(tx *sql.Tx) *AccountRepository {
	return &AccountRepository{q: tx}
}

func (r *AccountRepository) Create(ctx context.Context, a *models.Account) error {
	if a.ID == "" {
		id, err := GenerateID("acc")
		if err != nil {
			return fmt.Errorf("generating account ID: %w", err)
		}
		a.ID = id
	}
	if a.Role == "" {
		a.Role = models.RoleUser
	}

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Username, a.Email, a.FullName, a.Phone, a.PasswordHash, a.Role, a.Enabled,
		a.EmailVerified, a.AccountLocked, a.FailedLoginAttempts, timePtrArg(a.LockTime),
		timePtrArg(a.LastLoginAt), a.LastLoginIP, a.VerificationToken,
		timePtrArg(a.VerificationExpiresAt), a.PasswordResetToken, timePtrArg(a.PasswordResetExpiresAt),
		a.CreatedAt.UTC(), a.UpdatedAt.UTC(),
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("creating account: %w", err)
	}
	return nil
}

func (r *AccountRepository) FindByID(ctx context.Context, id string) (*models.Account, error) {
	return r.findOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
}

func (r *AccountRepository) FindByUsername(ctx context.Context, username string) (*models.Account, error) {
	return r.findOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE username = ?`, username)
}

func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.findOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = ?`, email)
}

// FindByUsernameOrEmail matches s against either column, ignoring case.
func (r *AccountRepository) FindByUsernameOrEmail(ctx context.Context, s string) (*models.Account, error) {
	return r.findOne(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE username = ? OR email = ? LIMIT 1`, s, s)
}

func (r *AccountRepository) FindByVerificationToken(ctx context.Context, token string) (*models.Account, error) {
	return r.findOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE verification_token = ?`, token)
}

func (r *AccountRepository) FindByPasswordResetToken(ctx context.Context, token string) (*models.Account, error) {
	return r.findOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE password_reset_token = ?`, token)
}

func (r *AccountRepository) ExistsByEmailOrUsername(ctx context.Context, email, username string) (bool, error) {
	var exists bool
	err := r.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE email = ? OR username = ?)`, email, username,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking account existence: %w", err)
	}
	return exists, nil
}

func (r *AccountRepository) List(ctx context.Context) ([]*models.Account, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// Save writes every mutable field of a back to its row.
func (r *AccountRepository) Save(ctx context.Context, a *models.Account) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE accounts SET
			username = ?, email = ?, full_name = ?, phone = ?, password_hash = ?, role = ?,
			enabled = ?, email_verified = ?, account_locked = ?, failed_login_attempts = ?,
			lock_time = ?, last_login_at = ?, last_login_ip = ?, verification_token = ?,
			verification_expires_at = ?, password_reset_token = ?, password_reset_expires_at = ?,
			updated_at = ?
		 WHERE id = ?`,
		a.Username, a.Email, a.FullName, a.Phone, a.PasswordHash, a.Role,
		a.Enabled, a.EmailVerified, a.AccountLocked, a.FailedLoginAttempts,
		timePtrArg(a.LockTime), timePtrArg(a.LastLoginAt), a.LastLoginIP, a.VerificationToken,
		timePtrArg(a.VerificationExpiresAt), a.PasswordResetToken, timePtrArg(a.PasswordResetExpiresAt),
		a.UpdatedAt.UTC(),
		a.ID,
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("saving account: %w", err)
	}
	return checkRowsAffected(result)
}

// RecordLoginFailure atomically increments the failure counter and locks the
// account once the counter reaches threshold. It returns the new counter and
// lock flag. The lock timestamp is only stamped on the transition into the
// locked state.
func (r *AccountRepository) RecordLoginFailure(ctx context.Context, id string, threshold int, now time.Time) (int, bool, error) {
	var attempts int
	var locked bool
	err := r.q.QueryRowContext(ctx,
		`UPDATE accounts SET
			failed_login_attempts = failed_login_attempts + 1,
			lock_time = CASE
				WHEN account_locked = 0 AND failed_login_attempts + 1 >= ?1 THEN ?2
				ELSE lock_time END,
			account_locked = CASE
				WHEN failed_login_attempts + 1 >= ?1 THEN 1
				ELSE account_locked END,
			updated_at = ?2
		 WHERE id = ?3
		 RETURNING failed_login_attempts, account_locked`,
		threshold, now.UTC(), id,
	).Scan(&attempts, &locked)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, ErrNotFound
	}
	if err != nil {
		return 0, false, fmt.Errorf("recording login failure: %w", err)
	}
	return attempts, locked, nil
}

// RecordLoginSuccess clears the lockout state and stamps the login.
func (r *AccountRepository) RecordLoginSuccess(ctx context.Context, id string, now time.Time, ip string) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE accounts SET
			failed_login_attempts = 0, account_locked = 0, lock_time = NULL,
			last_login_at = ?, last_login_ip = ?, updated_at = ?
		 WHERE id = ?`,
		now.UTC(), ip, now.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("recording login success: %w", err)
	}
	return checkRowsAffected(result)
}

// Unlock resets the counter and clears the lock.
func (r *AccountRepository) Unlock(ctx context.Context, id string, now time.Time) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE accounts SET failed_login_attempts = 0, account_locked = 0, lock_time = NULL, updated_at = ?
		 WHERE id = ?`,
		now.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("unlocking account: %w", err)
	}
	return checkRowsAffected(result)
}

// Lock locks the account starting at now.
func (r *AccountRepository) Lock(ctx context.Context, id string, now time.Time) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE accounts SET account_locked = 1, lock_time = ?, updated_at = ? WHERE id = ?`,
		now.UTC(), now.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("locking account: %w", err)
	}
	return checkRowsAffected(result)
}

func (r *AccountRepository) SetEnabled(ctx context.Context, id string, enabled bool, now time.Time) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE accounts SET enabled = ?, updated_at = ? WHERE id = ?`,
		enabled, now.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating account status: %w", err)
	}
	return checkRowsAffected(result)
}

// Delete removes the account. Trusted devices go with it through the
// foreign key cascade.
func (r *AccountRepository) Delete(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting account: %w", err)
	}
	return checkRowsAffected(result)
}

func (r *AccountRepository) findOne(ctx context.Context, query string, args ...any) (*models.Account, error) {
	a, err := scanAccount(r.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}
	return a, nil
}

func scanAccount(s rowScanner) (*models.Account, error) {
	var a models.Account
	var phone, lastLoginIP, verificationToken, resetToken sql.NullString
	var lockTime, lastLoginAt, verificationExpiresAt, resetExpiresAt sql.NullTime

	err := s.Scan(
		&a.ID, &a.Username, &a.Email, &a.FullName, &phone, &a.PasswordHash, &a.Role, &a.Enabled,
		&a.EmailVerified, &a.AccountLocked, &a.FailedLoginAttempts, &lockTime, &lastLoginAt,
		&lastLoginIP, &verificationToken, &verificationExpiresAt, &resetToken, &resetExpiresAt,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Phone = nullStringToPtr(phone)
	a.LastLoginIP = nullStringToPtr(lastLoginIP)
	a.VerificationToken = nullStringToPtr(verificationToken)
	a.LockTime = nullTimeToPtr(lockTime)
	a.LastLoginAt = nullTimeToPtr(lastLoginAt)
	a.VerificationExpiresAt = nullTimeToPtr(verificationExpiresAt)
	a.PasswordResetToken = nullStringToPtr(resetToken)
	a.PasswordResetExpiresAt = nullTimeToPtr(resetExpiresAt)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}
