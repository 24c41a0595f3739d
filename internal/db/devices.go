package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"marketplace/internal/models"
)

const deviceColumns = `id, account_id, token, fingerprint, name, type, user_agent, ip_address,
	created_at, last_used_at, expires_at, active`

type DeviceRepository struct {
	q querier
}

func NewDeviceRepository(db *DB) *DeviceRepository {
	return &DeviceRepository{q: db}
}

func (r *DeviceRepository) WithTx(tx *sql.Tx) *DeviceRepository {
	return &DeviceRepository{q: tx}
}

// Create inserts d. Later changes go through the targeted updates below so
// a stale copy of the row can never reactivate it.
func (r *DeviceRepository) Create(ctx context.Context, d *models.TrustedDevice) error {
	if d.ID == "" {
		id, err := GenerateID("dev")
		if err != nil {
			return fmt.Errorf("generating device ID: %w", err)
		}
		d.ID = id
	}

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO trusted_devices (`+deviceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.AccountID, d.Token, d.Fingerprint, d.Name, d.Type, d.UserAgent, d.IPAddress,
		d.CreatedAt.UTC(), d.LastUsedAt.UTC(), d.ExpiresAt.UTC(), d.Active,
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("creating trusted device: %w", err)
	}
	return nil
}

// Touch stamps lastUsedAt on an active device. It reports false when the
// device has been deactivated in the meantime.
func (r *DeviceRepository) Touch(ctx context.Context, id string, now time.Time) (bool, error) {
	result, err := r.q.ExecContext(ctx,
		`UPDATE trusted_devices SET last_used_at = ? WHERE id = ? AND active = 1`, now.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("touching trusted device: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("touching trusted device: %w", err)
	}
	return n == 1, nil
}

// Deactivate clears the active flag and reports whether the device was active.
func (r *DeviceRepository) Deactivate(ctx context.Context, id string) (bool, error) {
	result, err := r.q.ExecContext(ctx,
		`UPDATE trusted_devices SET active = 0 WHERE id = ? AND active = 1`, id)
	if err != nil {
		return false, fmt.Errorf("deactivating trusted device: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deactivating trusted device: %w", err)
	}
	return n == 1, nil
}

// FindActiveByAccountAndFingerprint returns the most recently used active
// device for the pair. Expiry is not checked here.
func (r *DeviceRepository) FindActiveByAccountAndFingerprint(ctx context.Context, accountID, fingerprint string) (*models.TrustedDevice, error) {
	d, err := scanDevice(r.q.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM trusted_devices
		 WHERE account_id = ? AND fingerprint = ? AND active = 1
		 ORDER BY last_used_at DESC LIMIT 1`,
		accountID, fingerprint,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying trusted device: %w", err)
	}
	return d, nil
}

// FindAllByAccount returns every device of the account, active or not,
// in insertion order.
func (r *DeviceRepository) FindAllByAccount(ctx context.Context, accountID string) ([]*models.TrustedDevice, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM trusted_devices WHERE account_id = ? ORDER BY created_at, rowid`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying trusted devices: %w", err)
	}
	defer rows.Close()

	var devices []*models.TrustedDevice
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning trusted device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// DeactivateAllForAccount deactivates every active device of the account.
func (r *DeviceRepository) DeactivateAllForAccount(ctx context.Context, accountID string) (int64, error) {
	result, err := r.q.ExecContext(ctx,
		`UPDATE trusted_devices SET active = 0 WHERE account_id = ? AND active = 1`, accountID)
	if err != nil {
		return 0, fmt.Errorf("deactivating trusted devices: %w", err)
	}
	return result.RowsAffected()
}

// DeactivateExpired deactivates active devices whose expiry is at or before now.
func (r *DeviceRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.q.ExecContext(ctx,
		`UPDATE trusted_devices SET active = 0 WHERE active = 1 AND expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("deactivating expired devices: %w", err)
	}
	return result.RowsAffected()
}

func scanDevice(s rowScanner) (*models.TrustedDevice, error) {
	var d models.TrustedDevice
	err := s.Scan(
		&d.ID, &d.AccountID, &d.Token, &d.Fingerprint, &d.Name, &d.Type, &d.UserAgent, &d.IPAddress,
		&d.CreatedAt, &d.LastUsedAt, &d.ExpiresAt, &d.Active,
	)
	if err != nil {
		return nil, err
	}
	d.CreatedAt = d.CreatedAt.UTC()
	d.LastUsedAt = d.LastUsedAt.UTC()
	d.ExpiresAt = d.ExpiresAt.UTC()
	return &d, nil
}
