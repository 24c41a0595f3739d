// Package devices decides which clients may skip extra login friction.
package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"marketplace/internal/apperr"
	"marketplace/internal/auth"
	"marketplace/internal/constants"
	"marketplace/internal/db"
	"marketplace/internal/models"
	"marketplace/internal/notify"
)

type DeviceStore interface {
	FindActiveByAccountAndFingerprint(ctx context.Context, accountID, fingerprint string) (*models.TrustedDevice, error)
	FindAllByAccount(ctx context.Context, accountID string) ([]*models.TrustedDevice, error)
	Create(ctx context.Context, d *models.TrustedDevice) error
	Touch(ctx context.Context, id string, now time.Time) (bool, error)
	Deactivate(ctx context.Context, id string) (bool, error)
	DeactivateAllForAccount(ctx context.Context, accountID string) (int64, error)
}

// Registry persists trusted devices. At most maxActive devices per account
// are active; trusting one more first deactivates the least recently used.
type Registry struct {
	store     DeviceStore
	maxActive int
	ttl       time.Duration
	notifier  *notify.Dispatcher
	logger    *slog.Logger
	accounts  *keyedMutex
}

func NewRegistry(store DeviceStore, maxActive int, ttl time.Duration, notifier *notify.Dispatcher, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:     store,
		maxActive: maxActive,
		ttl:       ttl,
		notifier:  notifier,
		logger:    logger.With("component", "devices"),
		accounts:  newKeyedMutex(),
	}
}

// IsTrusted reports whether the account has a live trust record for the
// fingerprint. A live record gets its lastUsedAt touched; an expired one is
// deactivated. A record revoked after the lookup is not trusted.
func (r *Registry) IsTrusted(ctx context.Context, accountID, fingerprint string, now time.Time) (bool, error) {
	d, err := r.store.FindActiveByAccountAndFingerprint(ctx, accountID, fingerprint)
	if errors.Is(err, db.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("looking up trusted device: %w", err)
	}

	if !d.Trusted(now) {
		expired, err := r.store.Deactivate(ctx, d.ID)
		if err != nil {
			return false, fmt.Errorf("deactivating expired device: %w", err)
		}
		if expired {
			r.logger.Info("trusted device expired", "account_id", accountID, "device_id", d.ID)
		}
		return false, nil
	}

	touched, err := r.store.Touch(ctx, d.ID, now)
	if err != nil {
		return false, fmt.Errorf("touching trusted device: %w", err)
	}
	return touched, nil
}

// Trust records the fingerprint as a trusted device of the account and
// returns the record carrying its bearer token. If a live record for the
// fingerprint already exists it is reused.
func (r *Registry) Trust(ctx context.Context, account *models.Account, fingerprint string, meta RequestMeta, now time.Time) (*models.TrustedDevice, error) {
	unlock := r.accounts.Lock(account.ID)
	defer unlock()

	all, err := r.store.FindAllByAccount(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("listing trusted devices: %w", err)
	}

	var active []*models.TrustedDevice
	for _, d := range all {
		if !d.Active {
			continue
		}
		if !d.Trusted(now) {
			if _, err := r.store.Deactivate(ctx, d.ID); err != nil {
				return nil, fmt.Errorf("deactivating expired device: %w", err)
			}
			continue
		}
		if d.Fingerprint == fingerprint {
			touched, err := r.store.Touch(ctx, d.ID, now)
			if err != nil {
				return nil, fmt.Errorf("touching trusted device: %w", err)
			}
			if touched {
				d.LastUsedAt = now
				return d, nil
			}
			continue
		}
		active = append(active, d)
	}

	for len(active) >= r.maxActive {
		idx := leastRecentlyUsed(active)
		victim := active[idx]
		if _, err := r.store.Deactivate(ctx, victim.ID); err != nil {
			return nil, fmt.Errorf("evicting trusted device: %w", err)
		}
		r.logger.Info("trusted device evicted", "account_id", account.ID, "device_id", victim.ID)
		active = append(active[:idx], active[idx+1:]...)
	}

	token, err := auth.GenerateOpaqueToken(constants.DeviceTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generating device token: %w", err)
	}

	d := &models.TrustedDevice{
		AccountID:   account.ID,
		Token:       token,
		Fingerprint: fingerprint,
		Name:        DeviceName(meta.UserAgent),
		Type:        DeviceType(meta.UserAgent),
		UserAgent:   meta.UserAgent,
		IPAddress:   meta.ClientIP,
		CreatedAt:   now,
		LastUsedAt:  now,
		ExpiresAt:   now.Add(r.ttl),
		Active:      true,
	}
	if err := r.store.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("saving trusted device: %w", err)
	}

	r.logger.Info("device trusted", "account_id", account.ID, "device_id", d.ID, "device_name", d.Name)
	r.notifier.Send(ctx, notify.Notification{
		To:   account.Email,
		Name: account.FullName,
		Kind: notify.KindNewDevice,
		Payload: map[string]string{
			"deviceName": d.Name,
			"ipAddress":  d.IPAddress,
		},
	})
	return d, nil
}

// leastRecentlyUsed returns the index of the device with the oldest
// lastUsedAt. Ties go to the earliest in the slice.
func leastRecentlyUsed(devices []*models.TrustedDevice) int {
	idx := 0
	for i, d := range devices[1:] {
		if d.LastUsedAt.Before(devices[idx].LastUsedAt) {
			idx = i + 1
		}
	}
	return idx
}

// List returns the account's active, unexpired devices.
func (r *Registry) List(ctx context.Context, accountID string, now time.Time) ([]*models.TrustedDevice, error) {
	all, err := r.store.FindAllByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("listing trusted devices: %w", err)
	}
	out := make([]*models.TrustedDevice, 0, len(all))
	for _, d := range all {
		if d.Trusted(now) {
			out = append(out, d)
		}
	}
	return out, nil
}

// Revoke deactivates one device of the account.
func (r *Registry) Revoke(ctx context.Context, accountID, deviceID string) error {
	unlock := r.accounts.Lock(accountID)
	defer unlock()

	all, err := r.store.FindAllByAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("listing trusted devices: %w", err)
	}
	for _, d := range all {
		if d.ID != deviceID {
			continue
		}
		revoked, err := r.store.Deactivate(ctx, d.ID)
		if err != nil {
			return fmt.Errorf("revoking trusted device: %w", err)
		}
		if revoked {
			r.logger.Info("trusted device revoked", "account_id", accountID, "device_id", deviceID)
		}
		return nil
	}
	return apperr.New(apperr.NotFound, "Device not found")
}

// RevokeAll deactivates every device of the account and returns how many
// were active.
func (r *Registry) RevokeAll(ctx context.Context, accountID string) (int, error) {
	unlock := r.accounts.Lock(accountID)
	defer unlock()

	n, err := r.store.DeactivateAllForAccount(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("revoking trusted devices: %w", err)
	}
	if n > 0 {
		r.logger.Info("trusted devices revoked", "account_id", accountID, "count", n)
	}
	return int(n), nil
}
