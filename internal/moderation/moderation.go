// Package moderation holds the administrator actions on user accounts.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"marketplace/internal/apperr"
	"marketplace/internal/clock"
	"marketplace/internal/db"
	"marketplace/internal/models"
)

type AccountStore interface {
	FindByID(ctx context.Context, id string) (*models.Account, error)
	List(ctx context.Context) ([]*models.Account, error)
	Lock(ctx context.Context, id string, now time.Time) error
	Unlock(ctx context.Context, id string, now time.Time) error
	SetEnabled(ctx context.Context, id string, enabled bool, now time.Time) error
}

// DeviceRevoker drops trust for every device of an account.
type DeviceRevoker interface {
	RevokeAll(ctx context.Context, accountID string) (int, error)
}

type Service struct {
	accounts AccountStore
	devices  DeviceRevoker
	clock    clock.Clock
	logger   *slog.Logger
}

func NewService(accounts AccountStore, devices DeviceRevoker, clk clock.Clock, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		accounts: accounts,
		devices:  devices,
		clock:    clk,
		logger:   logger.With("component", "moderation"),
	}
}

func (s *Service) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	return s.accounts.List(ctx)
}

// Lock locks the account from now. The lock lapses after the configured lock
// duration, the same as one caused by failed logins.
func (s *Service) Lock(ctx context.Context, adminID, accountID string) (*models.Account, error) {
	if err := s.apply(ctx, accountID, func(now time.Time) error {
		return s.accounts.Lock(ctx, accountID, now)
	}); err != nil {
		return nil, err
	}
	s.logger.Info("account locked by admin", "admin_id", adminID, "account_id", accountID)
	return s.accounts.FindByID(ctx, accountID)
}

// Unlock clears the lock and resets the failure counter.
func (s *Service) Unlock(ctx context.Context, adminID, accountID string) (*models.Account, error) {
	if err := s.apply(ctx, accountID, func(now time.Time) error {
		return s.accounts.Unlock(ctx, accountID, now)
	}); err != nil {
		return nil, err
	}
	s.logger.Info("account unlocked by admin", "admin_id", adminID, "account_id", accountID)
	return s.accounts.FindByID(ctx, accountID)
}

// SetEnabled toggles the account. Disabling also revokes its trusted devices.
func (s *Service) SetEnabled(ctx context.Context, adminID, accountID string, enabled bool) (*models.Account, error) {
	if err := s.apply(ctx, accountID, func(now time.Time) error {
		return s.accounts.SetEnabled(ctx, accountID, enabled, now)
	}); err != nil {
		return nil, err
	}
	if !enabled && s.devices != nil {
		if _, err := s.devices.RevokeAll(ctx, accountID); err != nil {
			return nil, fmt.Errorf("revoking devices of disabled account: %w", err)
		}
	}
	s.logger.Info("account enabled flag changed", "admin_id", adminID, "account_id", accountID, "enabled", enabled)
	return s.accounts.FindByID(ctx, accountID)
}

func (s *Service) apply(ctx context.Context, accountID string, fn func(now time.Time) error) error {
	err := fn(s.clock.Now())
	if errors.Is(err, db.ErrNotFound) {
		return apperr.New(apperr.NotFound, "Account not found")
	}
	return err
}
