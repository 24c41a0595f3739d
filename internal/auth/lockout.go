package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"marketplace/internal/apperr"
	"marketplace/internal/metrics"
	"marketplace/internal/models"
	"marketplace/internal/notify"
)

// LockoutStore persists the failure counter and lock flag. RecordLoginFailure
// must increment atomically so concurrent failures are never lost.
type LockoutStore interface {
	RecordLoginFailure(ctx context.Context, id string, threshold int, now time.Time) (attempts int, locked bool, err error)
	RecordLoginSuccess(ctx context.Context, id string, now time.Time, ip string) error
	Unlock(ctx context.Context, id string, now time.Time) error
}

// Counters is the lockout state after a recorded failure.
type Counters struct {
	FailedAttempts int
	Locked         bool
	// Remaining is how many more failures the account tolerates before it locks.
	Remaining int
}

// Ledger tracks failed logins and lock windows.
type Ledger struct {
	store        LockoutStore
	threshold    int
	lockDuration time.Duration
	notifier     *notify.Dispatcher
	logger       *slog.Logger
}

func NewLedger(store LockoutStore, threshold int, lockDuration time.Duration, notifier *notify.Dispatcher, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:        store,
		threshold:    threshold,
		lockDuration: lockDuration,
		notifier:     notifier,
		logger:       logger.With("component", "lockout"),
	}
}

// IsLocked reports whether a is locked at now. A lock whose window has
// passed reads as unlocked even before it is cleared in the store. A lock
// without a timestamp never expires on its own.
func (l *Ledger) IsLocked(a *models.Account, now time.Time) bool {
	if !a.AccountLocked {
		return false
	}
	if a.LockTime == nil {
		return true
	}
	return !now.After(a.LockTime.Add(l.lockDuration))
}

// CheckLock denies a locked account with AccountLocked. An expired lock is
// cleared in the store and on a, resetting the counter to zero.
func (l *Ledger) CheckLock(ctx context.Context, a *models.Account, now time.Time) error {
	if !a.AccountLocked {
		return nil
	}
	if l.IsLocked(a, now) {
		return apperr.New(apperr.AccountLocked,
			"Account is locked due to multiple failed login attempts. Please try again later.")
	}

	if err := l.store.Unlock(ctx, a.ID, now); err != nil {
		return fmt.Errorf("clearing expired lock: %w", err)
	}
	a.AccountLocked = false
	a.LockTime = nil
	a.FailedLoginAttempts = 0
	l.logger.Info("account lock expired", "account_id", a.ID)
	return nil
}

// RecordFailure counts a failed password check. The call that pushes the
// counter onto the threshold locks the account and sends a security alert.
func (l *Ledger) RecordFailure(ctx context.Context, a *models.Account, now time.Time) (Counters, error) {
	attempts, locked, err := l.store.RecordLoginFailure(ctx, a.ID, l.threshold, now)
	if err != nil {
		return Counters{}, fmt.Errorf("recording login failure: %w", err)
	}

	justLocked := locked && !a.AccountLocked && attempts == l.threshold
	a.FailedLoginAttempts = attempts
	a.AccountLocked = locked
	if justLocked {
		lockTime := now
		a.LockTime = &lockTime
		l.logger.Info("account locked", "account_id", a.ID, "failed_attempts", attempts)
		metrics.AuthLockoutsTotal.Inc()
		l.notifier.Send(ctx, notify.Notification{
			To:   a.Email,
			Name: a.FullName,
			Kind: notify.KindSecurityAlert,
			Payload: map[string]string{
				"message": fmt.Sprintf("Your account has been locked after %d failed login attempts. It will unlock automatically in %d minutes.",
					attempts, int(l.lockDuration.Minutes())),
			},
		})
	}

	remaining := l.threshold - attempts
	if remaining < 0 {
		remaining = 0
	}
	return Counters{FailedAttempts: attempts, Locked: locked, Remaining: remaining}, nil
}

// RecordSuccess clears the counter and lock and stamps the login.
func (l *Ledger) RecordSuccess(ctx context.Context, a *models.Account, now time.Time, ip string) error {
	if err := l.store.RecordLoginSuccess(ctx, a.ID, now, ip); err != nil {
		return fmt.Errorf("recording login success: %w", err)
	}
	a.FailedLoginAttempts = 0
	a.AccountLocked = false
	a.LockTime = nil
	stamped := now
	a.LastLoginAt = &stamped
	a.LastLoginIP = &ip
	return nil
}
