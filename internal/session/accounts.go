package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"marketplace/internal/apperr"
	"marketplace/internal/auth"
	"marketplace/internal/constants"
	"marketplace/internal/db"
	"marketplace/internal/models"
	"marketplace/internal/notify"
)

type RegisterRequest struct {
	Username string
	Email    string
	Password string
	FullName string
	Phone    string
}

// Register creates a disabled, unverified account and sends the
// verification link. The account becomes usable once VerifyEmail succeeds.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*models.Account, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if username == "" || auth.ReservedUsername(username) {
		return nil, apperr.New(apperr.Invalid, "Username is not available")
	}

	exists, err := s.accounts.ExistsByEmailOrUsername(ctx, email, username)
	if err != nil {
		return nil, fmt.Errorf("checking existing account: %w", err)
	}
	if exists {
		return nil, apperr.New(apperr.Duplicate, "Email or username already taken")
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	token, err := auth.GenerateOpaqueToken(constants.VerificationTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generating verification token: %w", err)
	}

	now := s.clock.Now()
	expiresAt := now.Add(s.verificationTTL)
	account := &models.Account{
		Username:              username,
		Email:                 email,
		FullName:              strings.TrimSpace(req.FullName),
		PasswordHash:          hash,
		Role:                  models.RoleUser,
		VerificationToken:     &token,
		VerificationExpiresAt: &expiresAt,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if phone := strings.TrimSpace(req.Phone); phone != "" {
		account.Phone = &phone
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return nil, apperr.New(apperr.Duplicate, "Email or username already taken")
		}
		return nil, err
	}

	s.sendVerification(ctx, account, notify.KindVerification)
	s.logger.Info("account registered", "account_id", account.ID)
	return account, nil
}

// VerifyEmail consumes a verification token and enables the account.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return apperr.New(apperr.NotFound, "Invalid verification token")
	}
	account, err := s.accounts.FindByVerificationToken(ctx, token)
	if errors.Is(err, db.ErrNotFound) {
		return apperr.New(apperr.NotFound, "Invalid verification token")
	}
	if err != nil {
		return fmt.Errorf("finding verification token: %w", err)
	}

	if account.EmailVerified {
		return apperr.New(apperr.IllegalState, "Email is already verified")
	}
	now := s.clock.Now()
	if account.VerificationExpiresAt != nil && !now.Before(*account.VerificationExpiresAt) {
		return apperr.New(apperr.IllegalState, "Verification token has expired. Please request a new one.")
	}

	account.EmailVerified = true
	account.Enabled = true
	account.VerificationToken = nil
	account.VerificationExpiresAt = nil
	account.UpdatedAt = now
	if err := s.accounts.Save(ctx, account); err != nil {
		return err
	}

	s.logger.Info("email verified", "account_id", account.ID)
	return nil
}

// ResendVerification issues a fresh verification token. Unknown emails
// succeed silently so the endpoint cannot be used to probe for accounts.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	account, err := s.accounts.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("finding account: %w", err)
	}
	if account.EmailVerified {
		return apperr.New(apperr.IllegalState, "Email is already verified")
	}

	token, err := auth.GenerateOpaqueToken(constants.VerificationTokenBytes)
	if err != nil {
		return fmt.Errorf("generating verification token: %w", err)
	}
	now := s.clock.Now()
	expiresAt := now.Add(s.verificationTTL)
	account.VerificationToken = &token
	account.VerificationExpiresAt = &expiresAt
	account.UpdatedAt = now
	if err := s.accounts.Save(ctx, account); err != nil {
		return err
	}

	s.sendVerification(ctx, account, notify.KindResendVerification)
	return nil
}

func (s *Service) sendVerification(ctx context.Context, a *models.Account, kind notify.Kind) {
	s.notifier.Send(ctx, notify.Notification{
		To:      a.Email,
		Name:    a.FullName,
		Kind:    kind,
		Payload: map[string]string{"token": *a.VerificationToken},
	})
}

// RequestPasswordReset issues a reset token for the account behind email
// and mails it. Unknown emails succeed silently.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	account, err := s.accounts.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("finding account: %w", err)
	}

	token, err := auth.GenerateOpaqueToken(constants.PasswordResetTokenBytes)
	if err != nil {
		return fmt.Errorf("generating password reset token: %w", err)
	}
	now := s.clock.Now()
	expiresAt := now.Add(s.passwordResetTTL)
	account.PasswordResetToken = &token
	account.PasswordResetExpiresAt = &expiresAt
	account.UpdatedAt = now
	if err := s.accounts.Save(ctx, account); err != nil {
		return err
	}

	s.notifier.Send(ctx, notify.Notification{
		To:      account.Email,
		Name:    account.FullName,
		Kind:    notify.KindPasswordReset,
		Payload: map[string]string{"token": token},
	})
	s.logger.Info("password reset requested", "account_id", account.ID)
	return nil
}

// ResetPassword consumes a reset token and replaces the password. The token
// works once.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if strings.TrimSpace(token) == "" {
		return apperr.New(apperr.NotFound, "Invalid password reset token")
	}
	account, err := s.accounts.FindByPasswordResetToken(ctx, token)
	if errors.Is(err, db.ErrNotFound) {
		return apperr.New(apperr.NotFound, "Invalid password reset token")
	}
	if err != nil {
		return fmt.Errorf("finding password reset token: %w", err)
	}

	now := s.clock.Now()
	if account.PasswordResetExpiresAt == nil || !now.Before(*account.PasswordResetExpiresAt) {
		return apperr.New(apperr.IllegalState, "Password reset token has expired")
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	account.PasswordHash = hash
	account.PasswordResetToken = nil
	account.PasswordResetExpiresAt = nil
	account.UpdatedAt = now
	if err := s.accounts.Save(ctx, account); err != nil {
		return err
	}

	s.logger.Info("password reset", "account_id", account.ID)
	return nil
}

// TrustedDevices lists the account's devices that are still trusted.
func (s *Service) TrustedDevices(ctx context.Context, accountID string) ([]*models.TrustedDevice, error) {
	return s.devices.List(ctx, accountID, s.clock.Now())
}

// RevokeDevice removes trust from one of the account's devices.
func (s *Service) RevokeDevice(ctx context.Context, accountID, deviceID string) error {
	return s.devices.Revoke(ctx, accountID, deviceID)
}

// LogoutAll revokes every trusted device of the account. Issued JWTs stay
// valid until they expire.
func (s *Service) LogoutAll(ctx context.Context, accountID string) (int, error) {
	n, err := s.devices.RevokeAll(ctx, accountID)
	if err != nil {
		return n, err
	}
	s.logger.Info("logged out everywhere", "account_id", accountID, "devices_revoked", n)
	return n, nil
}

// DeleteAccount removes the account after re-checking its password.
// Devices, products and chats go with it.
func (s *Service) DeleteAccount(ctx context.Context, accountID, password string) error {
	account, err := s.accounts.FindByID(ctx, accountID)
	if errors.Is(err, db.ErrNotFound) {
		return apperr.New(apperr.NotFound, "Account not found")
	}
	if err != nil {
		return fmt.Errorf("finding account: %w", err)
	}
	if !s.hasher.Verify(password, account.PasswordHash) {
		return errInvalidCredentials
	}
	if err := s.accounts.Delete(ctx, accountID); err != nil {
		return err
	}
	s.logger.Info("account deleted", "account_id", accountID)
	return nil
}
