// Package session runs the login, refresh and account lifecycle protocols
// on top of the lockout ledger, the token service and the device registry.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"marketplace/internal/apperr"
	"marketplace/internal/auth"
	"marketplace/internal/clock"
	"marketplace/internal/db"
	"marketplace/internal/devices"
	"marketplace/internal/metrics"
	"marketplace/internal/models"
	"marketplace/internal/notify"
)

const TokenTypeBearer = "Bearer"

type AccountStore interface {
	FindByID(ctx context.Context, id string) (*models.Account, error)
	FindByUsername(ctx context.Context, username string) (*models.Account, error)
	FindByEmail(ctx context.Context, email string) (*models.Account, error)
	FindByUsernameOrEmail(ctx context.Context, s string) (*models.Account, error)
	FindByVerificationToken(ctx context.Context, token string) (*models.Account, error)
	FindByPasswordResetToken(ctx context.Context, token string) (*models.Account, error)
	ExistsByEmailOrUsername(ctx context.Context, email, username string) (bool, error)
	Create(ctx context.Context, a *models.Account) error
	Save(ctx context.Context, a *models.Account) error
	Delete(ctx context.Context, id string) error
}

type AdminStore interface {
	FindByUsername(ctx context.Context, username string) (*models.Admin, error)
	FindByUsernameOrEmail(ctx context.Context, s string) (*models.Admin, error)
	TouchLogin(ctx context.Context, id string, now time.Time) error
}

type Service struct {
	accounts         AccountStore
	admins           AdminStore
	hasher           auth.PasswordHasher
	tokens           *auth.TokenService
	ledger           *auth.Ledger
	devices          *devices.Registry
	resolver         *auth.PrincipalResolver
	notifier         *notify.Dispatcher
	clock            clock.Clock
	verificationTTL  time.Duration
	passwordResetTTL time.Duration
	logger           *slog.Logger
}

type Deps struct {
	Accounts        AccountStore
	Admins          AdminStore
	Hasher          auth.PasswordHasher
	Tokens          *auth.TokenService
	Ledger          *auth.Ledger
	Devices         *devices.Registry
	Notifier        *notify.Dispatcher
	Clock           clock.Clock
	VerificationTTL time.Duration
	// PasswordResetTTL defaults to one hour.
	PasswordResetTTL time.Duration
	Logger           *slog.Logger
}

func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	resetTTL := d.PasswordResetTTL
	if resetTTL <= 0 {
		resetTTL = time.Hour
	}
	return &Service{
		accounts:         d.Accounts,
		admins:           d.Admins,
		hasher:           d.Hasher,
		tokens:           d.Tokens,
		ledger:           d.Ledger,
		devices:          d.Devices,
		resolver:         auth.NewPrincipalResolver(d.Accounts, d.Admins),
		notifier:         d.Notifier,
		clock:            d.Clock,
		verificationTTL:  d.VerificationTTL,
		passwordResetTTL: resetTTL,
		logger:           logger.With("component", "session"),
	}
}

// Resolver exposes the principal resolver used for bearer tokens.
func (s *Service) Resolver() *auth.PrincipalResolver { return s.resolver }

type LoginRequest struct {
	Identifier     string
	Password       string
	RememberDevice bool
	Meta           devices.RequestMeta
}

type LoginResult struct {
	AccessToken     string
	RefreshToken    string
	TokenType       string
	ExpiresIn       int64
	DeviceToken     string
	DeviceExpiresAt *time.Time
	IsDeviceTrusted bool
	TrustedDevices  []*models.TrustedDevice
	Principal       auth.Principal
}

type RefreshResult struct {
	AccessToken string
	TokenType   string
	ExpiresIn   int64
}

var errInvalidCredentials = apperr.New(apperr.BadCredentials, "Invalid credentials")

// Login authenticates a regular user. Unknown accounts and wrong passwords
// both fail with BadCredentials; unverified and locked accounts fail with
// their own kinds.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	result, err := s.login(ctx, req)
	metrics.AuthLoginsTotal.WithLabelValues("user", loginOutcome(err)).Inc()
	return result, err
}

func (s *Service) login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	identifier := strings.ToLower(strings.TrimSpace(req.Identifier))

	account, err := s.accounts.FindByUsernameOrEmail(ctx, identifier)
	if errors.Is(err, db.ErrNotFound) {
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("finding account: %w", err)
	}

	if !account.EmailVerified {
		return nil, apperr.New(apperr.EmailNotVerified,
			"Please verify your email before logging in. Check your inbox for the verification link.")
	}

	now := s.clock.Now()
	if err := s.ledger.CheckLock(ctx, account, now); err != nil {
		return nil, err
	}

	if !s.hasher.Verify(req.Password, account.PasswordHash) {
		counters, err := s.ledger.RecordFailure(ctx, account, now)
		if err != nil {
			return nil, err
		}
		return nil, apperr.WrongPassword(counters.Remaining)
	}

	if !account.Enabled {
		return nil, apperr.New(apperr.BadCredentials, "Account is disabled")
	}

	if err := s.ledger.RecordSuccess(ctx, account, now, req.Meta.ClientIP); err != nil {
		return nil, err
	}

	fingerprint := devices.Fingerprint(req.Meta)
	trusted, err := s.devices.IsTrusted(ctx, account.ID, fingerprint, now)
	if err != nil {
		return nil, err
	}

	result := &LoginResult{
		TokenType:       TokenTypeBearer,
		ExpiresIn:       int64(s.tokens.AccessTTL() / time.Second),
		IsDeviceTrusted: trusted,
	}

	if req.RememberDevice && !trusted {
		device, err := s.devices.Trust(ctx, account, fingerprint, req.Meta, now)
		if err != nil {
			return nil, err
		}
		result.DeviceToken = device.Token
		expiresAt := device.ExpiresAt
		result.DeviceExpiresAt = &expiresAt
	}

	principal := &auth.UserPrincipal{Account: account}
	if err := s.mintPair(principal, result, "login"); err != nil {
		return nil, err
	}

	result.TrustedDevices, err = s.devices.List(ctx, account.ID, now)
	if err != nil {
		return nil, err
	}
	result.Principal = principal

	s.logger.Info("user logged in", "account_id", account.ID, "device_trusted", trusted)
	return result, nil
}

// AdminLogin authenticates an administrator. There is no lockout or device
// trust on this path.
func (s *Service) AdminLogin(ctx context.Context, identifier, password string) (*LoginResult, error) {
	result, err := s.adminLogin(ctx, identifier, password)
	metrics.AuthLoginsTotal.WithLabelValues("admin", loginOutcome(err)).Inc()
	return result, err
}

func (s *Service) adminLogin(ctx context.Context, identifier, password string) (*LoginResult, error) {
	admin, err := s.admins.FindByUsernameOrEmail(ctx, strings.ToLower(strings.TrimSpace(identifier)))
	if errors.Is(err, db.ErrNotFound) {
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("finding admin: %w", err)
	}
	if !admin.Enabled {
		return nil, apperr.New(apperr.BadCredentials, "Account is disabled")
	}
	if !s.hasher.Verify(password, admin.PasswordHash) {
		return nil, errInvalidCredentials
	}

	if err := s.admins.TouchLogin(ctx, admin.ID, s.clock.Now()); err != nil {
		return nil, err
	}

	principal := &auth.AdminPrincipal{Admin: admin}
	result := &LoginResult{
		TokenType:      TokenTypeBearer,
		ExpiresIn:      int64(s.tokens.AccessTTL() / time.Second),
		TrustedDevices: []*models.TrustedDevice{},
		Principal:      principal,
	}
	if err := s.mintPair(principal, result, "admin_login"); err != nil {
		return nil, err
	}

	s.logger.Info("admin logged in", "admin_id", admin.ID)
	return result, nil
}

func (s *Service) mintPair(p auth.Principal, result *LoginResult, flow string) error {
	access, err := s.tokens.MintAccess(p)
	if err != nil {
		return err
	}
	refresh, err := s.tokens.MintRefresh(p)
	if err != nil {
		return err
	}
	result.AccessToken = access
	result.RefreshToken = refresh
	metrics.TokensIssuedTotal.WithLabelValues(flow, "access").Inc()
	metrics.TokensIssuedTotal.WithLabelValues(flow, "refresh").Inc()
	return nil
}

var errInvalidRefresh = apperr.New(apperr.BadCredentials, "Invalid or expired refresh token")

// Refresh exchanges a refresh token for a new access token. The refresh
// token itself is not rotated. Every failure looks the same to the caller.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, errInvalidRefresh
	}

	subject, err := s.tokens.PeekSubject(refreshToken)
	if err != nil {
		return nil, errInvalidRefresh
	}

	principal, err := s.resolver.ResolvePrincipal(ctx, subject)
	if err != nil {
		s.logger.Debug("refresh subject did not resolve", "error", err)
		return nil, errInvalidRefresh
	}

	if _, err := s.tokens.ValidateFor(refreshToken, auth.SubjectOf(principal)); err != nil {
		return nil, errInvalidRefresh
	}

	if !principal.Enabled() {
		return nil, errInvalidRefresh
	}

	access, err := s.tokens.MintAccess(principal)
	if err != nil {
		return nil, err
	}
	metrics.TokensIssuedTotal.WithLabelValues("refresh", "access").Inc()

	return &RefreshResult{
		AccessToken: access,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   int64(s.tokens.AccessTTL() / time.Second),
	}, nil
}

// Authenticate resolves a bearer access token to its principal.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (auth.Principal, error) {
	claims, err := s.tokens.Validate(accessToken)
	if err != nil {
		return nil, err
	}
	principal, err := s.resolver.ResolvePrincipal(ctx, claims.Subject)
	if err != nil {
		return nil, auth.ErrInvalidToken
	}
	if principal.ID() != claims.PrincipalID || !principal.Enabled() {
		return nil, auth.ErrInvalidToken
	}
	return principal, nil
}

func loginOutcome(err error) string {
	switch apperr.KindOf(err) {
	case "":
		if err != nil {
			return "error"
		}
		return "success"
	case apperr.BadCredentials:
		return "bad_credentials"
	case apperr.AccountLocked:
		return "locked"
	case apperr.EmailNotVerified:
		return "unverified"
	default:
		return "error"
	}
}
