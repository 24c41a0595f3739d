package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"marketplace/internal/apperr"
	"marketplace/internal/clock"
	"marketplace/internal/models"
)

// ErrInvalidToken covers malformed, unsigned, tampered and expired tokens
// alike. Callers never learn which check failed.
var ErrInvalidToken = apperr.New(apperr.BadCredentials, "Invalid or expired token")

// TokenService mints and validates HS256 tokens. Access and refresh tokens
// share one format and differ only in lifetime.
type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	clock      clock.Clock
	parser     *jwt.Parser
}

type Claims struct {
	Role        models.Role `json:"role"`
	PrincipalID string      `json:"pid"`
	Username    string      `json:"username"`
	jwt.RegisteredClaims
}

func NewTokenService(secret string, accessTTL, refreshTTL time.Duration, clk clock.Clock) *TokenService {
	return &TokenService{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		clock:      clk,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(clk.Now),
		),
	}
}

func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

// Mint signs a token for p valid for ttl from now.
func (s *TokenService) Mint(p Principal, ttl time.Duration) (string, error) {
	now := s.clock.Now()
	claims := Claims{
		Role:        p.Role(),
		PrincipalID: p.ID(),
		Username:    p.Username(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   SubjectOf(p),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

func (s *TokenService) MintAccess(p Principal) (string, error) {
	return s.Mint(p, s.accessTTL)
}

func (s *TokenService) MintRefresh(p Principal) (string, error) {
	return s.Mint(p, s.refreshTTL)
}

// Validate checks the signature and expiry. Expiry is strict: a token is
// rejected from the second its exp claim is reached.
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := s.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateFor validates the token and requires its subject to equal subject.
func (s *TokenService) ValidateFor(tokenString, subject string) (*Claims, error) {
	claims, err := s.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Subject != subject {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// PeekSubject reads the subject without verifying anything. The result must
// only be used to pick where to look the principal up.
func (s *TokenService) PeekSubject(tokenString string) (string, error) {
	claims := &Claims{}
	if _, _, err := s.parser.ParseUnverified(tokenString, claims); err != nil {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// IsInvalidToken reports whether err came from token validation.
func IsInvalidToken(err error) bool {
	return errors.Is(err, ErrInvalidToken)
}
