package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"marketplace/internal/auth"
	"marketplace/internal/models"
	"marketplace/internal/session"
)

const deviceTokenCookie = "device_token"

type AuthHandler struct {
	sessions      *session.Service
	ips           *ClientIPResolver
	secureCookies bool
}

func NewAuthHandler(sessions *session.Service, ips *ClientIPResolver, secureCookies bool) *AuthHandler {
	return &AuthHandler{
		sessions:      sessions,
		ips:           ips,
		secureCookies: secureCookies,
	}
}

type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50,alphanum"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	FullName string `json:"fullName" validate:"required,max=100"`
	Phone    string `json:"phone" validate:"max=30"`
}

type LoginRequest struct {
	UsernameOrEmail string `json:"usernameOrEmail" validate:"required,max=255"`
	Password        string `json:"password" validate:"required,max=72"`
	RememberDevice  bool   `json:"rememberDevice"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

type ResendVerificationRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=8,max=72"`
}

type DeleteAccountRequest struct {
	Password string `json:"password" validate:"required"`
}

type PrincipalResponse struct {
	ID       string      `json:"id"`
	Username string      `json:"username"`
	Email    string      `json:"email"`
	Role     models.Role `json:"role"`
}

type LoginResponse struct {
	AccessToken     string                  `json:"accessToken"`
	RefreshToken    string                  `json:"refreshToken"`
	TokenType       string                  `json:"tokenType"`
	ExpiresIn       int64                   `json:"expiresIn"`
	DeviceToken     string                  `json:"deviceToken,omitempty"`
	DeviceExpiresAt *time.Time              `json:"deviceExpiresAt,omitempty"`
	IsDeviceTrusted bool                    `json:"isDeviceTrusted"`
	TrustedDevices  []*models.TrustedDevice `json:"trustedDevices"`
	Principal       PrincipalResponse       `json:"principal"`
}

type RefreshResponse struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresIn   int64  `json:"expiresIn"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	account, err := h.sessions.Register(r.Context(), session.RegisterRequest{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
		Phone:    req.Phone,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Registration successful. Please check your email to verify your account.",
		"account": account,
	})
}

func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	if err := h.sessions.VerifyEmail(r.Context(), req.Token); err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Email verified. You can now log in."})
}

func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req ResendVerificationRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	if err := h.sessions.ResendVerification(r.Context(), req.Email); err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "If the account exists and is unverified, a new verification email has been sent.",
	})
}

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	if err := h.sessions.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "If an account exists for that email, a password reset link has been sent.",
	})
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	if err := h.sessions.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Password has been reset. You can now log in."})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	result, err := h.sessions.Login(r.Context(), session.LoginRequest{
		Identifier:     req.UsernameOrEmail,
		Password:       req.Password,
		RememberDevice: req.RememberDevice,
		Meta:           h.ips.RequestMeta(r),
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	if result.DeviceToken != "" && result.DeviceExpiresAt != nil {
		http.SetCookie(w, &http.Cookie{
			Name:     deviceTokenCookie,
			Value:    result.DeviceToken,
			Path:     "/",
			Expires:  *result.DeviceExpiresAt,
			HttpOnly: true,
			Secure:   h.secureCookies,
			SameSite: http.SameSiteLaxMode,
		})
	}

	writeJSON(w, http.StatusOK, toLoginResponse(result))
}

func (h *AuthHandler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	result, err := h.sessions.AdminLogin(r.Context(), req.UsernameOrEmail, req.Password)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toLoginResponse(result))
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	result, err := h.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, RefreshResponse{
		AccessToken: result.AccessToken,
		TokenType:   result.TokenType,
		ExpiresIn:   result.ExpiresIn,
	})
}

func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	revoked, err := h.sessions.LogoutAll(r.Context(), GetAccountID(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     deviceTokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"message":        "Logged out from all devices",
		"devicesRevoked": revoked,
	})
}

func (h *AuthHandler) Devices(w http.ResponseWriter, r *http.Request) {
	list, err := h.sessions.TrustedDevices(r.Context(), GetAccountID(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if list == nil {
		list = []*models.TrustedDevice{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *AuthHandler) RevokeDevice(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.RevokeDevice(r.Context(), GetAccountID(r), chi.URLParam(r, "deviceID")); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	var req DeleteAccountRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	if err := h.sessions.DeleteAccount(r.Context(), GetAccountID(r), req.Password); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toLoginResponse(result *session.LoginResult) LoginResponse {
	trusted := result.TrustedDevices
	if trusted == nil {
		trusted = []*models.TrustedDevice{}
	}
	return LoginResponse{
		AccessToken:     result.AccessToken,
		RefreshToken:    result.RefreshToken,
		TokenType:       result.TokenType,
		ExpiresIn:       result.ExpiresIn,
		DeviceToken:     result.DeviceToken,
		DeviceExpiresAt: result.DeviceExpiresAt,
		IsDeviceTrusted: result.IsDeviceTrusted,
		TrustedDevices:  trusted,
		Principal:       toPrincipalResponse(result.Principal),
	}
}

func toPrincipalResponse(p auth.Principal) PrincipalResponse {
	return PrincipalResponse{
		ID:       p.ID(),
		Username: p.Username(),
		Email:    p.Email(),
		Role:     p.Role(),
	}
}
