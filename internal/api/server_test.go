package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"

	"marketplace/internal/auth"
	"marketplace/internal/clock"
	"marketplace/internal/config"
	"marketplace/internal/constants"
	"marketplace/internal/db"
	"marketplace/internal/devices"
	"marketplace/internal/metrics"
	"marketplace/internal/models"
	"marketplace/internal/moderation"
	"marketplace/internal/negotiation"
	"marketplace/internal/notify"
	"marketplace/internal/session"
	"marketplace/internal/ws"
)

var epoch = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

const testPassword = "password123"

const testConfig = `
auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
security:
  login_rate_per_minute: 1000
server:
  allowed_origins: ["https://shop.example.com"]
`

type testServer struct {
	server   *Server
	clock    *clock.FakeClock
	accounts *db.AccountRepository
	admins   *db.AdminRepository
	hasher   auth.PasswordHasher
	registry *prometheus.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg, err := config.Parse([]byte(testConfig))
	if err != nil {
		t.Fatalf("config.Parse() error = %v", err)
	}

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.Fake(epoch)
	dispatcher := notify.NewDispatcher(notify.LogSink{Logger: logger}, logger)
	accounts := db.NewAccountRepository(database)
	admins := db.NewAdminRepository(database)
	hasher := auth.NewBcryptHasher(bcrypt.MinCost)
	registry := devices.NewRegistry(db.NewDeviceRepository(database), cfg.Security.MaxTrustedDevices, cfg.Security.TrustedDeviceTTL, dispatcher, logger)

	sessions := session.NewService(session.Deps{
		Accounts:        accounts,
		Admins:          admins,
		Hasher:          hasher,
		Tokens:          auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL, clk),
		Ledger:          auth.NewLedger(accounts, cfg.Security.MaxFailedAttempts, cfg.Security.LockDuration, dispatcher, logger),
		Devices:         registry,
		Notifier:        dispatcher,
		Clock:           clk,
		VerificationTTL: cfg.Security.VerificationTokenTTL,
		Logger:          logger,
	})

	hub := ws.NewHub(logger)
	go hub.Run()

	promRegistry := prometheus.NewRegistry()
	metrics.MustRegister(promRegistry)

	server, err := NewServer(Deps{
		Config:     cfg,
		DB:         database,
		Sessions:   sessions,
		Moderation: moderation.NewService(accounts, registry, clk, logger),
		Engine:     negotiation.NewEngine(negotiation.NewSQLStore(database), clk, hub, cfg.Negotiation.DefaultValidityHours, logger),
		Hub:        hub,
		Clock:      clk,
		Gatherer:   promRegistry,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	t.Cleanup(server.Shutdown)

	return &testServer{server: server, clock: clk, accounts: accounts, admins: admins, hasher: hasher, registry: promRegistry}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		if s, ok := body.(string); ok {
			reader = strings.NewReader(s)
		} else {
			b, err := json.Marshal(body)
			if err != nil {
				t.Fatalf("json.Marshal() error = %v", err)
			}
			reader = bytes.NewReader(b)
		}
	}

	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "203.0.113.7:40000"
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Chrome/120.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	ts.server.ServeHTTP(rr, req)
	return rr
}

func (ts *testServer) createUser(t *testing.T, username string) *models.Account {
	t.Helper()

	hash, err := ts.hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	a := &models.Account{
		Username:      username,
		Email:         username + "@example.com",
		FullName:      username,
		PasswordHash:  hash,
		Role:          models.RoleUser,
		Enabled:       true,
		EmailVerified: true,
		CreatedAt:     epoch,
		UpdatedAt:     epoch,
	}
	if err := ts.accounts.Create(context.Background(), a); err != nil {
		t.Fatalf("Create(%q) error = %v", username, err)
	}
	return a
}

func (ts *testServer) createAdmin(t *testing.T, username string) *models.Admin {
	t.Helper()

	hash, err := ts.hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	a := &models.Admin{Username: username, Email: username + "@example.com", PasswordHash: hash, Enabled: true, CreatedAt: epoch}
	if err := ts.admins.Create(context.Background(), a); err != nil {
		t.Fatalf("Create(admin %q) error = %v", username, err)
	}
	return a
}

func (ts *testServer) login(t *testing.T, path, username string) LoginResponse {
	t.Helper()

	rr := ts.do(t, http.MethodPost, path, "", LoginRequest{UsernameOrEmail: username, Password: testPassword})
	if rr.Code != http.StatusOK {
		t.Fatalf("POST %s status = %d, want %d, body=%s", path, rr.Code, http.StatusOK, rr.Body.String())
	}
	return decodeBody[LoginResponse](t, rr)
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("json.Unmarshal() error = %v, body=%q", err, rr.Body.String())
	}
	return v
}

func expectError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) ErrorDetail {
	t.Helper()

	if rr.Code != status {
		t.Fatalf("status = %d, want %d, body=%s", rr.Code, status, rr.Body.String())
	}
	resp := decodeBody[ErrorResponse](t, rr)
	if resp.Error.Code != code {
		t.Fatalf("error.code = %q, want %q", resp.Error.Code, code)
	}
	return resp.Error
}

func TestLoginRemembersDevice(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "alice")

	rr := ts.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{
		UsernameOrEmail: "Alice@Example.com",
		Password:        testPassword,
		RememberDevice:  true,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d, want %d, body=%s", rr.Code, http.StatusOK, rr.Body.String())
	}

	resp := decodeBody[LoginResponse](t, rr)
	if resp.Principal.Username != "alice" || resp.Principal.Role != models.RoleUser {
		t.Fatalf("principal = %+v, want alice/USER", resp.Principal)
	}
	if resp.IsDeviceTrusted {
		t.Fatal("isDeviceTrusted = true on first login, want false")
	}
	if resp.DeviceToken == "" || len(resp.TrustedDevices) != 1 {
		t.Fatalf("deviceToken = %q, trustedDevices = %d, want token and 1 device", resp.DeviceToken, len(resp.TrustedDevices))
	}

	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == deviceTokenCookie {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("device_token cookie not set")
	}
	if !cookie.HttpOnly || cookie.Value != resp.DeviceToken {
		t.Fatalf("cookie = %+v, want HttpOnly with the device token", cookie)
	}

	again := ts.login(t, "/api/auth/login", "alice")
	if !again.IsDeviceTrusted {
		t.Fatal("isDeviceTrusted = false on second login from the same device, want true")
	}

	rr = ts.do(t, http.MethodGet, "/api/auth/devices", again.AccessToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("devices status = %d, want %d", rr.Code, http.StatusOK)
	}
	list := decodeBody[[]models.TrustedDevice](t, rr)
	if len(list) != 1 || list[0].Name != "Mac" {
		t.Fatalf("devices = %+v, want one Mac device", list)
	}

	rr = ts.do(t, http.MethodDelete, "/api/auth/devices/"+list[0].ID, again.AccessToken, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("revoke status = %d, want %d", rr.Code, http.StatusNoContent)
	}
	rr = ts.do(t, http.MethodGet, "/api/auth/devices", again.AccessToken, nil)
	if list := decodeBody[[]models.TrustedDevice](t, rr); len(list) != 0 {
		t.Fatalf("devices after revoke = %d, want 0", len(list))
	}
}

func TestLoginFailuresReportRemainingThenLock(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "alice")

	for want := 4; want >= 0; want-- {
		rr := ts.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{UsernameOrEmail: "alice", Password: "wrong-password"})
		detail := expectError(t, rr, http.StatusUnauthorized, constants.ErrCodeAuthFailed)
		if detail.AttemptsRemaining == nil || *detail.AttemptsRemaining != want {
			t.Fatalf("attemptsRemaining = %v, want %d", detail.AttemptsRemaining, want)
		}
	}

	rr := ts.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{UsernameOrEmail: "alice", Password: testPassword})
	expectError(t, rr, http.StatusLocked, constants.ErrCodeAccountLocked)

	rr = ts.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{UsernameOrEmail: "nobody", Password: testPassword})
	detail := expectError(t, rr, http.StatusUnauthorized, constants.ErrCodeAuthFailed)
	if detail.AttemptsRemaining != nil {
		t.Fatalf("attemptsRemaining for unknown account = %d, want omitted", *detail.AttemptsRemaining)
	}

	ts.clock.Advance(31 * time.Minute)
	ts.login(t, "/api/auth/login", "alice")
}

func TestRegisterVerifyThenLogin(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	register := RegisterRequest{Username: "Carol", Email: "carol@example.com", Password: testPassword, FullName: "Carol"}
	rr := ts.do(t, http.MethodPost, "/api/auth/register", "", register)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register status = %d, want %d, body=%s", rr.Code, http.StatusCreated, rr.Body.String())
	}

	rr = ts.do(t, http.MethodPost, "/api/auth/register", "", register)
	expectError(t, rr, http.StatusConflict, constants.ErrCodeConflict)

	rr = ts.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{UsernameOrEmail: "carol", Password: testPassword})
	expectError(t, rr, http.StatusForbidden, constants.ErrCodeEmailNotVerified)

	account, err := ts.accounts.FindByEmail(ctx, "carol@example.com")
	if err != nil {
		t.Fatalf("FindByEmail() error = %v", err)
	}
	if account.VerificationToken == nil {
		t.Fatal("VerificationToken = nil after register")
	}

	rr = ts.do(t, http.MethodPost, "/api/auth/verify-email", "", VerifyEmailRequest{Token: "not-a-token"})
	expectError(t, rr, http.StatusNotFound, constants.ErrCodeNotFound)

	rr = ts.do(t, http.MethodPost, "/api/auth/verify-email", "", VerifyEmailRequest{Token: *account.VerificationToken})
	if rr.Code != http.StatusOK {
		t.Fatalf("verify status = %d, want %d, body=%s", rr.Code, http.StatusOK, rr.Body.String())
	}

	rr = ts.do(t, http.MethodPost, "/api/auth/resend-verification", "", ResendVerificationRequest{Email: "carol@example.com"})
	expectError(t, rr, http.StatusConflict, constants.ErrCodeIllegalState)

	ts.login(t, "/api/auth/login", "carol")
}

func TestRequestValidation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		path string
		body any
		want string
	}{
		{name: "short_password", path: "/api/auth/register", body: RegisterRequest{Username: "dave", Email: "dave@example.com", Password: "short", FullName: "Dave"}, want: "password must be at least 8 characters"},
		{name: "bad_email", path: "/api/auth/register", body: RegisterRequest{Username: "dave", Email: "dave", Password: testPassword, FullName: "Dave"}, want: "invalid email format"},
		{name: "missing_identifier", path: "/api/auth/login", body: LoginRequest{Password: testPassword}, want: "usernameOrEmail is required"},
		{name: "unknown_field", path: "/api/auth/refresh", body: `{"refreshToken":"x","extra":1}`, want: "invalid JSON body"},
		{name: "trailing_data", path: "/api/auth/refresh", body: `{"refreshToken":"x"}{}`, want: "invalid JSON body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.do(t, http.MethodPost, tt.path, "", tt.body)
			detail := expectError(t, rr, http.StatusBadRequest, constants.ErrCodeInvalidRequest)
			if detail.Message != tt.want {
				t.Fatalf("error.message = %q, want %q", detail.Message, tt.want)
			}
		})
	}
}

func TestRefreshEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "alice")
	tokens := ts.login(t, "/api/auth/login", "alice")

	rr := ts.do(t, http.MethodPost, "/api/auth/refresh", "", RefreshRequest{RefreshToken: tokens.RefreshToken})
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, want %d, body=%s", rr.Code, http.StatusOK, rr.Body.String())
	}
	resp := decodeBody[RefreshResponse](t, rr)
	if resp.AccessToken == "" || resp.TokenType != "Bearer" {
		t.Fatalf("refresh response = %+v, want a bearer access token", resp)
	}

	rr = ts.do(t, http.MethodGet, "/api/auth/devices", resp.AccessToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("devices with refreshed token status = %d, want %d", rr.Code, http.StatusOK)
	}

	rr = ts.do(t, http.MethodPost, "/api/auth/refresh", "", RefreshRequest{RefreshToken: tokens.AccessToken + "x"})
	expectError(t, rr, http.StatusUnauthorized, constants.ErrCodeAuthFailed)
}

func TestAuthMiddlewareAndRoles(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "alice")
	ts.createAdmin(t, "root")
	user := ts.login(t, "/api/auth/login", "alice")
	admin := ts.login(t, "/api/auth/admin/login", "root")

	if admin.Principal.Role != models.RoleAdmin {
		t.Fatalf("admin principal role = %q, want %q", admin.Principal.Role, models.RoleAdmin)
	}

	tests := []struct {
		name   string
		path   string
		token  string
		header string
		status int
		code   string
	}{
		{name: "missing_header", path: "/api/offers/pending", status: http.StatusUnauthorized, code: constants.ErrCodeAuthFailed},
		{name: "wrong_scheme", path: "/api/offers/pending", header: "Basic abc", status: http.StatusUnauthorized, code: constants.ErrCodeAuthFailed},
		{name: "garbage_token", path: "/api/offers/pending", token: "garbage", status: http.StatusUnauthorized, code: constants.ErrCodeAuthExpired},
		{name: "admin_on_user_route", path: "/api/offers/pending", token: admin.AccessToken, status: http.StatusForbidden, code: constants.ErrCodeForbidden},
		{name: "user_on_admin_route", path: "/api/admin/accounts", token: user.AccessToken, status: http.StatusForbidden, code: constants.ErrCodeForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rr := httptest.NewRecorder()
			ts.server.ServeHTTP(rr, req)
			expectError(t, rr, tt.status, tt.code)
		})
	}

	ts.clock.Advance(16 * time.Minute)
	rr := ts.do(t, http.MethodGet, "/api/offers/pending", user.AccessToken, nil)
	expectError(t, rr, http.StatusUnauthorized, constants.ErrCodeAuthExpired)
}

func TestOfferFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "seller")
	ts.createUser(t, "bob")
	ts.createUser(t, "eve")
	seller := ts.login(t, "/api/auth/login", "seller")
	bob := ts.login(t, "/api/auth/login", "bob")
	eve := ts.login(t, "/api/auth/login", "eve")

	rr := ts.do(t, http.MethodPost, "/api/products", seller.AccessToken, `{"title":"Road bike","price":"100.00","negotiable":true}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create product status = %d, want %d, body=%s", rr.Code, http.StatusCreated, rr.Body.String())
	}
	product := decodeBody[models.Product](t, rr)

	rr = ts.do(t, http.MethodPost, "/api/products", seller.AccessToken, `{"title":"Bad","price":"10.001","negotiable":true}`)
	expectError(t, rr, http.StatusBadRequest, constants.ErrCodeInvalidRequest)

	rr = ts.do(t, http.MethodPost, "/api/products/"+product.ID+"/chats", seller.AccessToken, nil)
	expectError(t, rr, http.StatusConflict, constants.ErrCodeIllegalState)

	rr = ts.do(t, http.MethodPost, "/api/products/"+product.ID+"/chats", bob.AccessToken, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("open chat status = %d, want %d, body=%s", rr.Code, http.StatusCreated, rr.Body.String())
	}
	chat := decodeBody[models.Chat](t, rr)

	rr = ts.do(t, http.MethodPost, "/api/products/"+product.ID+"/chats", bob.AccessToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("reopen chat status = %d, want %d", rr.Code, http.StatusOK)
	}
	if again := decodeBody[models.Chat](t, rr); again.ID != chat.ID {
		t.Fatalf("reopened chat id = %q, want %q", again.ID, chat.ID)
	}

	rr = ts.do(t, http.MethodPost, "/api/chats/"+chat.ID+"/offers", bob.AccessToken, `{"price":80,"note":"cash today"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("make offer status = %d, want %d, body=%s", rr.Code, http.StatusCreated, rr.Body.String())
	}
	offer := decodeBody[negotiation.OfferView](t, rr)
	if offer.Status != models.NegotiationPending || !offer.IsOwnOffer {
		t.Fatalf("offer = %+v, want own PENDING offer", offer)
	}

	rr = ts.do(t, http.MethodGet, "/api/chats/"+chat.ID+"/offers", eve.AccessToken, nil)
	expectError(t, rr, http.StatusConflict, constants.ErrCodeIllegalState)

	rr = ts.do(t, http.MethodGet, "/api/offers/pending", seller.AccessToken, nil)
	pending := decodeBody[[]negotiation.OfferView](t, rr)
	if len(pending) != 1 || pending[0].ID != offer.ID || !pending[0].CanRespond {
		t.Fatalf("pending = %+v, want the one offer, respondable", pending)
	}

	rr = ts.do(t, http.MethodPost, "/api/offers/"+offer.ID+"/accept", bob.AccessToken, nil)
	expectError(t, rr, http.StatusConflict, constants.ErrCodeIllegalState)

	rr = ts.do(t, http.MethodPost, "/api/offers/"+offer.ID+"/accept", seller.AccessToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("accept status = %d, want %d, body=%s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if accepted := decodeBody[negotiation.OfferView](t, rr); accepted.Status != models.NegotiationAccepted {
		t.Fatalf("accepted status = %q, want %q", accepted.Status, models.NegotiationAccepted)
	}

	rr = ts.do(t, http.MethodPost, "/api/offers/"+offer.ID+"/reject", seller.AccessToken, nil)
	expectError(t, rr, http.StatusConflict, constants.ErrCodeIllegalState)

	rr = ts.do(t, http.MethodGet, "/api/products/"+product.ID, bob.AccessToken, nil)
	sold := decodeBody[models.Product](t, rr)
	if sold.Status != models.ProductSold || sold.BuyerID == nil || *sold.BuyerID != offer.OfferedByID {
		t.Fatalf("product = %+v, want SOLD to bob", sold)
	}

	rr = ts.do(t, http.MethodGet, "/api/chats/"+chat.ID+"/messages", bob.AccessToken, nil)
	messages := decodeBody[[]models.ChatMessage](t, rr)
	if len(messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(messages))
	}

	rr = ts.do(t, http.MethodGet, "/api/chats/"+chat.ID+"/messages", eve.AccessToken, nil)
	expectError(t, rr, http.StatusConflict, constants.ErrCodeIllegalState)

	rr = ts.do(t, http.MethodGet, "/api/products/missing", bob.AccessToken, nil)
	expectError(t, rr, http.StatusNotFound, constants.ErrCodeNotFound)
}

func TestRejectOfferWithReason(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "seller")
	ts.createUser(t, "bob")
	seller := ts.login(t, "/api/auth/login", "seller")
	bob := ts.login(t, "/api/auth/login", "bob")

	rr := ts.do(t, http.MethodPost, "/api/products", seller.AccessToken, `{"title":"Lamp","price":40,"negotiable":true}`)
	product := decodeBody[models.Product](t, rr)
	rr = ts.do(t, http.MethodPost, "/api/products/"+product.ID+"/chats", bob.AccessToken, nil)
	chat := decodeBody[models.Chat](t, rr)
	rr = ts.do(t, http.MethodPost, "/api/chats/"+chat.ID+"/offers", bob.AccessToken, `{"price":"30"}`)
	offer := decodeBody[negotiation.OfferView](t, rr)

	rr = ts.do(t, http.MethodPost, "/api/offers/"+offer.ID+"/reject", seller.AccessToken, RejectOfferRequest{Reason: "too low"})
	if rr.Code != http.StatusOK {
		t.Fatalf("reject status = %d, want %d, body=%s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if rejected := decodeBody[negotiation.OfferView](t, rr); rejected.Status != models.NegotiationRejected {
		t.Fatalf("rejected status = %q, want %q", rejected.Status, models.NegotiationRejected)
	}

	rr = ts.do(t, http.MethodGet, "/api/chats/"+chat.ID+"/messages", seller.AccessToken, nil)
	messages := decodeBody[[]models.ChatMessage](t, rr)
	if len(messages) != 2 || !strings.HasSuffix(messages[1].Content, "was declined: too low") {
		t.Fatalf("messages = %+v, want a decline message with the reason", messages)
	}
}

func TestAdminModeration(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.createUser(t, "alice")
	ts.createAdmin(t, "root")
	admin := ts.login(t, "/api/auth/admin/login", "root")

	rr := ts.do(t, http.MethodGet, "/api/admin/accounts", admin.AccessToken, nil)
	if list := decodeBody[[]models.Account](t, rr); len(list) != 1 || list[0].ID != alice.ID {
		t.Fatalf("accounts = %+v, want alice only", list)
	}

	rr = ts.do(t, http.MethodPost, "/api/admin/accounts/"+alice.ID+"/lock", admin.AccessToken, nil)
	if locked := decodeBody[models.Account](t, rr); !locked.AccountLocked {
		t.Fatal("accountLocked = false after lock, want true")
	}
	rr = ts.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{UsernameOrEmail: "alice", Password: testPassword})
	expectError(t, rr, http.StatusLocked, constants.ErrCodeAccountLocked)

	rr = ts.do(t, http.MethodPost, "/api/admin/accounts/"+alice.ID+"/unlock", admin.AccessToken, nil)
	if unlocked := decodeBody[models.Account](t, rr); unlocked.AccountLocked {
		t.Fatal("accountLocked = true after unlock, want false")
	}
	user := ts.login(t, "/api/auth/login", "alice")

	rr = ts.do(t, http.MethodPost, "/api/admin/accounts/"+alice.ID+"/enabled", admin.AccessToken, `{}`)
	expectError(t, rr, http.StatusBadRequest, constants.ErrCodeInvalidRequest)

	rr = ts.do(t, http.MethodPost, "/api/admin/accounts/"+alice.ID+"/enabled", admin.AccessToken, `{"enabled":false}`)
	if disabled := decodeBody[models.Account](t, rr); disabled.Enabled {
		t.Fatal("enabled = true after disable, want false")
	}

	rr = ts.do(t, http.MethodPost, "/api/auth/refresh", "", RefreshRequest{RefreshToken: user.RefreshToken})
	expectError(t, rr, http.StatusUnauthorized, constants.ErrCodeAuthFailed)
	rr = ts.do(t, http.MethodGet, "/api/auth/devices", user.AccessToken, nil)
	expectError(t, rr, http.StatusUnauthorized, constants.ErrCodeAuthExpired)

	rr = ts.do(t, http.MethodPost, "/api/admin/accounts/acc_missing/lock", admin.AccessToken, nil)
	expectError(t, rr, http.StatusNotFound, constants.ErrCodeNotFound)
}

func TestDeleteAccountEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "alice")
	user := ts.login(t, "/api/auth/login", "alice")

	rr := ts.do(t, http.MethodDelete, "/api/auth/account", user.AccessToken, DeleteAccountRequest{Password: "wrong-password"})
	expectError(t, rr, http.StatusUnauthorized, constants.ErrCodeAuthFailed)

	rr = ts.do(t, http.MethodDelete, "/api/auth/account", user.AccessToken, DeleteAccountRequest{Password: testPassword})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want %d, body=%s", rr.Code, http.StatusNoContent, rr.Body.String())
	}

	rr = ts.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{UsernameOrEmail: "alice", Password: testPassword})
	expectError(t, rr, http.StatusUnauthorized, constants.ErrCodeAuthFailed)
}

func TestLogoutAllClearsDevices(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "alice")
	rr := ts.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{UsernameOrEmail: "alice", Password: testPassword, RememberDevice: true})
	user := decodeBody[LoginResponse](t, rr)

	rr = ts.do(t, http.MethodPost, "/api/auth/logout-all", user.AccessToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("logout-all status = %d, want %d", rr.Code, http.StatusOK)
	}
	body := decodeBody[map[string]any](t, rr)
	if body["devicesRevoked"] != float64(1) {
		t.Fatalf("devicesRevoked = %v, want 1", body["devicesRevoked"])
	}

	rr = ts.do(t, http.MethodGet, "/api/auth/devices", user.AccessToken, nil)
	if list := decodeBody[[]models.TrustedDevice](t, rr); len(list) != 0 {
		t.Fatalf("devices after logout-all = %d, want 0", len(list))
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", rr.Code, http.StatusOK)
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("X-Content-Type-Options header missing")
	}

	rr = ts.do(t, http.MethodGet, "/metrics", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want %d", rr.Code, http.StatusOK)
	}
	if !strings.Contains(rr.Body.String(), `http_requests_total{method="GET",route="/health",status="200"}`) {
		t.Fatalf("metrics body does not count the /health request:\n%s", rr.Body.String())
	}
}

func TestPasswordResetFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.createUser(t, "grace")

	rr := ts.do(t, http.MethodPost, "/api/auth/forgot-password", "", ForgotPasswordRequest{Email: "nobody@example.com"})
	if rr.Code != http.StatusOK {
		t.Fatalf("forgot-password(unknown) status = %d, want %d, body=%s", rr.Code, http.StatusOK, rr.Body.String())
	}

	rr = ts.do(t, http.MethodPost, "/api/auth/forgot-password", "", ForgotPasswordRequest{Email: "grace@example.com"})
	if rr.Code != http.StatusOK {
		t.Fatalf("forgot-password status = %d, want %d, body=%s", rr.Code, http.StatusOK, rr.Body.String())
	}
	stored, err := ts.accounts.FindByEmail(context.Background(), "grace@example.com")
	if err != nil || stored.PasswordResetToken == nil {
		t.Fatalf("FindByEmail() = %+v, %v, want a reset token", stored, err)
	}

	rr = ts.do(t, http.MethodPost, "/api/auth/reset-password", "", ResetPasswordRequest{Token: "bogus", NewPassword: "brand-new-pass"})
	expectError(t, rr, http.StatusNotFound, constants.ErrCodeNotFound)

	rr = ts.do(t, http.MethodPost, "/api/auth/reset-password", "", ResetPasswordRequest{Token: *stored.PasswordResetToken, NewPassword: "short"})
	expectError(t, rr, http.StatusBadRequest, constants.ErrCodeInvalidRequest)

	rr = ts.do(t, http.MethodPost, "/api/auth/reset-password", "", ResetPasswordRequest{Token: *stored.PasswordResetToken, NewPassword: "brand-new-pass"})
	if rr.Code != http.StatusOK {
		t.Fatalf("reset-password status = %d, want %d, body=%s", rr.Code, http.StatusOK, rr.Body.String())
	}

	rr = ts.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{UsernameOrEmail: "grace", Password: testPassword})
	expectError(t, rr, http.StatusUnauthorized, constants.ErrCodeAuthFailed)

	rr = ts.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{UsernameOrEmail: "grace", Password: "brand-new-pass"})
	if rr.Code != http.StatusOK {
		t.Fatalf("login with new password status = %d, want %d, body=%s", rr.Code, http.StatusOK, rr.Body.String())
	}
}
