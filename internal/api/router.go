package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marketplace/internal/clock"
	"marketplace/internal/config"
	"marketplace/internal/constants"
	"marketplace/internal/db"
	"marketplace/internal/moderation"
	"marketplace/internal/negotiation"
	"marketplace/internal/session"
	"marketplace/internal/ws"
)

type Deps struct {
	Config     *config.Config
	DB         *db.DB
	Sessions   *session.Service
	Moderation *moderation.Service
	Engine     *negotiation.Engine
	Hub        *ws.Hub
	Clock      clock.Clock
	// Gatherer backs /metrics. Nil means the default registry.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

type Server struct {
	router *chi.Mux
	hub    *ws.Hub
}

func NewServer(d Deps) (*Server, error) {
	cfg := d.Config
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ips, err := NewClientIPResolver(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("configuring client IP resolver: %w", err)
	}

	loginLimit := rateLimit(cfg.Security.LoginRatePerMinute, time.Minute, ips)
	registerLimit := rateLimit(5, time.Minute, ips)
	passwordResetLimit := rateLimit(5, time.Minute, ips)
	refreshLimit := rateLimit(30, time.Minute, ips)
	wsUpgradeLimit := rateLimit(10, time.Minute, ips)

	authHandler := NewAuthHandler(d.Sessions, ips, cfg.Server.SecureCookies)
	offerHandler := NewOfferHandler(d.Engine)
	marketHandler := NewMarketHandler(db.NewProductRepository(d.DB), db.NewChatRepository(d.DB), d.Clock)
	adminHandler := NewAdminHandler(d.Moderation)
	wsHandler := NewWebSocketHandler(d.Hub, d.Sessions, cfg.Server.AllowedOrigins, logger)
	healthHandler := NewHealthHandler(d.DB, d.Hub)

	authMiddleware := NewAuthMiddleware(d.Sessions)

	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(slogRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)
	r.Use(corsMiddleware(cfg.Server.AllowedOrigins))
	r.Use(securityHeadersMiddleware)

	r.Get("/health", healthHandler.Check)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(maxBodySizeMiddleware(constants.MaxRequestBodyBytes))

		r.Route("/auth", func(r chi.Router) {
			r.With(registerLimit).Post("/register", authHandler.Register)
			r.Post("/verify-email", authHandler.VerifyEmail)
			r.With(registerLimit).Post("/resend-verification", authHandler.ResendVerification)
			r.With(passwordResetLimit).Post("/forgot-password", authHandler.ForgotPassword)
			r.With(passwordResetLimit).Post("/reset-password", authHandler.ResetPassword)
			r.With(loginLimit).Post("/login", authHandler.Login)
			r.With(loginLimit).Post("/admin/login", authHandler.AdminLogin)
			r.With(refreshLimit).Post("/refresh", authHandler.Refresh)

			r.Group(func(r chi.Router) {
				r.Use(authMiddleware.RequireAuth, RequireUser)
				r.Post("/logout-all", authHandler.LogoutAll)
				r.Get("/devices", authHandler.Devices)
				r.Delete("/devices/{deviceID}", authHandler.RevokeDevice)
				r.Delete("/account", authHandler.DeleteAccount)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.RequireAuth, RequireUser)

			r.Post("/products", marketHandler.CreateProduct)
			r.Get("/products/{productID}", marketHandler.GetProduct)
			r.Post("/products/{productID}/chats", marketHandler.OpenChat)
			r.Get("/chats/{chatID}/messages", marketHandler.ChatMessages)

			r.Post("/chats/{chatID}/offers", offerHandler.Make)
			r.Get("/chats/{chatID}/offers", offerHandler.ListForChat)
			r.Get("/offers/pending", offerHandler.PendingForSeller)
			r.Post("/offers/{offerID}/accept", offerHandler.Accept)
			r.Post("/offers/{offerID}/reject", offerHandler.Reject)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(authMiddleware.RequireAuth, RequireAdmin)
			r.Get("/accounts", adminHandler.ListAccounts)
			r.Post("/accounts/{id}/lock", adminHandler.Lock)
			r.Post("/accounts/{id}/unlock", adminHandler.Unlock)
			r.Post("/accounts/{id}/enabled", adminHandler.SetEnabled)
		})
	})

	r.With(wsUpgradeLimit).Get("/ws", wsHandler.ServeWS)

	return &Server{
		router: r,
		hub:    d.Hub,
	}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) Shutdown() {
	s.hub.Shutdown()
}

// corsMiddleware reflects allowed origins and refuses the rest. Requests
// without an Origin header are not cross-origin and pass through.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !originAllowed(origin, allowedOrigins) {
				writeError(w, http.StatusForbidden, constants.ErrCodeInvalidRequest, "Origin not allowed")
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Add("Vary", "Origin")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func maxBodySizeMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"remote", r.RemoteAddr,
		)
	})
}
