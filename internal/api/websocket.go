package api

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"marketplace/internal/auth"
	"marketplace/internal/ws"
)

type WebSocketHandler struct {
	hub            *ws.Hub
	authenticator  Authenticator
	allowedOrigins []string
	upgrader       websocket.Upgrader
	logger         *slog.Logger
}

func NewWebSocketHandler(hub *ws.Hub, authenticator Authenticator, allowedOrigins []string, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &WebSocketHandler{
		hub:            hub,
		authenticator:  authenticator,
		allowedOrigins: allowedOrigins,
		logger:         logger.With("component", "ws_handler"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// ServeWS authenticates the access token from the query string before the
// upgrade, so an unauthenticated socket is never opened.
func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		unauthorized(w, "Missing token")
		return
	}

	principal, err := h.authenticator.Authenticate(r.Context(), token)
	if err != nil {
		unauthorized(w, "Invalid or expired token")
		return
	}
	user, ok := principal.(*auth.UserPrincipal)
	if !ok {
		forbidden(w, "This endpoint is for user accounts")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	ws.NewClient(h.hub, conn, user.ID(), user.Username()).Start()
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return originAllowed(origin, h.allowedOrigins)
}

func originAllowed(origin string, allowed []string) bool {
	if isLoopbackOrigin(origin) {
		return true
	}
	for _, a := range allowed {
		if originMatchesAllowed(origin, a) {
			return true
		}
	}
	return false
}

// originMatchesAllowed compares exactly, or by prefix when allowed ends in "*".
func originMatchesAllowed(origin, allowed string) bool {
	if prefix, ok := strings.CutSuffix(allowed, "*"); ok {
		return strings.HasPrefix(origin, prefix)
	}
	return origin == allowed
}

func isLoopbackOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
