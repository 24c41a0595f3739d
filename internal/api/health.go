package api

import (
	"context"
	"net/http"
	"time"
)

const healthPingTimeout = 2 * time.Second

type pinger interface {
	PingContext(ctx context.Context) error
}

type connectionCounter interface {
	ConnectionCount() int
}

// HealthHandler reports database reachability and live websocket sessions.
type HealthHandler struct {
	database pinger
	sockets  connectionCounter
}

func NewHealthHandler(database pinger, sockets connectionCounter) *HealthHandler {
	return &HealthHandler{database: database, sockets: sockets}
}

func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()

	status := http.StatusOK
	result := "ok"
	dbStatus := "ok"
	if err := h.database.PingContext(ctx); err != nil {
		status = http.StatusServiceUnavailable
		result = "degraded"
		dbStatus = "error"
	}

	body := map[string]any{
		"status": result,
		"checks": map[string]string{
			"database": dbStatus,
		},
	}
	if h.sockets != nil {
		body["websocketConnections"] = h.sockets.ConnectionCount()
	}
	writeJSON(w, status, body)
}
