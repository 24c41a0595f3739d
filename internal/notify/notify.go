// Package notify carries outbound account notifications. Delivery is always
// best-effort: a failed send is logged and never reaches the caller.
package notify

import (
	"context"
	"log/slog"
)

type Kind string

const (
	KindSecurityAlert      Kind = "security_alert"
	KindNewDevice          Kind = "new_device"
	KindVerification       Kind = "verification"
	KindResendVerification Kind = "resend_verification"
	KindPasswordReset      Kind = "password_reset"
)

type Notification struct {
	To      string
	Name    string
	Kind    Kind
	Payload map[string]string
}

// Sink delivers a notification. Implementations may fail.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// Dispatcher wraps a Sink and absorbs its failures.
type Dispatcher struct {
	sink   Sink
	logger *slog.Logger
}

func NewDispatcher(sink Sink, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{sink: sink, logger: logger.With("component", "notify")}
}

// Send hands n to the sink. A nil Dispatcher or sink drops the notification.
func (d *Dispatcher) Send(ctx context.Context, n Notification) {
	if d == nil || d.sink == nil {
		return
	}
	if err := d.sink.Notify(ctx, n); err != nil {
		d.logger.Warn("notification not delivered", "kind", n.Kind, "to", n.To, "error", err)
	}
}

// LogSink writes notifications to the log instead of delivering them.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Notify(_ context.Context, n Notification) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification", "kind", n.Kind, "to", n.To, "payload", n.Payload)
	return nil
}
