package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"time"

	"marketplace/internal/notify"
)

const (
	smtpTimeout = 30 * time.Second
)

// SMTPService delivers account notifications as plain-text mail.
type SMTPService struct {
	host     string
	port     int
	username string
	password string
	from     string
	baseURL  string
}

func NewSMTPService(host string, port int, username, password, from, baseURL string) *SMTPService {
	return &SMTPService{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		baseURL:  baseURL,
	}
}

func (s *SMTPService) Notify(ctx context.Context, n notify.Notification) error {
	subject, body, err := render(n, s.baseURL)
	if err != nil {
		return err
	}
	return s.send(ctx, n.To, subject, body)
}

func render(n notify.Notification, baseURL string) (subject, body string, err error) {
	name := n.Name
	if name == "" {
		name = "there"
	}

	switch n.Kind {
	case notify.KindSecurityAlert:
		return "Security Alert - Marketplace", fmt.Sprintf(`Hello %s,

%s

If this wasn't you, please reset your password as soon as your account unlocks.

- The Marketplace Team`, name, n.Payload["message"]), nil

	case notify.KindNewDevice:
		return "New Device Login - Marketplace", fmt.Sprintf(`Hello %s,

A new device was trusted for your account:

    Device:     %s
    IP address: %s

If this wasn't you, revoke the device from your account settings.

- The Marketplace Team`, name, n.Payload["deviceName"], n.Payload["ipAddress"]), nil

	case notify.KindPasswordReset:
		return "Password Reset - Marketplace", fmt.Sprintf(`Hello %s,

We received a request to reset your password. Open the link below to choose
a new one:

    %s/reset-password?token=%s

This link expires in 1 hour. If you did not ask for a reset, ignore this email.

- The Marketplace Team`, name, baseURL, n.Payload["token"]), nil

	case notify.KindVerification, notify.KindResendVerification:
		subject := "Verify Your Marketplace Account"
		if n.Kind == notify.KindResendVerification {
			subject = "Email Verification - Marketplace"
		}
		return subject, fmt.Sprintf(`Hello %s,

Please verify your email address by opening the link below:

    %s/verify-email?token=%s

This link expires in 24 hours.

- The Marketplace Team`, name, baseURL, n.Payload["token"]), nil
	}

	return "", "", fmt.Errorf("unknown notification kind %q", n.Kind)
}

func (s *SMTPService) send(ctx context.Context, to, subject, body string) error {
	msg := s.buildMessage(to, subject, body)

	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	ctx, cancel := context.WithTimeout(ctx, smtpTimeout)
	defer cancel()

	dialer := net.Dialer{Timeout: smtpTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connecting to SMTP server: %w", err)
	}

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsCfg := &tls.Config{ServerName: s.host}
		if err := client.StartTLS(tlsCfg); err != nil {
			return fmt.Errorf("STARTTLS: %w", err)
		}
	} else if s.port != 25 && s.port != 1025 {
		return fmt.Errorf("STARTTLS not available on port %d (required for secure auth)", s.port)
	}

	if s.username != "" && s.password != "" {
		auth := smtp.PlainAuth("", s.username, s.password, s.host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication: %w", err)
		}
	}

	if err := client.Mail(s.from); err != nil {
		return fmt.Errorf("SMTP MAIL command: %w", err)
	}

	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("SMTP RCPT command: %w", err)
	}

	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA command: %w", err)
	}

	if _, err := wc.Write([]byte(msg)); err != nil {
		wc.Close()
		return fmt.Errorf("writing email body: %w", err)
	}

	if err := wc.Close(); err != nil {
		return fmt.Errorf("closing email body: %w", err)
	}

	if err := client.Quit(); err != nil {
		slog.Warn("smtp QUIT command failed", "component", "email", "error", err)
	}

	return nil
}

func (s *SMTPService) buildMessage(to, subject, body string) string {
	return fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"utf-8\"\r\n\r\n%s",
		s.from, to, subject, body)
}
