package email

import (
	"strings"
	"testing"

	"marketplace/internal/notify"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name        string
		n           notify.Notification
		wantSubject string
		wantBody    string
	}{
		{
			name:        "security alert",
			n:           notify.Notification{Kind: notify.KindSecurityAlert, Name: "Ann", Payload: map[string]string{"message": "Your account was locked."}},
			wantSubject: "Security Alert - Marketplace",
			wantBody:    "Your account was locked.",
		},
		{
			name:        "new device",
			n:           notify.Notification{Kind: notify.KindNewDevice, Payload: map[string]string{"deviceName": "Mac", "ipAddress": "10.0.0.1"}},
			wantSubject: "New Device Login - Marketplace",
			wantBody:    "10.0.0.1",
		},
		{
			name:        "verification",
			n:           notify.Notification{Kind: notify.KindVerification, Payload: map[string]string{"token": "abc"}},
			wantSubject: "Verify Your Marketplace Account",
			wantBody:    "https://market.local/verify-email?token=abc",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject, body, err := render(tt.n, "https://market.local")
			if err != nil {
				t.Fatalf("render() error = %v", err)
			}
			if subject != tt.wantSubject {
				t.Fatalf("render() subject = %q, want %q", subject, tt.wantSubject)
			}
			if !strings.Contains(body, tt.wantBody) {
				t.Fatalf("render() body = %q, want it to contain %q", body, tt.wantBody)
			}
		})
	}
}

func TestRenderUnknownKind(t *testing.T) {
	if _, _, err := render(notify.Notification{Kind: "bogus"}, ""); err == nil {
		t.Fatal("render() error = nil, want error")
	}
}
