package models

import "time"

type TrustedDevice struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"-"`
	Token       string    `json:"-"`
	Fingerprint string    `json:"-"`
	Name        string    `json:"deviceName"`
	Type        string    `json:"deviceType"`
	UserAgent   string    `json:"-"`
	IPAddress   string    `json:"ipAddress"`
	CreatedAt   time.Time `json:"createdAt"`
	LastUsedAt  time.Time `json:"lastUsedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Active      bool      `json:"active"`
}

// Trusted reports whether the device is active and not yet expired at now.
func (d *TrustedDevice) Trusted(now time.Time) bool {
	return d.Active && now.Before(d.ExpiresAt)
}
