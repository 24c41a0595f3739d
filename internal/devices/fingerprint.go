package devices

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// RequestMeta is the request data a fingerprint is derived from.
type RequestMeta struct {
	UserAgent      string
	AcceptLanguage string
	AcceptEncoding string
	ClientIP       string
}

// Fingerprint hashes the request metadata. It is deterministic and unsalted,
// so it recognises a returning client only approximately: clients behind one
// NAT address with identical headers collide, and a client whose IP changes
// is not recognised.
func Fingerprint(meta RequestMeta) string {
	raw := strings.Join([]string{meta.UserAgent, meta.AcceptLanguage, meta.AcceptEncoding, meta.ClientIP}, "|")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// DeviceName gives a display name for a user agent.
func DeviceName(userAgent string) string {
	switch {
	case userAgent == "":
		return "Unknown Device"
	case strings.Contains(userAgent, "iPhone"):
		return "iPhone"
	case strings.Contains(userAgent, "iPad"):
		return "iPad"
	case strings.Contains(userAgent, "Android"):
		return "Android Device"
	case strings.Contains(userAgent, "Windows"):
		return "Windows PC"
	case strings.Contains(userAgent, "Mac"):
		return "Mac"
	case strings.Contains(userAgent, "Linux"):
		return "Linux PC"
	default:
		return "Unknown Device"
	}
}

// DeviceType classifies a user agent as mobile, tablet, desktop or unknown.
func DeviceType(userAgent string) string {
	switch {
	case userAgent == "":
		return "unknown"
	case strings.Contains(userAgent, "Tablet"), strings.Contains(userAgent, "iPad"):
		return "tablet"
	case strings.Contains(userAgent, "Mobile"), strings.Contains(userAgent, "Android"), strings.Contains(userAgent, "iPhone"):
		return "mobile"
	default:
		return "desktop"
	}
}
