package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Auth        AuthConfig        `yaml:"auth"`
	Security    SecurityConfig    `yaml:"security"`
	Negotiation NegotiationConfig `yaml:"negotiation"`
	Email       EmailConfig       `yaml:"email"`
	Admin       AdminConfig       `yaml:"admin"`
}

type ServerConfig struct {
	Name           string   `yaml:"name"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	BaseURL        string   `yaml:"base_url"`
	LogLevel       string   `yaml:"log_level"`
	TrustedProxies []string `yaml:"trusted_proxies"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	SecureCookies  bool     `yaml:"secure_cookies"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type AuthConfig struct {
	JWTSecret       string        `yaml:"jwt_secret"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
	BcryptCost      int           `yaml:"bcrypt_cost"`
}

// SecurityConfig holds the lockout and device trust knobs.
type SecurityConfig struct {
	MaxFailedAttempts    int           `yaml:"max_failed_attempts"`
	LockDuration         time.Duration `yaml:"lock_duration"`
	MaxTrustedDevices    int           `yaml:"max_trusted_devices"`
	TrustedDeviceTTL     time.Duration `yaml:"trusted_device_ttl"`
	VerificationTokenTTL time.Duration `yaml:"verification_token_ttl"`
	PasswordResetTTL     time.Duration `yaml:"password_reset_ttl"`
	LoginRatePerMinute   int           `yaml:"login_rate_per_minute"`
}

type NegotiationConfig struct {
	DefaultValidityHours int           `yaml:"default_validity_hours"`
	SweepInterval        time.Duration `yaml:"sweep_interval"`
	DeviceSweepInterval  time.Duration `yaml:"device_sweep_interval"`
}

type EmailConfig struct {
	SMTP SMTPConfig `yaml:"smtp"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// Enabled reports whether outbound mail is configured at all.
func (s SMTPConfig) Enabled() bool {
	return s.Host != ""
}

// AdminConfig describes the administrator created on first start.
type AdminConfig struct {
	Username string `yaml:"username"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML, applying env overrides and defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MARKETPLACE_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("MARKETPLACE_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("MARKETPLACE_SMTP_PASSWORD"); v != "" {
		c.Email.SMTP.Password = v
	}
	if v := os.Getenv("MARKETPLACE_ADMIN_PASSWORD"); v != "" {
		c.Admin.Password = v
	}
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}
	if c.Security.MaxFailedAttempts < 1 {
		return fmt.Errorf("security.max_failed_attempts must be positive")
	}
	if c.Security.MaxTrustedDevices < 1 {
		return fmt.Errorf("security.max_trusted_devices must be positive")
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"auth.access_token_ttl", c.Auth.AccessTokenTTL},
		{"auth.refresh_token_ttl", c.Auth.RefreshTokenTTL},
		{"security.lock_duration", c.Security.LockDuration},
		{"security.trusted_device_ttl", c.Security.TrustedDeviceTTL},
		{"security.verification_token_ttl", c.Security.VerificationTokenTTL},
		{"security.password_reset_ttl", c.Security.PasswordResetTTL},
		{"negotiation.sweep_interval", c.Negotiation.SweepInterval},
		{"negotiation.device_sweep_interval", c.Negotiation.DeviceSweepInterval},
	} {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive", d.name)
		}
	}
	if c.Security.LoginRatePerMinute < 1 {
		return fmt.Errorf("security.login_rate_per_minute must be positive")
	}
	if c.Negotiation.DefaultValidityHours < 1 {
		return fmt.Errorf("negotiation.default_validity_hours must be positive")
	}
	if c.Email.SMTP.Enabled() {
		if c.Email.SMTP.Port == 0 {
			return fmt.Errorf("email.smtp.port is required")
		}
		if c.Email.SMTP.From == "" {
			return fmt.Errorf("email.smtp.from is required")
		}
	}
	if c.Admin.Username != "" && len(c.Admin.Password) < 8 {
		return fmt.Errorf("admin.password must be at least 8 characters")
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Name == "" {
		c.Server.Name = "Marketplace"
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = fmt.Sprintf("http://%s:%d", c.Server.Host, c.Server.Port)
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/marketplace.db"
	}
	if c.Auth.AccessTokenTTL == 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL == 0 {
		c.Auth.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if c.Auth.BcryptCost == 0 {
		c.Auth.BcryptCost = 10
	}
	if c.Security.MaxFailedAttempts == 0 {
		c.Security.MaxFailedAttempts = 5
	}
	if c.Security.LockDuration == 0 {
		c.Security.LockDuration = 30 * time.Minute
	}
	if c.Security.MaxTrustedDevices == 0 {
		c.Security.MaxTrustedDevices = 5
	}
	if c.Security.TrustedDeviceTTL == 0 {
		c.Security.TrustedDeviceTTL = 30 * 24 * time.Hour
	}
	if c.Security.VerificationTokenTTL == 0 {
		c.Security.VerificationTokenTTL = 24 * time.Hour
	}
	if c.Security.PasswordResetTTL == 0 {
		c.Security.PasswordResetTTL = time.Hour
	}
	if c.Security.LoginRatePerMinute == 0 {
		c.Security.LoginRatePerMinute = 10
	}
	if c.Negotiation.DefaultValidityHours == 0 {
		c.Negotiation.DefaultValidityHours = 24
	}
	if c.Negotiation.SweepInterval == 0 {
		c.Negotiation.SweepInterval = time.Hour
	}
	if c.Negotiation.DeviceSweepInterval == 0 {
		c.Negotiation.DeviceSweepInterval = time.Hour
	}
	if c.Admin.Username != "" && c.Admin.Email == "" {
		c.Admin.Email = c.Admin.Username + "@localhost"
	}
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
