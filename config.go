package authgate

import (
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Config carries all tunables of the engine. Zero values are filled in from
// defaultConfig by the builder; Build rejects configurations that cannot
// work.
type Config struct {
	// AppURL is the public base URL embedded in confirmation and reset
	// links, e.g. "https://admin.example.com".
	AppURL string

	JWT      JWTConfig
	Lockout  LockoutConfig
	Tokens   TokenConfig
	Captcha  CaptchaConfig
	Password PasswordConfig
	Audit    AuditConfig
	Metrics  MetricsConfig

	// DefaultRole is assigned to accounts created by Register and
	// GoogleLogin.
	DefaultRole string
}

// JWTConfig configures access-token signing.
type JWTConfig struct {
	Secret    []byte
	AccessTTL time.Duration
	Issuer    string
	Leeway    time.Duration
}

// LockoutStep maps a failure count to the lockout window applied when that
// exact count is reached. Intermediate counts leave the window untouched.
type LockoutStep struct {
	Count    int64
	Duration time.Duration
}

// LockoutConfig configures the per-(email, ip) failed-attempt tracker.
type LockoutConfig struct {
	// CaptchaAfter is the failure count at which the next attempt must
	// solve a captcha.
	CaptchaAfter int64
	// Steps are the exact counts that set a lockout window. Counts beyond
	// the last step keep incrementing without extending the lockout.
	Steps []LockoutStep
	// RetentionTTL bounds how long an idle tracker row survives in Redis.
	// Purely storage hygiene; expiry of the lockout window itself is
	// carried in the row.
	RetentionTTL time.Duration
	RedisPrefix  string
}

// TokenConfig configures the persisted token stores.
type TokenConfig struct {
	RefreshTTL      time.Duration
	ConfirmationTTL time.Duration
	ResetTTL        time.Duration
	RedisPrefix     string
}

// CaptchaConfig configures challenge generation.
type CaptchaConfig struct {
	Length     int
	NoiseCount int
}

// PasswordConfig configures bcrypt hashing.
type PasswordConfig struct {
	Cost int
}

// AuditConfig configures the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events instead of blocking the request path when
	// the buffer is saturated.
	DropIfFull bool
}

// MetricsConfig enables the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL: 60 * time.Minute,
			Issuer:    "authgate",
		},
		Lockout: LockoutConfig{
			CaptchaAfter: 3,
			Steps: []LockoutStep{
				{Count: 5, Duration: 10 * time.Minute},
				{Count: 10, Duration: 30 * time.Minute},
				{Count: 15, Duration: 60 * time.Minute},
				{Count: 20, Duration: 1440 * time.Minute},
			},
			RetentionTTL: 30 * 24 * time.Hour,
			RedisPrefix:  "agl",
		},
		Tokens: TokenConfig{
			RefreshTTL:      7 * 24 * time.Hour,
			ConfirmationTTL: 24 * time.Hour,
			ResetTTL:        time.Hour,
			RedisPrefix:     "agt",
		},
		Captcha: CaptchaConfig{
			Length:     6,
			NoiseCount: 3,
		},
		Password: PasswordConfig{
			Cost: bcrypt.DefaultCost,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		DefaultRole: "user",
	}
}

func validateConfig(cfg Config) error {
	if len(cfg.JWT.Secret) < 32 {
		return errors.New("jwt secret must be at least 32 bytes")
	}
	if cfg.JWT.AccessTTL <= 0 {
		return errors.New("access token ttl must be positive")
	}
	if cfg.JWT.Leeway < 0 || cfg.JWT.Leeway > 2*time.Minute {
		return errors.New("invalid jwt leeway")
	}
	if cfg.Lockout.CaptchaAfter <= 0 {
		return errors.New("lockout captcha threshold must be positive")
	}
	var last int64
	for _, step := range cfg.Lockout.Steps {
		if step.Count <= last {
			return errors.New("lockout steps must have strictly increasing counts")
		}
		if step.Duration <= 0 {
			return errors.New("lockout step duration must be positive")
		}
		last = step.Count
	}
	if cfg.Tokens.RefreshTTL <= 0 || cfg.Tokens.ConfirmationTTL <= 0 || cfg.Tokens.ResetTTL <= 0 {
		return errors.New("token ttls must be positive")
	}
	if cfg.Captcha.Length < 4 || cfg.Captcha.Length > 10 {
		return errors.New("captcha length must be between 4 and 10")
	}
	if cfg.Password.Cost < bcrypt.MinCost || cfg.Password.Cost > bcrypt.MaxCost {
		return errors.New("invalid bcrypt cost")
	}
	if cfg.DefaultRole == "" {
		return errors.New("default role must not be empty")
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.Secret = append([]byte(nil), cfg.JWT.Secret...)
	out.Lockout.Steps = append([]LockoutStep(nil), cfg.Lockout.Steps...)
	return out
}
