package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the tunables of the session/dispatch layer. Retry counts and
// backoff constants are deliberately configuration, not hardcoded.
type Config struct {
	// HTTPTimeout bounds a single HTTP attempt.
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	// MaxAttempts is the total attempt budget for retryable failures
	// (429/5xx/transport). The transparent refresh-and-retry on 401 is
	// separate and always exactly one.
	MaxAttempts int `yaml:"max_attempts"`

	// BackoffBase and BackoffCap shape the exponential backoff between
	// retryable attempts: base * 2^(attempt-1), capped.
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffCap  time.Duration `yaml:"backoff_cap"`

	// BackoffJitter is the +/- fraction of random jitter applied to each
	// delay (0 disables jitter, 0.5 means +/-50%).
	BackoffJitter float64 `yaml:"backoff_jitter"`

	// MFAAttempts caps how many times the challenge resolver is asked for a
	// code before the login fails with a ChallengeError.
	MFAAttempts int `yaml:"mfa_attempts"`

	// ExpiresIn is the session lifetime requested at login, in seconds.
	ExpiresIn int `yaml:"expires_in"`

	// ExpirySkew refreshes tokens slightly before their advertised expiry.
	ExpirySkew time.Duration `yaml:"expiry_skew"`

	// CredentialDir is where the file-backed credential store keeps device
	// and refresh tokens.
	CredentialDir string `yaml:"credential_dir"`
}

// Default returns the configuration used when nothing is supplied.
func Default() Config {
	return Config{
		HTTPTimeout:   30 * time.Second,
		MaxAttempts:   3,
		BackoffBase:   500 * time.Millisecond,
		BackoffCap:    10 * time.Second,
		BackoffJitter: 0.5,
		MFAAttempts:   3,
		ExpiresIn:     86400,
		ExpirySkew:    30 * time.Second,
		CredentialDir: defaultCredentialDir(),
	}
}

func defaultCredentialDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tokens"
	}
	return home + "/.tokens"
}

// Load reads a YAML config file and then applies environment overrides. A
// missing file is not an error; defaults are used. A .env file next to the
// process is honored when present.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, err
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	// Best effort; absence of a .env file is fine.
	_ = godotenv.Load()
	cfg.applyEnv()

	cfg.normalize()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("GOBROKER_HTTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.HTTPTimeout = d
		}
	}
	if v := os.Getenv("GOBROKER_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxAttempts = n
		}
	}
	if v := os.Getenv("GOBROKER_BACKOFF_BASE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.BackoffBase = d
		}
	}
	if v := os.Getenv("GOBROKER_BACKOFF_CAP"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.BackoffCap = d
		}
	}
	if v := os.Getenv("GOBROKER_BACKOFF_JITTER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.BackoffJitter = f
		}
	}
	if v := os.Getenv("GOBROKER_MFA_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MFAAttempts = n
		}
	}
	if v := os.Getenv("GOBROKER_EXPIRES_IN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ExpiresIn = n
		}
	}
	if v := os.Getenv("GOBROKER_EXPIRY_SKEW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ExpirySkew = d
		}
	}
	if v := os.Getenv("GOBROKER_CREDENTIAL_DIR"); v != "" {
		c.CredentialDir = v
	}
}

func (c *Config) normalize() {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.MFAAttempts < 1 {
		c.MFAAttempts = 1
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffCap < c.BackoffBase {
		c.BackoffCap = c.BackoffBase
	}
	if c.BackoffJitter < 0 {
		c.BackoffJitter = 0
	}
	if c.BackoffJitter > 1 {
		c.BackoffJitter = 1
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 30 * time.Second
	}
}
