package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                  string   `mapstructure:"PORT"`
	Env                   string   `mapstructure:"ENV"`
	DatabaseURL           string   `mapstructure:"DATABASE_URL"`
	DBMaxConns            int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns            int32    `mapstructure:"DB_MIN_CONNS"`
	ProfileDir            string   `mapstructure:"PROFILE_DIR"`
	GapFillEnabled        bool     `mapstructure:"GAP_FILL_ENABLED"`
	MinConfidence         float64  `mapstructure:"MIN_CONFIDENCE"`
	ExcludedFields        []string `mapstructure:"EXCLUDED_FIELDS"`
	CacheTTLSeconds       int      `mapstructure:"CACHE_TTL_SECONDS"`
	OracleTimeoutMs       int      `mapstructure:"ORACLE_TIMEOUT_MS"`
	TerminologyTimeoutMs  int      `mapstructure:"TERMINOLOGY_TIMEOUT_MS"`
	OracleProvider        string   `mapstructure:"ORACLE_PROVIDER"`
	OracleEndpoint        string   `mapstructure:"ORACLE_ENDPOINT"`
	OracleModel           string   `mapstructure:"ORACLE_MODEL"`
	OracleAPIKey          string   `mapstructure:"ORACLE_API_KEY"`
	OracleMaxSamples      int      `mapstructure:"ORACLE_MAX_SAMPLES"`
	TerminologyURL        string   `mapstructure:"TERMINOLOGY_URL"`
	AuditBuffer           int      `mapstructure:"AUDIT_BUFFER"`
	AuditRetryMax         int      `mapstructure:"AUDIT_RETRY_MAX"`
	RequestTimeoutSeconds int      `mapstructure:"REQUEST_TIMEOUT_SECONDS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("GAP_FILL_ENABLED", true)
	v.SetDefault("MIN_CONFIDENCE", 0.75)
	v.SetDefault("EXCLUDED_FIELDS", "")
	v.SetDefault("CACHE_TTL_SECONDS", 300)
	v.SetDefault("ORACLE_TIMEOUT_MS", 5000)
	v.SetDefault("TERMINOLOGY_TIMEOUT_MS", 2000)
	v.SetDefault("ORACLE_PROVIDER", "none")
	v.SetDefault("ORACLE_MODEL", "gpt-4o-mini")
	v.SetDefault("ORACLE_MAX_SAMPLES", 3)
	v.SetDefault("AUDIT_BUFFER", 256)
	v.SetDefault("AUDIT_RETRY_MAX", 3)
	v.SetDefault("REQUEST_TIMEOUT_SECONDS", 30)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "PROFILE_DIR",
		"GAP_FILL_ENABLED", "MIN_CONFIDENCE", "EXCLUDED_FIELDS", "CACHE_TTL_SECONDS",
		"ORACLE_TIMEOUT_MS", "TERMINOLOGY_TIMEOUT_MS", "ORACLE_PROVIDER", "ORACLE_ENDPOINT",
		"ORACLE_MODEL", "ORACLE_API_KEY", "ORACLE_MAX_SAMPLES", "TERMINOLOGY_URL",
		"AUDIT_BUFFER", "AUDIT_RETRY_MAX", "REQUEST_TIMEOUT_SECONDS",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// A comma-separated env value arrives as a single element.
	cfg.ExcludedFields = splitList(v.GetString("EXCLUDED_FIELDS"))

	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// UsesDatabase reports whether durable stores are configured. Without a
// DATABASE_URL the server keeps profiles and terminology in memory and
// writes audit records to the log.
func (c *Config) UsesDatabase() bool {
	return c.DatabaseURL != ""
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func (c *Config) OracleTimeout() time.Duration {
	return time.Duration(c.OracleTimeoutMs) * time.Millisecond
}

func (c *Config) TerminologyTimeout() time.Duration {
	return time.Duration(c.TerminologyTimeoutMs) * time.Millisecond
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Validate checks that the configuration is usable before the server starts.
func (c *Config) Validate() error {
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("MIN_CONFIDENCE must be within [0,1], got %v", c.MinConfidence)
	}
	if c.CacheTTLSeconds <= 0 {
		return fmt.Errorf("CACHE_TTL_SECONDS must be positive, got %d", c.CacheTTLSeconds)
	}
	if c.OracleTimeoutMs <= 0 {
		return fmt.Errorf("ORACLE_TIMEOUT_MS must be positive, got %d", c.OracleTimeoutMs)
	}
	if c.TerminologyTimeoutMs <= 0 {
		return fmt.Errorf("TERMINOLOGY_TIMEOUT_MS must be positive, got %d", c.TerminologyTimeoutMs)
	}

	switch c.OracleProvider {
	case "none", "":
	case "openai":
		if c.OracleEndpoint == "" {
			return fmt.Errorf("ORACLE_ENDPOINT is required when ORACLE_PROVIDER is \"openai\"")
		}
	case "anthropic":
		if c.OracleAPIKey == "" {
			return fmt.Errorf("ORACLE_API_KEY is required when ORACLE_PROVIDER is \"anthropic\"")
		}
	default:
		return fmt.Errorf("ORACLE_PROVIDER must be \"none\", \"openai\", or \"anthropic\", got %q", c.OracleProvider)
	}

	return nil
}
