package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Unsetenv("DATABASE_URL")
	os.Unsetenv("EXCLUDED_FIELDS")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if cfg.UsesDatabase() {
		t.Error("expected in-memory mode without DATABASE_URL")
	}
	if !cfg.GapFillEnabled {
		t.Error("expected gap-fill enabled by default")
	}
	if cfg.MinConfidence != 0.75 {
		t.Errorf("expected default min confidence 0.75, got %v", cfg.MinConfidence)
	}
	if cfg.CacheTTL() != 5*time.Minute {
		t.Errorf("expected 5m cache ttl, got %v", cfg.CacheTTL())
	}
	if len(cfg.ExcludedFields) != 0 {
		t.Errorf("expected no excluded fields, got %v", cfg.ExcludedFields)
	}
}

func TestLoad_ExcludedFieldsList(t *testing.T) {
	os.Setenv("EXCLUDED_FIELDS", "abha_id, ssn ,,")
	defer os.Unsetenv("EXCLUDED_FIELDS")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.ExcludedFields) != 2 || cfg.ExcludedFields[0] != "abha_id" || cfg.ExcludedFields[1] != "ssn" {
		t.Errorf("unexpected excluded fields: %v", cfg.ExcludedFields)
	}
}

func TestLoad_Timeouts(t *testing.T) {
	os.Setenv("ORACLE_TIMEOUT_MS", "1500")
	defer os.Unsetenv("ORACLE_TIMEOUT_MS")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.OracleTimeout() != 1500*time.Millisecond {
		t.Errorf("expected 1.5s oracle timeout, got %v", cfg.OracleTimeout())
	}
	if cfg.TerminologyTimeout() != 2*time.Second {
		t.Errorf("expected 2s terminology timeout, got %v", cfg.TerminologyTimeout())
	}
}

func TestConfig_Validate(t *testing.T) {
	base := func() *Config {
		return &Config{
			MinConfidence:        0.75,
			CacheTTLSeconds:      60,
			OracleTimeoutMs:      1000,
			TerminologyTimeoutMs: 1000,
			OracleProvider:       "none",
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"confidence above one", func(c *Config) { c.MinConfidence = 1.2 }, true},
		{"zero ttl", func(c *Config) { c.CacheTTLSeconds = 0 }, true},
		{"zero oracle timeout", func(c *Config) { c.OracleTimeoutMs = 0 }, true},
		{"openai without endpoint", func(c *Config) { c.OracleProvider = "openai" }, true},
		{"openai with endpoint", func(c *Config) {
			c.OracleProvider = "openai"
			c.OracleEndpoint = "http://localhost:8080/v1"
		}, false},
		{"anthropic without key", func(c *Config) { c.OracleProvider = "anthropic" }, true},
		{"unknown provider", func(c *Config) { c.OracleProvider = "magic" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDev(t *testing.T) {
	c := &Config{Env: "development"}
	if !c.IsDev() {
		t.Error("expected IsDev() to return true for development")
	}

	c.Env = "production"
	if c.IsDev() {
		t.Error("expected IsDev() to return false for production")
	}
}
