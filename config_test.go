package authcore

import (
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := defaultConfig().Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestConfigValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero idle ttl", func(c *Config) { c.Session.IdleTTL = 0 }},
		{"idle shorter than refresh", func(c *Config) { c.Session.IdleTTL = time.Hour }},
		{"zero lockout threshold", func(c *Config) { c.Lockout.Threshold = 0 }},
		{"zero lockout duration", func(c *Config) { c.Lockout.LockFor = 0 }},
		{"zero login code ttl", func(c *Config) { c.Login.TTL = 0 }},
		{"zero reset ceiling", func(c *Config) { c.Reset.RateCeiling = 0 }},
		{"zero audit queue", func(c *Config) { c.Audit.QueueSize = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
}

func TestCloneConfigDetachesKeyMaterial(t *testing.T) {
	cfg := defaultConfig()
	cfg.Token.PrivateKey = []byte("secret-key-material")
	cfg.Token.PublicKey = []byte("public-key-material")

	clone := cloneConfig(cfg)
	cfg.Token.PrivateKey[0] = 'X'
	cfg.Token.PublicKey[0] = 'X'

	if clone.Token.PrivateKey[0] == 'X' || clone.Token.PublicKey[0] == 'X' {
		t.Fatal("clone must not share key backing arrays")
	}
}

func TestConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("AUTHCORE_TOKEN_ACCESS_TTL", "7m")
	t.Setenv("AUTHCORE_LOCKOUT_THRESHOLD", "3")
	t.Setenv("AUTHCORE_TOKEN_SIGNING_METHOD", "hs256")
	t.Setenv("AUTHCORE_TOKEN_PRIVATE_KEY", "c2VjcmV0LXNpZ25pbmcta2V5") // base64 "secret-signing-key"
	t.Setenv("AUTHCORE_METRICS_LATENCY_HISTOGRAMS", "true")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Token.AccessTTL != 7*time.Minute {
		t.Fatalf("expected 7m access TTL, got %s", cfg.Token.AccessTTL)
	}
	if cfg.Lockout.Threshold != 3 {
		t.Fatalf("expected threshold 3, got %d", cfg.Lockout.Threshold)
	}
	if string(cfg.Token.PrivateKey) != "secret-signing-key" {
		t.Fatalf("unexpected key %q", cfg.Token.PrivateKey)
	}
	if !cfg.Metrics.EnableLatencyHistograms {
		t.Fatal("expected latency histograms enabled")
	}
	// Untouched settings keep their defaults.
	if cfg.Token.RefreshTTL != 7*24*time.Hour {
		t.Fatalf("unexpected refresh TTL %s", cfg.Token.RefreshTTL)
	}
}

func TestConfigFromEnvRejectsBadKey(t *testing.T) {
	t.Setenv("AUTHCORE_TOKEN_PRIVATE_KEY", "not-base64!!")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatal("expected an error for undecodable key material")
	}
}
