package authcore

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/campusid/authcore/token"
)

// ConfigFromEnv builds a [Config] from AUTHCORE_* environment variables,
// starting from the defaults. Durations use Go syntax ("15m", "720h").
//
// Key material loads from either a file path (TOKEN_PRIVATE_KEY_FILE,
// TOKEN_PUBLIC_KEY_FILE) or inline base64 (TOKEN_PRIVATE_KEY,
// TOKEN_PUBLIC_KEY); the file wins when both are set.
func ConfigFromEnv() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("authcore")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := defaultConfig()

	v.SetDefault("token.access_ttl", cfg.Token.AccessTTL)
	v.SetDefault("token.refresh_ttl", cfg.Token.RefreshTTL)
	v.SetDefault("token.signing_method", string(cfg.Token.SigningMethod))
	v.SetDefault("token.issuer", cfg.Token.Issuer)
	v.SetDefault("token.audience", cfg.Token.Audience)
	v.SetDefault("token.leeway", cfg.Token.Leeway)
	v.SetDefault("session.idle_ttl", cfg.Session.IdleTTL)
	v.SetDefault("lockout.threshold", cfg.Lockout.Threshold)
	v.SetDefault("lockout.lock_for", cfg.Lockout.LockFor)
	v.SetDefault("login.ttl", cfg.Login.TTL)
	v.SetDefault("login.max_attempts", cfg.Login.MaxAttempts)
	v.SetDefault("login.rate_ceiling", cfg.Login.RateCeiling)
	v.SetDefault("login.rate_window", cfg.Login.RateWindow)
	v.SetDefault("reset.ttl", cfg.Reset.TTL)
	v.SetDefault("reset.max_attempts", cfg.Reset.MaxAttempts)
	v.SetDefault("reset.rate_ceiling", cfg.Reset.RateCeiling)
	v.SetDefault("reset.rate_window", cfg.Reset.RateWindow)
	v.SetDefault("password.memory", cfg.Password.Memory)
	v.SetDefault("password.time", cfg.Password.Time)
	v.SetDefault("password.parallelism", int(cfg.Password.Parallelism))
	v.SetDefault("audit.enabled", cfg.Audit.Enabled)
	v.SetDefault("audit.queue_size", cfg.Audit.QueueSize)
	v.SetDefault("audit.drop_if_full", cfg.Audit.DropIfFull)
	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.latency_histograms", cfg.Metrics.EnableLatencyHistograms)

	cfg.Token.AccessTTL = v.GetDuration("token.access_ttl")
	cfg.Token.RefreshTTL = v.GetDuration("token.refresh_ttl")
	cfg.Token.SigningMethod = token.SigningMethod(v.GetString("token.signing_method"))
	cfg.Token.Issuer = v.GetString("token.issuer")
	cfg.Token.Audience = v.GetString("token.audience")
	cfg.Token.Leeway = v.GetDuration("token.leeway")
	cfg.Session.IdleTTL = v.GetDuration("session.idle_ttl")
	cfg.Lockout.Threshold = v.GetInt("lockout.threshold")
	cfg.Lockout.LockFor = v.GetDuration("lockout.lock_for")
	cfg.Login.TTL = v.GetDuration("login.ttl")
	cfg.Login.MaxAttempts = v.GetInt("login.max_attempts")
	cfg.Login.RateCeiling = v.GetInt("login.rate_ceiling")
	cfg.Login.RateWindow = v.GetDuration("login.rate_window")
	cfg.Reset.TTL = v.GetDuration("reset.ttl")
	cfg.Reset.MaxAttempts = v.GetInt("reset.max_attempts")
	cfg.Reset.RateCeiling = v.GetInt("reset.rate_ceiling")
	cfg.Reset.RateWindow = v.GetDuration("reset.rate_window")
	cfg.Password.Memory = v.GetUint32("password.memory")
	cfg.Password.Time = v.GetUint32("password.time")
	cfg.Password.Parallelism = uint8(v.GetInt("password.parallelism"))
	cfg.Audit.Enabled = v.GetBool("audit.enabled")
	cfg.Audit.QueueSize = v.GetInt("audit.queue_size")
	cfg.Audit.DropIfFull = v.GetBool("audit.drop_if_full")
	cfg.Metrics.Enabled = v.GetBool("metrics.enabled")
	cfg.Metrics.EnableLatencyHistograms = v.GetBool("metrics.latency_histograms")

	var err error
	if cfg.Token.PrivateKey, err = loadKeyMaterial(v, "token.private_key"); err != nil {
		return Config{}, err
	}
	if cfg.Token.PublicKey, err = loadKeyMaterial(v, "token.public_key"); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadKeyMaterial(v *viper.Viper, key string) ([]byte, error) {
	if path := v.GetString(key + "_file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		return data, nil
	}

	inline := v.GetString(key)
	if inline == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(inline)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return data, nil
}
