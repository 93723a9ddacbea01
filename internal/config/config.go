package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string   `mapstructure:"PORT"`
	Env           string   `mapstructure:"ENV"`
	DatabaseURL   string   `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32    `mapstructure:"DB_MIN_CONNS"`
	DefaultTenant string   `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins   []string `mapstructure:"CORS_ORIGINS"`

	JWTSecret     string        `mapstructure:"JWT_SECRET"`
	TokenTTL      time.Duration `mapstructure:"TOKEN_TTL"`
	MigrationsDir string        `mapstructure:"MIGRATIONS_DIR"`

	// PHI encryption. The active key is a 64-hex-char AES-256 key; legacy
	// keys are kept for decryption only, as comma-separated
	// "keyID:version:hexkey" entries.
	PHIEncryptionKey   string `mapstructure:"PHI_ENCRYPTION_KEY"`
	PHIEncryptionKeyID string `mapstructure:"PHI_ENCRYPTION_KEY_ID"`
	PHIKeyVersion      int    `mapstructure:"PHI_KEY_VERSION"`
	PHILegacyKeys      string `mapstructure:"PHI_LEGACY_KEYS"`

	AuditQueueSize int `mapstructure:"AUDIT_QUEUE_SIZE"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	TLSEnabled  bool   `mapstructure:"TLS_ENABLED"`
	TLSCertFile string `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile  string `mapstructure:"TLS_KEY_FILE"`
}

// LegacyKey is one parsed PHI_LEGACY_KEYS entry.
type LegacyKey struct {
	KeyID   string
	Version int
	HexKey  string
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("TOKEN_TTL", "12h")
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("PHI_ENCRYPTION_KEY_ID", "primary")
	v.SetDefault("PHI_KEY_VERSION", 1)
	v.SetDefault("AUDIT_QUEUE_SIZE", 1024)
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("DEFAULT_TENANT")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("TOKEN_TTL")
	v.BindEnv("MIGRATIONS_DIR")
	v.BindEnv("PHI_ENCRYPTION_KEY")
	v.BindEnv("PHI_ENCRYPTION_KEY_ID")
	v.BindEnv("PHI_KEY_VERSION")
	v.BindEnv("PHI_LEGACY_KEYS")
	v.BindEnv("AUDIT_QUEUE_SIZE")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("TLS_ENABLED")
	v.BindEnv("TLS_CERT_FILE")
	v.BindEnv("TLS_KEY_FILE")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ParseLegacyKeys parses PHI_LEGACY_KEYS. The format is comma-separated
// "keyID:version:hexkey" entries, e.g. "primary:1:ab...cd,backup:3:12...ef".
func (c *Config) ParseLegacyKeys() ([]LegacyKey, error) {
	raw := strings.TrimSpace(c.PHILegacyKeys)
	if raw == "" {
		return nil, nil
	}

	var keys []LegacyKey
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("PHI_LEGACY_KEYS entry %q: want keyID:version:hexkey", entry)
		}
		var version int
		if _, err := fmt.Sscanf(parts[1], "%d", &version); err != nil {
			return nil, fmt.Errorf("PHI_LEGACY_KEYS entry %q: bad version: %w", entry, err)
		}
		keys = append(keys, LegacyKey{KeyID: parts[0], Version: version, HexKey: parts[2]})
	}
	return keys, nil
}

// Validate checks that the configuration is safe to run. Production requires
// a JWT secret and a PHI encryption key; refusing to start beats running a
// clinical system with tokens anyone can forge or PHI stored in plaintext.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		if c.IsProduction() {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
	} else if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters, got %d", len(c.JWTSecret))
	}

	if c.IsProduction() && c.PHIEncryptionKey == "" {
		return fmt.Errorf("PHI_ENCRYPTION_KEY is required in production")
	}
	if c.PHIEncryptionKey != "" {
		keyBytes, err := hex.DecodeString(c.PHIEncryptionKey)
		if err != nil {
			return fmt.Errorf("PHI_ENCRYPTION_KEY is not valid hex: %w", err)
		}
		if len(keyBytes) != 32 {
			return fmt.Errorf("PHI_ENCRYPTION_KEY must be 32 bytes (64 hex chars), got %d bytes", len(keyBytes))
		}
		if _, err := c.ParseLegacyKeys(); err != nil {
			return err
		}
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
