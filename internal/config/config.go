package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	LogLevel       string   `mapstructure:"LOG_LEVEL"`
	Store          string   `mapstructure:"STORE"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	DBSchema       string   `mapstructure:"DB_SCHEMA"`
	MigrationsDir  string   `mapstructure:"MIGRATIONS_DIR"`
	RedisURL       string   `mapstructure:"REDIS_URL"`
	NotifyStream   string   `mapstructure:"NOTIFY_STREAM"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	DevUserID      string   `mapstructure:"DEV_USER_ID"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`

	CaseCodePrefix string `mapstructure:"CASE_CODE_PREFIX"`

	TrayAlertWarn     time.Duration `mapstructure:"TRAY_ALERT_WARN"`
	TrayAlertCritical time.Duration `mapstructure:"TRAY_ALERT_CRITICAL"`
	CorrectionSLA     time.Duration `mapstructure:"CORRECTION_SLA"`

	DebtHoldURL   string        `mapstructure:"DEBT_HOLD_URL"`
	BloodHoldURL  string        `mapstructure:"BLOOD_HOLD_URL"`
	LegalAuthURL  string        `mapstructure:"LEGAL_AUTH_URL"`
	HoldTimeout   time.Duration `mapstructure:"HOLD_TIMEOUT"`
	HoldRetries   int           `mapstructure:"HOLD_RETRIES"`
	NotifyTimeout time.Duration `mapstructure:"NOTIFY_TIMEOUT"`

	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
}

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE", StorePostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DB_SCHEMA", "mortuary")
	v.SetDefault("NOTIFY_STREAM", "mortuary:events")
	v.SetDefault("DEV_USER_ID", "dev-user")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("CASE_CODE_PREFIX", "SGM")
	v.SetDefault("TRAY_ALERT_WARN", "24h")
	v.SetDefault("TRAY_ALERT_CRITICAL", "48h")
	v.SetDefault("CORRECTION_SLA", "2h")
	v.SetDefault("HOLD_TIMEOUT", "5s")
	v.SetDefault("HOLD_RETRIES", 2)
	v.SetDefault("NOTIFY_TIMEOUT", "10s")
	v.SetDefault("REQUEST_TIMEOUT", "30s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "LOG_LEVEL", "STORE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"DB_SCHEMA", "MIGRATIONS_DIR", "REDIS_URL", "NOTIFY_STREAM", "AUTH_ISSUER", "AUTH_JWKS_URL",
		"AUTH_AUDIENCE", "AUTH_SIGNING_KEY", "DEV_USER_ID", "CORS_ORIGINS", "CASE_CODE_PREFIX",
		"TRAY_ALERT_WARN", "TRAY_ALERT_CRITICAL", "CORRECTION_SLA", "DEBT_HOLD_URL",
		"BLOOD_HOLD_URL", "LEGAL_AUTH_URL", "HOLD_TIMEOUT", "HOLD_RETRIES", "NOTIFY_TIMEOUT",
		"REQUEST_TIMEOUT",
	} {
		_ = v.BindEnv(key)
	}

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

	if cfg.Store == StorePostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when STORE=%s", StorePostgres)
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is safe to run. Outside development
// a token verifier must be configured, the memory store is refused, and every
// release hold source must be reachable: a release gate without its sources
// would authorize releases it cannot check.
func (c *Config) Validate() error {
	if c.Store != StorePostgres && c.Store != StoreMemory {
		return fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}
	if !c.IsDev() {
		if c.AuthIssuer == "" && c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
			return fmt.Errorf("AUTH_ISSUER, AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
		}
		if c.Store == StoreMemory {
			return fmt.Errorf("STORE=memory is only allowed in development")
		}
		if c.DebtHoldURL == "" || c.BloodHoldURL == "" || c.LegalAuthURL == "" {
			return fmt.Errorf("DEBT_HOLD_URL, BLOOD_HOLD_URL and LEGAL_AUTH_URL are required when ENV=%q", c.Env)
		}
	}
	if c.CaseCodePrefix == "" {
		return fmt.Errorf("CASE_CODE_PREFIX must not be empty")
	}
	if c.TrayAlertWarn <= 0 || c.TrayAlertCritical <= 0 {
		return fmt.Errorf("TRAY_ALERT_WARN and TRAY_ALERT_CRITICAL must be positive")
	}
	if c.TrayAlertCritical < c.TrayAlertWarn {
		return fmt.Errorf("TRAY_ALERT_CRITICAL (%s) must not be shorter than TRAY_ALERT_WARN (%s)",
			c.TrayAlertCritical, c.TrayAlertWarn)
	}
	if c.CorrectionSLA <= 0 {
		return fmt.Errorf("CORRECTION_SLA must be positive")
	}
	if c.HoldTimeout <= 0 {
		return fmt.Errorf("HOLD_TIMEOUT must be positive")
	}
	return nil
}
