package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
	JWTSecret         string        `mapstructure:"JWT_SECRET"`
	JWTIssuer         string        `mapstructure:"JWT_ISSUER"`
	RateLimitRPS      float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int           `mapstructure:"RATE_LIMIT_BURST"`
	Timezone          string        `mapstructure:"TIMEZONE"`
	ReconcileEnabled  bool          `mapstructure:"RECONCILE_ENABLED"`
	ReconcileInterval time.Duration `mapstructure:"RECONCILE_INTERVAL"`
	NotifyQueueSize   int           `mapstructure:"NOTIFY_QUEUE_SIZE"`
	NotifyWorkers     int           `mapstructure:"NOTIFY_WORKERS"`
	NotifySendTimeout time.Duration `mapstructure:"NOTIFY_SEND_TIMEOUT"`
	IdentityCacheSize int           `mapstructure:"IDENTITY_CACHE_SIZE"`
	IdentityCacheTTL  time.Duration `mapstructure:"IDENTITY_CACHE_TTL"`
	MigrationsDir     string        `mapstructure:"MIGRATIONS_DIR"`
	SendGridAPIKey    string        `mapstructure:"SENDGRID_API_KEY"`
	SendGridFromEmail string        `mapstructure:"SENDGRID_FROM_EMAIL"`
	SendGridFromName  string        `mapstructure:"SENDGRID_FROM_NAME"`
	TwilioAccountSID  string        `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken   string        `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber  string        `mapstructure:"TWILIO_FROM_NUMBER"`
	AMQPURL           string        `mapstructure:"AMQP_URL"`
	AMQPExchange      string        `mapstructure:"AMQP_EXCHANGE"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "CORS_ORIGINS",
	"JWT_SECRET", "JWT_ISSUER", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "TIMEZONE",
	"RECONCILE_ENABLED", "RECONCILE_INTERVAL",
	"NOTIFY_QUEUE_SIZE", "NOTIFY_WORKERS", "NOTIFY_SEND_TIMEOUT",
	"IDENTITY_CACHE_SIZE", "IDENTITY_CACHE_TTL", "MIGRATIONS_DIR",
	"SENDGRID_API_KEY", "SENDGRID_FROM_EMAIL", "SENDGRID_FROM_NAME",
	"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_FROM_NUMBER",
	"AMQP_URL", "AMQP_EXCHANGE",
}

// LoadEnvFile exports the variables in path into the process environment
// without overriding ones that are already set.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("JWT_ISSUER", "booking")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("TIMEZONE", "UTC")
	v.SetDefault("RECONCILE_ENABLED", true)
	v.SetDefault("RECONCILE_INTERVAL", "15m")
	v.SetDefault("NOTIFY_QUEUE_SIZE", 1024)
	v.SetDefault("NOTIFY_WORKERS", 4)
	v.SetDefault("NOTIFY_SEND_TIMEOUT", "2s")
	v.SetDefault("IDENTITY_CACHE_SIZE", 1024)
	v.SetDefault("IDENTITY_CACHE_TTL", "10m")
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("SENDGRID_FROM_NAME", "Booking")
	v.SetDefault("AMQP_EXCHANGE", "booking.events")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// A missing .env is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
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

// Location resolves TIMEZONE. It is the zone "today" and "now" are taken in
// for listings and reconciliation.
func (c *Config) Location() (*time.Location, error) {
	name := c.Timezone
	if name == "" {
		name = "UTC"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE %q: %w", name, err)
	}
	return loc, nil
}

// EmailEnabled reports whether SendGrid delivery is configured.
func (c *Config) EmailEnabled() bool {
	return c.SendGridAPIKey != "" && c.SendGridFromEmail != ""
}

// SMSEnabled reports whether Twilio delivery is configured.
func (c *Config) SMSEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFromNumber != ""
}

// BrokerEnabled reports whether events are also published to AMQP.
func (c *Config) BrokerEnabled() bool {
	return c.AMQPURL != ""
}

// Validate checks that the configuration is safe to run. Outside development
// a JWT secret is mandatory so bearer tokens are actually verified, and
// production refuses a wildcard CORS origin.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when ENV=%q", c.Env)
	}
	if c.ReconcileInterval < time.Minute {
		return fmt.Errorf("RECONCILE_INTERVAL must be at least 1m, got %s", c.ReconcileInterval)
	}
	if c.NotifyWorkers < 1 {
		return fmt.Errorf("NOTIFY_WORKERS must be at least 1, got %d", c.NotifyWorkers)
	}
	if c.NotifyQueueSize < 1 {
		return fmt.Errorf("NOTIFY_QUEUE_SIZE must be at least 1, got %d", c.NotifyQueueSize)
	}
	if c.IdentityCacheTTL < 0 {
		return fmt.Errorf("IDENTITY_CACHE_TTL must not be negative, got %s", c.IdentityCacheTTL)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.IsProduction() {
		for _, o := range c.CORSOrigins {
			if strings.TrimSpace(o) == "*" {
				return fmt.Errorf("CORS_ORIGINS may not contain * when ENV=production")
			}
		}
	}
	return nil
}
