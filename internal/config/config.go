package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config aggregates all runtime settings.
type Config struct {
	App       AppConfig       `envPrefix:"AUTH_"`
	HTTP      HTTPConfig      `envPrefix:"AUTH_HTTP_"`
	Database  DatabaseConfig  `envPrefix:"AUTH_DB_"`
	Redis     RedisConfig     `envPrefix:"AUTH_REDIS_"`
	Session   SessionConfig   `envPrefix:"AUTH_SESSION_"`
	Token     TokenConfig     `envPrefix:"AUTH_TOKEN_"`
	Security  SecurityConfig  `envPrefix:"AUTH_SECURITY_"`
	Providers ProvidersConfig `envPrefix:"AUTH_PROVIDERS_"`
}

type AppConfig struct {
	Environment string `env:"ENV" envDefault:"development"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"oauth2-provider"`
	BaseURL     string `env:"BASE_URL" envDefault:"http://localhost:4101"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

type HTTPConfig struct {
	Host              string        `env:"HOST" envDefault:"0.0.0.0"`
	Port              int           `env:"PORT" envDefault:"4101"`
	ReadTimeout       time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	IdleTimeout       time.Duration `env:"IDLE_TIMEOUT" envDefault:"120s"`
	ReadHeaderTimeout time.Duration `env:"READ_HEADER_TIMEOUT" envDefault:"5s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"25s"`
	TLSCertFile       string        `env:"TLS_CERT_FILE"`
	TLSKeyFile        string        `env:"TLS_KEY_FILE"`
	AllowedOrigins    []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
}

// Supported database drivers.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

type DatabaseConfig struct {
	Driver          string        `env:"DRIVER" envDefault:"sqlite"`
	URL             string        `env:"URL" envDefault:"file:oauth2.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"30m"`
	RunMigrations   bool          `env:"RUN_MIGRATIONS" envDefault:"true"`
}

type RedisConfig struct {
	Addr      string `env:"ADDR" envDefault:"127.0.0.1:6379"`
	Password  string `env:"PASSWORD"`
	DB        int    `env:"DB" envDefault:"0"`
	EnableTLS bool   `env:"ENABLE_TLS" envDefault:"false"`
	Namespace string `env:"NAMESPACE" envDefault:"auth"`
}

// Supported session backends.
const (
	SessionBackendRedis  = "redis"
	SessionBackendMemory = "memory"
)

type SessionConfig struct {
	Backend      string        `env:"BACKEND" envDefault:"memory"`
	TTL          time.Duration `env:"TTL" envDefault:"12h"`
	CookieName   string        `env:"COOKIE_NAME" envDefault:"oauth2_session"`
	CookieSecure bool          `env:"COOKIE_SECURE" envDefault:"false"`
}

type TokenConfig struct {
	AccessTokenTTL       time.Duration `env:"ACCESS_TTL" envDefault:"1h"`
	RefreshTokenTTL      time.Duration `env:"REFRESH_TTL" envDefault:"720h"`
	AuthorizationCodeTTL time.Duration `env:"CODE_TTL" envDefault:"10m"`
	DefaultScopes        []string      `env:"DEFAULT_SCOPES" envSeparator:"," envDefault:"profile"`
}

type SecurityConfig struct {
	PasswordMinLength int           `env:"PASSWORD_MIN_LENGTH" envDefault:"8"`
	Argon2Time        uint32        `env:"ARGON2_TIME" envDefault:"3"`
	Argon2Memory      uint32        `env:"ARGON2_MEMORY" envDefault:"65536"`
	Argon2Threads     uint8         `env:"ARGON2_THREADS" envDefault:"2"`
	Argon2KeyLength   uint32        `env:"ARGON2_KEY_LENGTH" envDefault:"32"`
	StateSecret       string        `env:"STATE_SECRET"`
	ContinuationTTL   time.Duration `env:"CONTINUATION_TTL" envDefault:"15m"`
}

type ProvidersConfig struct {
	Google GoogleProviderConfig `envPrefix:"GOOGLE_"`
}

type GoogleProviderConfig struct {
	Enabled        bool          `env:"ENABLED" envDefault:"false"`
	ClientID       string        `env:"CLIENT_ID"`
	ClientSecret   string        `env:"CLIENT_SECRET"`
	RedirectURL    string        `env:"REDIRECT_URL"`
	AllowedDomains []string      `env:"ALLOWED_DOMAINS" envSeparator:","`
	Timeout        time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

// Load parses environment variables into Config and performs validation.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that env tags cannot express.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("AUTH_DB_DRIVER must be %q or %q", DriverPostgres, DriverSQLite)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("AUTH_DB_URL is required")
	}

	switch c.Session.Backend {
	case SessionBackendRedis, SessionBackendMemory:
	default:
		return fmt.Errorf("AUTH_SESSION_BACKEND must be %q or %q", SessionBackendRedis, SessionBackendMemory)
	}

	if c.Security.StateSecret == "" {
		return fmt.Errorf("AUTH_SECURITY_STATE_SECRET is required")
	}
	if c.Token.AccessTokenTTL <= 0 || c.Token.AuthorizationCodeTTL <= 0 {
		return fmt.Errorf("AUTH_TOKEN_ACCESS_TTL and AUTH_TOKEN_CODE_TTL must be positive")
	}

	if c.Providers.Google.Enabled {
		if c.Providers.Google.ClientID == "" || c.Providers.Google.ClientSecret == "" || c.Providers.Google.RedirectURL == "" {
			return fmt.Errorf("google oauth requires CLIENT_ID, CLIENT_SECRET, and REDIRECT_URL")
		}
	}

	return nil
}
