package internal

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// DefaultTokenSecret signs tokens when neither APP_KEY nor JWT_SECRET is set.
// It is public knowledge, so production refuses to start with it.
const DefaultTokenSecret = "arm-repair-estimates"

type Config struct {
	Env           string              `mapstructure:"env"`
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Security      SecurityConfig      `mapstructure:"security"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Admin         AdminConfig         `mapstructure:"admin"`
}

// ServerConfig.TrustProxyHeaders keys rate limiting on X-Forwarded-For
// instead of the peer address. Enable it only behind a proxy that overwrites
// the header.
type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
	TrustProxyHeaders bool          `mapstructure:"trust_proxy_headers"`
}

// DatabaseConfig carries the raw DB_* values; database.FromEnv owns the
// defaults and normalization.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Prefix          string        `mapstructure:"prefix"`
	Charset         string        `mapstructure:"charset"`
	Collate         string        `mapstructure:"collate"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

type SecurityConfig struct {
	AppKey         string        `mapstructure:"app_key"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	CSRFTTL        time.Duration `mapstructure:"csrf_ttl"`
	SessionTTL     time.Duration `mapstructure:"session_ttl"`
	SessionStore   string        `mapstructure:"session_store"`
	BCryptCost     int           `mapstructure:"bcrypt_cost"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

type AdminConfig struct {
	Email    string `mapstructure:"email"`
	Name     string `mapstructure:"name"`
	Password string `mapstructure:"password"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// ----------------- HELPERS -----------------

// Env renders the database section as the DB_* map database.FromEnv reads.
// Empty values are left out so FromEnv applies its defaults.
func (c DatabaseConfig) Env() map[string]string {
	env := map[string]string{}
	put := func(k, v string) {
		if v != "" {
			env[k] = v
		}
	}
	put("DB_HOST", c.Host)
	put("DB_PORT", c.Port)
	put("DB_NAME", c.Name)
	put("DB_USER", c.User)
	put("DB_PASSWORD", c.Password)
	put("DB_PREFIX", c.Prefix)
	put("DB_CHARSET", c.Charset)
	put("DB_COLLATE", c.Collate)
	put("DB_SSLMODE", c.SSLMode)
	if c.MaxOpenConns > 0 {
		env["DB_MAX_OPEN_CONNS"] = strconv.Itoa(c.MaxOpenConns)
	}
	if c.MaxIdleConns > 0 {
		env["DB_MAX_IDLE_CONNS"] = strconv.Itoa(c.MaxIdleConns)
	}
	if c.ConnMaxLifetime > 0 {
		env["DB_CONN_MAX_LIFETIME"] = c.ConnMaxLifetime.String()
	}
	return env
}

// TokenSecret prefers APP_KEY, then JWT_SECRET, then the public default.
// The second return value reports whether the default is in use.
func (c SecurityConfig) TokenSecret() (string, bool) {
	if c.AppKey != "" {
		return c.AppKey, false
	}
	if c.JWTSecret != "" {
		return c.JWTSecret, false
	}
	return DefaultTokenSecret, true
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Security.Validate(c.IsProduction()); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.ReadTimeout > 0 && c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxOpenConns > 0 && c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *SecurityConfig) Validate(production bool) error {
	if _, insecure := c.TokenSecret(); insecure && production {
		return errors.New("APP_KEY or JWT_SECRET must be set in production")
	}
	if c.BCryptCost != 0 && (c.BCryptCost < bcrypt.MinCost || c.BCryptCost > bcrypt.MaxCost) {
		return fmt.Errorf("bcrypt_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	switch c.SessionStore {
	case "", "sql", "memory":
	default:
		return fmt.Errorf("unknown session_store %q", c.SessionStore)
	}
	if c.TokenTTL < 0 || c.CSRFTTL < 0 || c.SessionTTL < 0 {
		return errors.New("ttl values must not be negative")
	}
	return nil
}
