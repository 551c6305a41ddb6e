package database

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultHost      = "127.0.0.1"
	DefaultPort      = 5432
	DefaultPrefix    = "wp_"
	DefaultCharset   = "utf8mb4"
	DefaultCollation = "utf8mb4_unicode_ci"
	DefaultSSLMode   = "disable"
)

// Config describes a database connection. The zero value is not useful,
// build one with FromEnv.
type Config struct {
	Host      string
	Port      int
	Database  string
	User      string
	Password  string
	Prefix    string
	Charset   string
	Collation string
	SSLMode   string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// FromEnv builds a Config from DB_* keys. Missing or malformed values fall
// back to defaults; it never fails.
func FromEnv(env map[string]string) Config {
	get := func(key, def string) string {
		if v := strings.TrimSpace(env[key]); v != "" {
			return v
		}
		return def
	}
	getInt := func(key string, def int) int {
		if v, err := strconv.Atoi(strings.TrimSpace(env[key])); err == nil && v > 0 {
			return v
		}
		return def
	}

	cfg := Config{
		Host:      get("DB_HOST", DefaultHost),
		Port:      getInt("DB_PORT", DefaultPort),
		Database:  get("DB_NAME", ""),
		User:      get("DB_USER", ""),
		Password:  env["DB_PASSWORD"],
		Prefix:    NormalizePrefix(get("DB_PREFIX", DefaultPrefix)),
		Charset:   get("DB_CHARSET", DefaultCharset),
		Collation: get("DB_COLLATE", DefaultCollation),
		SSLMode:   get("DB_SSLMODE", DefaultSSLMode),

		MaxOpenConns: getInt("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns: getInt("DB_MAX_IDLE_CONNS", 5),
	}
	if cfg.MaxIdleConns > cfg.MaxOpenConns {
		cfg.MaxIdleConns = cfg.MaxOpenConns
	}

	cfg.ConnMaxLifetime = 30 * time.Minute
	if d, err := time.ParseDuration(strings.TrimSpace(env["DB_CONN_MAX_LIFETIME"])); err == nil && d > 0 {
		cfg.ConnMaxLifetime = d
	}

	return cfg
}

// NormalizePrefix strips characters that are not safe in an unquoted
// identifier and guarantees exactly one trailing underscore.
func NormalizePrefix(prefix string) string {
	var b strings.Builder
	for _, r := range prefix {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		}
	}
	return strings.TrimRight(b.String(), "_") + "_"
}

// Namespace follows the prefix on every table this service owns, so
// wp_ becomes wp_arm_users next to the host's own wp_options.
const Namespace = "arm_"

// Table returns the name of a table this service owns.
func (c Config) Table(name string) string {
	return c.Prefix + Namespace + name
}

// HostTable returns the name of a table owned by the host application.
func (c Config) HostTable(name string) string {
	return c.Prefix + name
}

// DSN renders a pgx connection URL. The MySQL-style charset names are
// mapped onto the UTF8 client encoding.
func (c Config) DSN() string {
	q := url.Values{}
	q.Set("sslmode", c.SSLMode)
	q.Set("client_encoding", clientEncoding(c.Charset))

	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Database,
		RawQuery: q.Encode(),
	}
	if c.User != "" {
		u.User = url.UserPassword(c.User, c.Password)
	}
	return u.String()
}

// Redacted is DSN with the password masked, for logs and errors.
func (c Config) Redacted() string {
	if c.Password == "" {
		return c.DSN()
	}
	cp := c
	cp.Password = "xxxxx"
	return cp.DSN()
}

func (c Config) String() string {
	return fmt.Sprintf("%s@%s:%d/%s", c.User, c.Host, c.Port, c.Database)
}

func clientEncoding(charset string) string {
	switch strings.ToLower(charset) {
	case "", "utf8", "utf8mb4", "utf-8":
		return "UTF8"
	default:
		return strings.ToUpper(charset)
	}
}
