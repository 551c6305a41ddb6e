package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/frahmantamala/repairshop/internal"
	"github.com/frahmantamala/repairshop/internal/database"
	"github.com/frahmantamala/repairshop/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "repairshop",
	Short:         "Repair shop back office",
	Long:          `Authentication, authorization and schema management for the repair shop back office.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// envBindings maps config keys to the environment variables deployments set.
var envBindings = map[string]string{
	"env":                             "APP_ENV",
	"http_server.port":                "PORT",
	"http_server.base_url":            "APP_URL",
	"http_server.allowed_origins":     "CORS_ALLOWED_ORIGINS",
	"http_server.trust_proxy_headers": "TRUST_PROXY_HEADERS",

	"database.host":              "DB_HOST",
	"database.port":              "DB_PORT",
	"database.name":              "DB_NAME",
	"database.user":              "DB_USER",
	"database.password":          "DB_PASSWORD",
	"database.prefix":            "DB_PREFIX",
	"database.charset":           "DB_CHARSET",
	"database.collate":           "DB_COLLATE",
	"database.sslmode":           "DB_SSLMODE",
	"database.max_open_conns":    "DB_MAX_OPEN_CONNS",
	"database.max_idle_conns":    "DB_MAX_IDLE_CONNS",
	"database.conn_max_lifetime": "DB_CONN_MAX_LIFETIME",
	"database.migrations_dir":    "DB_MIGRATIONS_DIR",

	"security.app_key":       "APP_KEY",
	"security.jwt_secret":    "JWT_SECRET",
	"security.session_store": "SESSION_STORE",
	"security.bcrypt_cost":   "BCRYPT_COST",

	"admin.email":    "ADMIN_EMAIL",
	"admin.name":     "ADMIN_NAME",
	"admin.password": "ADMIN_PASSWORD",

	"observability.logging.level":   "LOG_LEVEL",
	"observability.metrics.enabled": "METRICS_ENABLED",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("http_server.port", 8080)
	v.SetDefault("http_server.read_header_timeout", 5*time.Second)
	v.SetDefault("http_server.read_timeout", 15*time.Second)
	v.SetDefault("http_server.write_timeout", 15*time.Second)
	v.SetDefault("http_server.idle_timeout", 60*time.Second)
	v.SetDefault("http_server.shutdown_timeout", 30*time.Second)
	v.SetDefault("http_server.max_body_bytes", 1<<20)
	v.SetDefault("security.csrf_ttl", time.Hour)
	v.SetDefault("security.session_store", "sql")
	v.SetDefault("security.rate_limit_rps", 1.0)
	v.SetDefault("security.rate_limit_burst", 5)
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.path", "/metrics")
}

// loadConfig reads config.yml from path when present, then lets the
// environment override it. A missing file is not an error; containers
// configure through the environment only.
func loadConfig(path string) (*internal.Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.SetEnvPrefix("ENV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg internal.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("error validating config: %w", err)
	}

	return &cfg, nil
}

// bootstrap loads the config and sets up the process logger.
func bootstrap() (*internal.Config, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.Env, cfg.Observability.Logging.Level)
	if _, insecure := cfg.Security.TokenSecret(); insecure {
		logger.LoggerWrapper().Warn("APP_KEY and JWT_SECRET are unset; tokens are signed with the public default secret")
	}
	return cfg, nil
}

func openDatabase(ctx context.Context, cfg *internal.Config) (*database.Connection, error) {
	dbCfg := database.FromEnv(cfg.Database.Env())
	logger.LoggerWrapper().Debug("connecting to database", "target", dbCfg.String())
	return database.Open(ctx, dbCfg)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".", "directory holding config.yml")

	rootCmd.AddCommand(httpServerCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(roleCmd)
}
