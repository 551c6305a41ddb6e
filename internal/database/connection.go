package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

const driverName = "pgx"

// ConnectionError is returned by Open when the server cannot be reached or
// rejects the handshake. The message never carries the password.
type ConnectionError struct {
	Target string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("unable to connect to the database %s: %v", e.Target, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Connection bundles the two handles the service uses over one pool: sqlx for
// hand-written SQL (migrations, seeders, health) and gorm for repositories.
type Connection struct {
	SQL    *sqlx.DB
	ORM    *gorm.DB
	Prefix string
}

// Open connects, pings and configures the pool. Any failure closes what was
// opened and comes back as *ConnectionError.
func Open(ctx context.Context, cfg Config) (*Connection, error) {
	target := cfg.String()

	db, err := sqlx.Open(driverName, cfg.DSN())
	if err != nil {
		return nil, &ConnectionError{Target: target, Err: fmt.Errorf("opening database: %w", err)}
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &ConnectionError{Target: target, Err: fmt.Errorf("pinging database: %w", err)}
	}

	orm, err := gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), ORMConfig(cfg.Prefix))
	if err != nil {
		_ = db.Close()
		return nil, &ConnectionError{Target: target, Err: fmt.Errorf("initialising orm: %w", err)}
	}

	return &Connection{SQL: db, ORM: orm, Prefix: cfg.Prefix}, nil
}

// ORMConfig is the gorm configuration every handle shares: model tables get
// prefix plus Namespace and driver errors are translated to gorm sentinels.
func ORMConfig(prefix string) *gorm.Config {
	return &gorm.Config{
		NamingStrategy: schema.NamingStrategy{TablePrefix: prefix + Namespace},
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	}
}

func (c *Connection) Ping(ctx context.Context) error {
	return c.SQL.PingContext(ctx)
}

func (c *Connection) Close() error {
	return c.SQL.Close()
}

// IsUniqueViolation reports whether err came from a unique constraint.
func IsUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
