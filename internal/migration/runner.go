// Package migration applies schema migrations and data seeders exactly once,
// in identifier order, recording each in a ledger table.
package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/frahmantamala/repairshop/internal/database"
	"github.com/frahmantamala/repairshop/pkg/logger"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3/lock"
)

type Kind string

const (
	KindMigration Kind = "migration"
	KindSeeder    Kind = "seeder"
)

// Ledger names the bookkeeping table of one runner. Table is given without
// prefix or namespace.
type Ledger struct {
	Kind       Kind
	Table      string
	Column     string
	TimeColumn string
}

var (
	Migrations = Ledger{Kind: KindMigration, Table: "migrations", Column: "migration", TimeColumn: "applied_at"}
	Seeders    = Ledger{Kind: KindSeeder, Table: "seeders", Column: "seeder", TimeColumn: "ran_at"}
)

// UnitError is returned when a unit or its ledger insert fails. The unit's
// transaction has been rolled back and no later unit was attempted.
type UnitError struct {
	Kind Kind
	ID   string
	Err  error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Kind, e.ID, e.Err)
}

func (e *UnitError) Unwrap() error { return e.Err }

// Tx is the transaction a unit runs in, with the table prefix in effect.
type Tx struct {
	*sqlx.Tx
	Prefix string
}

// Table returns the full name of a table this service owns.
func (tx *Tx) Table(name string) string {
	return tx.Prefix + database.Namespace + name
}

// HostTable returns the full name of a table owned by the host application.
func (tx *Tx) HostTable(name string) string {
	return tx.Prefix + name
}

// Runner drives one ledger. Two runners over the same database, one per
// ledger, give the migration and seeder pipelines.
type Runner struct {
	db     *sqlx.DB
	prefix string
	ledger Ledger
	locker lock.SessionLocker
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Runner)

// WithLocker serialises runs across processes with a session lock held on
// the runner's connection for the whole run.
func WithLocker(l lock.SessionLocker) Option {
	return func(r *Runner) { r.locker = l }
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewRunner(db *sqlx.DB, prefix string, ledger Ledger, opts ...Option) *Runner {
	r := &Runner{
		db:     db,
		prefix: prefix,
		ledger: ledger,
		now:    time.Now,
		logger: logger.LoggerWrapper(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) table() string {
	return r.prefix + database.Namespace + r.ledger.Table
}

// RunPending applies every unit of src missing from the ledger, each in its
// own transaction together with its ledger row. It stops at the first
// failure and returns the ids applied before it alongside a *UnitError.
func (r *Runner) RunPending(ctx context.Context, src Source) ([]string, error) {
	units, err := src.Units()
	if err != nil {
		return nil, fmt.Errorf("loading %ss: %w", r.ledger.Kind, err)
	}

	var applied []string
	err = r.withConn(ctx, func(conn *sqlx.Conn) error {
		done, err := r.appliedSet(ctx, conn)
		if err != nil {
			return err
		}
		for _, u := range units {
			if done[u.ID()] {
				continue
			}
			if err := r.apply(ctx, conn, u); err != nil {
				return &UnitError{Kind: r.ledger.Kind, ID: u.ID(), Err: err}
			}
			r.logger.InfoContext(ctx, "applied "+string(r.ledger.Kind), "id", u.ID())
			applied = append(applied, u.ID())
		}
		return nil
	})
	return applied, err
}

// Pending lists the ids RunPending would apply, without applying them.
func (r *Runner) Pending(ctx context.Context, src Source) ([]string, error) {
	units, err := src.Units()
	if err != nil {
		return nil, fmt.Errorf("loading %ss: %w", r.ledger.Kind, err)
	}

	var pending []string
	err = r.withConn(ctx, func(conn *sqlx.Conn) error {
		done, err := r.appliedSet(ctx, conn)
		if err != nil {
			return err
		}
		for _, u := range units {
			if !done[u.ID()] {
				pending = append(pending, u.ID())
			}
		}
		return nil
	})
	return pending, err
}

func (r *Runner) withConn(ctx context.Context, fn func(*sqlx.Conn) error) (err error) {
	conn, err := r.db.Connx(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close()

	if r.locker != nil {
		if err := r.locker.SessionLock(ctx, conn.Conn); err != nil {
			return fmt.Errorf("acquiring %s lock: %w", r.ledger.Kind, err)
		}
		defer func() {
			if uerr := r.locker.SessionUnlock(context.WithoutCancel(ctx), conn.Conn); uerr != nil {
				err = errors.Join(err, fmt.Errorf("releasing %s lock: %w", r.ledger.Kind, uerr))
			}
		}()
	}

	if err := r.ensureLedger(ctx, conn); err != nil {
		return err
	}
	return fn(conn)
}

func (r *Runner) ensureLedger(ctx context.Context, conn *sqlx.Conn) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	%s VARCHAR(191) NOT NULL UNIQUE,
	%s TIMESTAMPTZ NOT NULL
)`, r.table(), r.ledger.Column, r.ledger.TimeColumn)
	if _, err := conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("creating %s: %w", r.table(), err)
	}
	return nil
}

func (r *Runner) appliedSet(ctx context.Context, conn *sqlx.Conn) (map[string]bool, error) {
	var ids []string
	q := fmt.Sprintf(`SELECT %s FROM %s`, r.ledger.Column, r.table())
	if err := conn.SelectContext(ctx, &ids, q); err != nil {
		return nil, fmt.Errorf("reading %s: %w", r.table(), err)
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

func (r *Runner) apply(ctx context.Context, conn *sqlx.Conn, u Unit) error {
	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	// A unit may have ended the transaction itself; then there is nothing
	// left to roll back.
	rollback := func() {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			r.logger.WarnContext(ctx, "rollback failed", "id", u.ID(), "error", rerr)
		}
	}

	if err := u.Apply(ctx, &Tx{Tx: tx, Prefix: r.prefix}); err != nil {
		rollback()
		return err
	}

	insert := tx.Rebind(fmt.Sprintf(`INSERT INTO %s (%s, %s) VALUES (?, ?)`,
		r.table(), r.ledger.Column, r.ledger.TimeColumn))
	if _, err := tx.ExecContext(ctx, insert, u.ID(), r.now().UTC()); err != nil {
		rollback()
		return fmt.Errorf("recording %s: %w", u.ID(), err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}
