package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/frahmantamala/repairshop/internal/database"
	"github.com/frahmantamala/repairshop/internal/migration"
	"github.com/frahmantamala/repairshop/internal/migration/migrations"
	"github.com/frahmantamala/repairshop/pkg/logger"
	"github.com/pressly/goose/v3/lock"
	"github.com/spf13/cobra"
)

// Advisory lock ids; distinct so a seed run never waits on a migrate run.
const (
	migrateLockID int64 = 0x61726d5f6d6967
	seedLockID    int64 = 0x61726d5f736564
)

var (
	migrateCmd = &cobra.Command{
		RunE:  runMigration,
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Long: `Apply every built-in migration, plus *.sql files from --dir, that is not yet
recorded in <prefix>arm_migrations. Each runs in its own transaction.`,
	}
	migratePending bool
	migrateDir     string
	// noLock is shared by every command that runs units.
	noLock bool
)

func init() {
	migrateCmd.Flags().BoolVar(&migratePending, "pending", false, "list pending migrations without applying them")
	migrateCmd.Flags().StringVarP(&migrateDir, "dir", "d", "", "extra directory of *.sql migrations (default DB_MIGRATIONS_DIR)")
	addLockFlag(migrateCmd)
}

func addLockFlag(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&noLock, "no-lock", false, "skip the advisory lock")
}

func runMigration(cmd *cobra.Command, _ []string) error {
	cfg, err := bootstrap()
	if err != nil {
		return err
	}
	conn, err := openDatabase(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	dir := migrateDir
	if dir == "" {
		dir = cfg.Database.MigrationsDir
	}
	return migrate(cmd.Context(), cmd.OutOrStdout(), conn, dir, migratePending)
}

func migrationSource(dir string) (migration.Source, error) {
	builtin, err := migrations.Registry()
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return builtin, nil
	}
	return migration.Merge(builtin, migration.Dir(os.DirFS(dir), ".")), nil
}

func migrate(ctx context.Context, out io.Writer, conn *database.Connection, dir string, pendingOnly bool) error {
	src, err := migrationSource(dir)
	if err != nil {
		return err
	}
	runner, err := newRunner(conn, migration.Migrations, migrateLockID)
	if err != nil {
		return err
	}
	return runUnits(ctx, out, runner, src, pendingOnly)
}

func newRunner(conn *database.Connection, ledger migration.Ledger, lockID int64) (*migration.Runner, error) {
	opts, err := runnerOptions(ledger, lockID, !noLock)
	if err != nil {
		return nil, err
	}
	return migration.NewRunner(conn.SQL, conn.Prefix, ledger, opts...), nil
}

func runnerOptions(ledger migration.Ledger, lockID int64, useLock bool) ([]migration.Option, error) {
	opts := []migration.Option{migration.WithLogger(logger.LoggerWrapper())}
	if useLock {
		locker, err := lock.NewPostgresSessionLocker(lock.WithLockID(lockID))
		if err != nil {
			return nil, fmt.Errorf("creating %s lock: %w", ledger.Kind, err)
		}
		opts = append(opts, migration.WithLocker(locker))
	}
	return opts, nil
}

// pendingLister is the part of *migration.Runner runUnits needs.
type pendingLister interface {
	Pending(ctx context.Context, src migration.Source) ([]string, error)
	RunPending(ctx context.Context, src migration.Source) ([]string, error)
}

func runUnits(ctx context.Context, out io.Writer, r pendingLister, src migration.Source, pendingOnly bool) error {
	if pendingOnly {
		ids, err := r.Pending(ctx, src)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Fprintln(out, "nothing pending")
			return nil
		}
		for _, id := range ids {
			fmt.Fprintln(out, "pending", id)
		}
		return nil
	}

	applied, err := r.RunPending(ctx, src)
	for _, id := range applied {
		fmt.Fprintln(out, "applied", id)
	}
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintln(out, "nothing to do")
	}
	return nil
}
