package cmd

import (
	"context"
	"io"

	"github.com/frahmantamala/repairshop/internal"
	"github.com/frahmantamala/repairshop/internal/database"
	"github.com/frahmantamala/repairshop/internal/migration"
	"github.com/frahmantamala/repairshop/internal/migration/seeders"
	"github.com/spf13/cobra"
)

var (
	seedCmd = &cobra.Command{
		Use:   "seed",
		Short: "Run pending seeders",
		Long: `Run every built-in seeder not yet recorded in <prefix>arm_seeders. The auth
seeder creates the administrator from ADMIN_EMAIL, ADMIN_NAME and ADMIN_PASSWORD.`,
		RunE: runSeed,
	}
	seedPending bool
)

func init() {
	seedCmd.Flags().BoolVar(&seedPending, "pending", false, "list pending seeders without running them")
	addLockFlag(seedCmd)
}

func runSeed(cmd *cobra.Command, _ []string) error {
	cfg, err := bootstrap()
	if err != nil {
		return err
	}
	conn, err := openDatabase(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	return seed(cmd.Context(), cmd.OutOrStdout(), conn, cfg, seedPending)
}

func seederOptions(cfg *internal.Config) seeders.Options {
	return seeders.Options{
		AdminEmail:    cfg.Admin.Email,
		AdminName:     cfg.Admin.Name,
		AdminPassword: cfg.Admin.Password,
		BCryptCost:    cfg.Security.BCryptCost,
	}
}

func seed(ctx context.Context, out io.Writer, conn *database.Connection, cfg *internal.Config, pendingOnly bool) error {
	src, err := seeders.Registry(seederOptions(cfg))
	if err != nil {
		return err
	}
	runner, err := newRunner(conn, migration.Seeders, seedLockID)
	if err != nil {
		return err
	}
	return runUnits(ctx, out, runner, src, pendingOnly)
}
