package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Apply migrations, then run seeders",
	Long:  `Prepare a fresh database: every pending migration followed by every pending seeder.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := bootstrap()
		if err != nil {
			return err
		}
		conn, err := openDatabase(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer conn.Close()

		out := cmd.OutOrStdout()
		if err := migrate(cmd.Context(), out, conn, cfg.Database.MigrationsDir, false); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		if err := seed(cmd.Context(), out, conn, cfg, false); err != nil {
			return fmt.Errorf("seeders: %w", err)
		}
		return nil
	},
}

func init() {
	addLockFlag(installCmd)
}
