package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/frahmantamala/repairshop/internal/auth"
	authpg "github.com/frahmantamala/repairshop/internal/auth/postgres"
	"github.com/frahmantamala/repairshop/pkg/logger"
	"github.com/spf13/cobra"
)

var roleCmd = &cobra.Command{
	Use:   "role",
	Short: "Manage roles and their capabilities",
}

var roleCreateCmd = &cobra.Command{
	Use:   "create <slug> <name>",
	Short: "Create a role unless it exists",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRoles(cmd, func(ctx context.Context, roles auth.RoleRepositoryAPI) error {
			id, err := roles.EnsureRole(ctx, args[1], args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "role %s has id %d\n", args[0], id)
			return nil
		})
	},
}

var roleGrantCmd = &cobra.Command{
	Use:   "grant <slug> <capability>",
	Short: "Grant a capability to a role",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRoles(cmd, func(ctx context.Context, roles auth.RoleRepositoryAPI) error {
			return grant(ctx, cmd.OutOrStdout(), roles, args[0], args[1])
		})
	},
}

var roleRevokeCmd = &cobra.Command{
	Use:   "revoke <slug> <capability>",
	Short: "Revoke a capability from a role",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRoles(cmd, func(ctx context.Context, roles auth.RoleRepositoryAPI) error {
			return revoke(ctx, cmd.OutOrStdout(), roles, args[0], args[1])
		})
	},
}

func init() {
	roleCmd.AddCommand(roleCreateCmd, roleGrantCmd, roleRevokeCmd)
}

func withRoles(cmd *cobra.Command, fn func(ctx context.Context, roles auth.RoleRepositoryAPI) error) error {
	cfg, err := bootstrap()
	if err != nil {
		return err
	}
	conn, err := openDatabase(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	repo, err := authpg.NewRepository(conn.ORM)
	if err != nil {
		return err
	}
	return fn(cmd.Context(), repo)
}

func grant(ctx context.Context, out io.Writer, roles auth.RoleRepositoryAPI, slug, capability string) error {
	if _, ok := auth.Lookup(capability); !ok {
		logger.From(ctx).Warn("granting an unregistered capability", "capability", capability)
	}
	id, err := roles.FindRoleIDBySlug(ctx, slug)
	if err != nil {
		return fmt.Errorf("role %s: %w", slug, err)
	}
	if err := roles.GrantCapability(ctx, id, capability); err != nil {
		return err
	}
	fmt.Fprintf(out, "granted %s to %s\n", capability, slug)
	return nil
}

func revoke(ctx context.Context, out io.Writer, roles auth.RoleRepositoryAPI, slug, capability string) error {
	id, err := roles.FindRoleIDBySlug(ctx, slug)
	if err != nil {
		return fmt.Errorf("role %s: %w", slug, err)
	}
	if err := roles.RevokeCapability(ctx, id, capability); err != nil {
		return err
	}
	fmt.Fprintf(out, "revoked %s from %s\n", capability, slug)
	return nil
}
