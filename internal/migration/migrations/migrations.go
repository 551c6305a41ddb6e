// Package migrations holds the schema owned by the auth core.
package migrations

import (
	"context"
	"fmt"

	"github.com/frahmantamala/repairshop/internal/migration"
)

// Units returns every built-in schema migration.
func Units() []migration.Unit {
	return []migration.Unit{
		migration.NewUnit("20240702000000_create_auth_tables", createAuthTables),
		migration.NewUnit("20240702000100_create_sessions_table", createSessionsTable),
	}
}

// Registry returns Units as a migration source.
func Registry() (*migration.Registry, error) {
	return migration.NewRegistry(Units()...)
}

func createAuthTables(ctx context.Context, tx *migration.Tx) error {
	roles := tx.Table("roles")
	perms := tx.Table("role_permissions")
	users := tx.Table("users")

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	id BIGSERIAL PRIMARY KEY,
	name VARCHAR(100) NOT NULL,
	slug VARCHAR(100) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NULL,
	CONSTRAINT %[1]s_slug_key UNIQUE (slug)
)`, roles),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	id BIGSERIAL PRIMARY KEY,
	role_id BIGINT NOT NULL REFERENCES %[2]s (id) ON DELETE CASCADE,
	capability VARCHAR(150) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT %[1]s_role_capability_key UNIQUE (role_id, capability)
)`, perms, roles),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_capability_idx ON %[1]s (capability)`, perms),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	id BIGSERIAL PRIMARY KEY,
	email VARCHAR(190) NOT NULL,
	name VARCHAR(190) NOT NULL,
	password_hash VARCHAR(255) NOT NULL,
	role_id BIGINT NOT NULL REFERENCES %[2]s (id),
	status VARCHAR(20) NOT NULL DEFAULT 'invited',
	invitation_token VARCHAR(190) NULL,
	reset_token VARCHAR(190) NULL,
	reset_token_expires TIMESTAMPTZ NULL,
	invited_by BIGINT NULL REFERENCES %[1]s (id) ON DELETE SET NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NULL,
	CONSTRAINT %[1]s_email_key UNIQUE (email),
	CONSTRAINT %[1]s_status_check CHECK (status IN ('active', 'invited', 'disabled'))
)`, users, roles),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_role_idx ON %[1]s (role_id)`, users),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_status_idx ON %[1]s (status)`, users),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %[1]s_invitation_token_key ON %[1]s (invitation_token) WHERE invitation_token IS NOT NULL`, users),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %[1]s_reset_token_key ON %[1]s (reset_token) WHERE reset_token IS NOT NULL`, users),
	}
	return execAll(ctx, tx, stmts)
}

func createSessionsTable(ctx context.Context, tx *migration.Tx) error {
	sessions := tx.Table("sessions")
	return execAll(ctx, tx, []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id VARCHAR(64) PRIMARY KEY,
	data TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
)`, sessions),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_expires_at_idx ON %[1]s (expires_at)`, sessions),
	})
}

func execAll(ctx context.Context, tx *migration.Tx, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
