// Package seeders holds the default data the shop starts with.
package seeders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/frahmantamala/repairshop/internal/auth"
	"github.com/frahmantamala/repairshop/internal/migration"
)

const (
	DefaultAdminEmail    = "admin@example.com"
	DefaultAdminName     = "Administrator"
	DefaultAdminPassword = "change-me-now"
)

// Options carries the values seeders read from the environment.
type Options struct {
	AdminEmail    string
	AdminName     string
	AdminPassword string
	// NotifyEmail defaults to AdminEmail.
	NotifyEmail string
	BCryptCost  int
}

func (o Options) withDefaults() Options {
	if o.AdminEmail == "" {
		o.AdminEmail = DefaultAdminEmail
	}
	if o.AdminName == "" {
		o.AdminName = DefaultAdminName
	}
	if o.AdminPassword == "" {
		o.AdminPassword = DefaultAdminPassword
	}
	if o.NotifyEmail == "" {
		o.NotifyEmail = o.AdminEmail
	}
	return o
}

// Units returns every built-in seeder.
func Units(opts Options) []migration.Unit {
	opts = opts.withDefaults()
	return []migration.Unit{
		migration.NewUnit("20240701001000_seed_service_types", seedServiceTypes),
		migration.NewUnit("20240701002000_seed_settings", func(ctx context.Context, tx *migration.Tx) error {
			return seedSettings(ctx, tx, opts)
		}),
		migration.NewUnit("20240702000000_seed_auth", func(ctx context.Context, tx *migration.Tx) error {
			return seedAuth(ctx, tx, opts)
		}),
	}
}

func Registry(opts Options) (*migration.Registry, error) {
	return migration.NewRegistry(Units(opts)...)
}

func tableExists(ctx context.Context, tx *migration.Tx, table string) (bool, error) {
	var exists bool
	err := tx.GetContext(ctx, &exists, tx.Rebind(`SELECT to_regclass(?) IS NOT NULL`), table)
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", table, err)
	}
	return exists, nil
}

type serviceType struct {
	name string
	sort int
}

var defaultServiceTypes = []serviceType{
	{"General Diagnostics", 10},
	{"Brake Service", 20},
	{"AC Service", 30},
}

// seedServiceTypes fills an empty service type catalogue. The table belongs
// to the estimates module; without it there is nothing to do.
func seedServiceTypes(ctx context.Context, tx *migration.Tx) error {
	table := tx.Table("service_types")
	exists, err := tableExists(ctx, tx, table)
	if err != nil || !exists {
		return err
	}

	var count int
	if err := tx.GetContext(ctx, &count, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	insert := tx.Rebind(fmt.Sprintf(
		`INSERT INTO %s (name, is_active, sort_order, created_at) VALUES (?, TRUE, ?, NOW())`, table))
	for _, st := range defaultServiceTypes {
		if _, err := tx.ExecContext(ctx, insert, st.name, st.sort); err != nil {
			return fmt.Errorf("inserting service type %q: %w", st.name, err)
		}
	}
	return nil
}

const defaultTermsHTML = `<h3>Terms & Conditions</h3><p><strong>Please read:</strong> Estimates are based on provided information and initial inspection; final pricing may vary after diagnostics.</p>`

type option struct {
	name  string
	value string
}

func defaultSettings(opts Options) []option {
	return []option{
		{"arm_re_terms_html", defaultTermsHTML},
		{"arm_re_notify_email", opts.NotifyEmail},
		{"arm_re_labor_rate", "125"},
		{"arm_re_tax_rate", "0"},
		{"arm_re_tax_apply", "parts_labor"},
		{"arm_re_callout_default", "0"},
		{"arm_re_mileage_rate_default", "0"},
	}
}

// seedSettings adds shop defaults to the host's options table, leaving any
// option that is already set alone.
func seedSettings(ctx context.Context, tx *migration.Tx, opts Options) error {
	table := tx.HostTable("options")
	exists, err := tableExists(ctx, tx, table)
	if err != nil || !exists {
		return err
	}

	count := tx.Rebind(fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE option_name = ?`, table))
	insert := tx.Rebind(fmt.Sprintf(
		`INSERT INTO %s (option_name, option_value, autoload) VALUES (?, ?, 'yes')`, table))

	for _, opt := range defaultSettings(opts) {
		var n int
		if err := tx.GetContext(ctx, &n, count, opt.name); err != nil {
			return err
		}
		if n > 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, insert, opt.name, opt.value); err != nil {
			return fmt.Errorf("inserting option %s: %w", opt.name, err)
		}
	}
	return nil
}

// seedAuth makes sure an administrator can log in on a fresh install.
func seedAuth(ctx context.Context, tx *migration.Tx, opts Options) error {
	roleID, err := ensureRole(ctx, tx, "Administrator", "admin")
	if err != nil {
		return err
	}
	if err := ensureCapability(ctx, tx, roleID, auth.CapManageOptions); err != nil {
		return err
	}

	users := tx.Table("users")
	email := auth.NormalizeEmail(opts.AdminEmail)
	var userID int64
	err = tx.GetContext(ctx, &userID,
		tx.Rebind(fmt.Sprintf(`SELECT id FROM %s WHERE LOWER(email) = ? LIMIT 1`, users)), email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	hash, err := auth.HashPassword(opts.AdminPassword, opts.BCryptCost)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(fmt.Sprintf(
		`INSERT INTO %s (email, name, password_hash, role_id, status, created_at) VALUES (?, ?, ?, ?, ?, NOW())`, users)),
		email, opts.AdminName, hash, roleID, string(auth.StatusActive))
	if err != nil {
		return fmt.Errorf("creating admin user: %w", err)
	}
	return nil
}

func ensureRole(ctx context.Context, tx *migration.Tx, name, slug string) (int64, error) {
	roles := tx.Table("roles")
	var id int64
	err := tx.GetContext(ctx, &id,
		tx.Rebind(fmt.Sprintf(`SELECT id FROM %s WHERE slug = ? LIMIT 1`, roles)), slug)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	err = tx.GetContext(ctx, &id, tx.Rebind(fmt.Sprintf(
		`INSERT INTO %s (name, slug, created_at) VALUES (?, ?, NOW()) RETURNING id`, roles)), name, slug)
	if err != nil {
		return 0, fmt.Errorf("creating role %s: %w", slug, err)
	}
	return id, nil
}

func ensureCapability(ctx context.Context, tx *migration.Tx, roleID int64, capability auth.Capability) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(fmt.Sprintf(
		`INSERT INTO %s (role_id, capability, created_at) VALUES (?, ?, NOW()) ON CONFLICT (role_id, capability) DO NOTHING`,
		tx.Table("role_permissions"))), roleID, string(capability))
	if err != nil {
		return fmt.Errorf("granting %s: %w", capability, err)
	}
	return nil
}
