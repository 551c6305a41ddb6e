package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/frahmantamala/repairshop/internal/auth"
	userdm "github.com/frahmantamala/repairshop/internal/core/datamodel/user"
	"github.com/frahmantamala/repairshop/internal/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository implements auth.RepositoryAPI and auth.RoleRepositoryAPI on
// gorm. Table names carry the prefix configured on the gorm handle.
type Repository struct {
	db    *gorm.DB
	users string
	roles string
}

func NewRepository(db *gorm.DB) (*Repository, error) {
	users, err := tableName(db, &userdm.User{})
	if err != nil {
		return nil, err
	}
	roles, err := tableName(db, &userdm.Role{})
	if err != nil {
		return nil, err
	}
	return &Repository{db: db, users: users, roles: roles}, nil
}

func tableName(db *gorm.DB, model interface{}) (string, error) {
	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(model); err != nil {
		return "", fmt.Errorf("resolving table for %T: %w", model, err)
	}
	return stmt.Schema.Table, nil
}

// userRecord is a users row joined with its role slug.
type userRecord struct {
	ID                int64      `gorm:"column:id"`
	Email             string     `gorm:"column:email"`
	Name              string     `gorm:"column:name"`
	PasswordHash      string     `gorm:"column:password_hash"`
	RoleID            int64      `gorm:"column:role_id"`
	RoleSlug          string     `gorm:"column:role_slug"`
	Status            string     `gorm:"column:status"`
	InvitationToken   *string    `gorm:"column:invitation_token"`
	ResetToken        *string    `gorm:"column:reset_token"`
	ResetTokenExpires *time.Time `gorm:"column:reset_token_expires"`
	InvitedBy         *int64     `gorm:"column:invited_by"`
	CreatedAt         time.Time  `gorm:"column:created_at"`
	UpdatedAt         time.Time  `gorm:"column:updated_at"`
}

func (rec userRecord) toDomain() *auth.User {
	return &auth.User{
		ID:                rec.ID,
		Email:             rec.Email,
		Name:              rec.Name,
		PasswordHash:      rec.PasswordHash,
		RoleID:            rec.RoleID,
		RoleSlug:          rec.RoleSlug,
		Status:            auth.Status(rec.Status),
		InvitationToken:   rec.InvitationToken,
		ResetToken:        rec.ResetToken,
		ResetTokenExpires: rec.ResetTokenExpires,
		InvitedBy:         rec.InvitedBy,
		CreatedAt:         rec.CreatedAt,
		UpdatedAt:         rec.UpdatedAt,
	}
}

// findUser selects one user joined to its role. Users whose role row is
// gone are treated as missing.
func (r *Repository) findUser(ctx context.Context, where string, args ...interface{}) (*auth.User, error) {
	var rec userRecord
	res := r.db.WithContext(ctx).
		Table(r.users+" AS u").
		Select("u.*, r.slug AS role_slug").
		Joins("JOIN "+r.roles+" AS r ON r.id = u.role_id").
		Where(where, args...).
		Limit(1).
		Scan(&rec)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, auth.ErrUserNotFound
	}
	return rec.toDomain(), nil
}

func (r *Repository) FindUserByID(ctx context.Context, id int64) (*auth.User, error) {
	return r.findUser(ctx, "u.id = ?", id)
}

func (r *Repository) FindUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	return r.findUser(ctx, "LOWER(u.email) = ?", auth.NormalizeEmail(email))
}

func (r *Repository) FindUserByResetToken(ctx context.Context, token string) (*auth.User, error) {
	return r.findUser(ctx, "u.reset_token = ?", token)
}

func (r *Repository) RoleExists(ctx context.Context, roleID int64) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&userdm.Role{}).Where("id = ?", roleID).Count(&n).Error
	return n > 0, err
}

// CreateUser stores the normalized email and relies on its unique index; a
// duplicate insert comes back as auth.ErrEmailTaken.
func (r *Repository) CreateUser(ctx context.Context, u *auth.User) error {
	row := userdm.User{
		Email:             auth.NormalizeEmail(u.Email),
		Name:              u.Name,
		PasswordHash:      u.PasswordHash,
		RoleID:            u.RoleID,
		Status:            string(u.Status),
		InvitationToken:   u.InvitationToken,
		ResetToken:        u.ResetToken,
		ResetTokenExpires: u.ResetTokenExpires,
		InvitedBy:         u.InvitedBy,
		CreatedAt:         u.CreatedAt,
		UpdatedAt:         u.UpdatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return auth.ErrEmailTaken
		}
		return err
	}
	u.ID = row.ID
	u.Email = row.Email
	return nil
}

func (r *Repository) ActivateInvitation(ctx context.Context, token, passwordHash string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&userdm.User{}).
		Where("invitation_token = ? AND status = ?", token, string(auth.StatusInvited)).
		Updates(map[string]interface{}{
			"password_hash":    passwordHash,
			"status":           string(auth.StatusActive),
			"invitation_token": nil,
			"updated_at":       at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *Repository) SetResetToken(ctx context.Context, userID int64, token string, expires, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&userdm.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"reset_token":         token,
			"reset_token_expires": expires,
			"updated_at":          at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

func (r *Repository) CompletePasswordReset(ctx context.Context, userID int64, token, passwordHash string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&userdm.User{}).
		Where("id = ? AND reset_token = ?", userID, token).
		Updates(map[string]interface{}{
			"password_hash":       passwordHash,
			"reset_token":         nil,
			"reset_token_expires": nil,
			"status":              string(auth.StatusActive),
			"updated_at":          at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *Repository) HasCapability(ctx context.Context, roleID int64, capability string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&userdm.RolePermission{}).
		Where("role_id = ? AND capability = ?", roleID, capability).
		Count(&n).Error
	return n > 0, err
}

func (r *Repository) Capabilities(ctx context.Context, roleID int64) ([]string, error) {
	var caps []string
	err := r.db.WithContext(ctx).Model(&userdm.RolePermission{}).
		Where("role_id = ?", roleID).
		Order("capability").
		Pluck("capability", &caps).Error
	return caps, err
}

// EnsureRole returns the id of the role with slug, creating it when absent.
func (r *Repository) EnsureRole(ctx context.Context, name, slug string) (int64, error) {
	id, err := r.FindRoleIDBySlug(ctx, slug)
	if err == nil || !errors.Is(err, auth.ErrRoleNotFound) {
		return id, err
	}

	now := time.Now().UTC()
	role := userdm.Role{Name: name, Slug: slug, CreatedAt: now, UpdatedAt: now}
	if err := r.db.WithContext(ctx).Create(&role).Error; err != nil {
		if database.IsUniqueViolation(err) {
			// lost a race with another writer
			return r.FindRoleIDBySlug(ctx, slug)
		}
		return 0, err
	}
	return role.ID, nil
}

func (r *Repository) FindRoleIDBySlug(ctx context.Context, slug string) (int64, error) {
	var role userdm.Role
	res := r.db.WithContext(ctx).Where("slug = ?", slug).Limit(1).Find(&role)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, auth.ErrRoleNotFound
	}
	return role.ID, nil
}

// GrantCapability is idempotent through the (role_id, capability) unique
// index.
func (r *Repository) GrantCapability(ctx context.Context, roleID int64, capability string) error {
	row := userdm.RolePermission{RoleID: roleID, Capability: capability, CreatedAt: time.Now().UTC()}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
}

func (r *Repository) RevokeCapability(ctx context.Context, roleID int64, capability string) error {
	return r.db.WithContext(ctx).
		Where("role_id = ? AND capability = ?", roleID, capability).
		Delete(&userdm.RolePermission{}).Error
}

var (
	_ auth.RepositoryAPI     = (*Repository)(nil)
	_ auth.RoleRepositoryAPI = (*Repository)(nil)
)
