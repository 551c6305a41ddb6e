package user

import "time"

type Role struct {
	ID        int64     `gorm:"primaryKey"`
	Name      string    `gorm:"column:name;size:100;not null"`
	Slug      string    `gorm:"column:slug;size:100;uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

type RolePermission struct {
	ID         int64     `gorm:"primaryKey"`
	RoleID     int64     `gorm:"column:role_id;not null;uniqueIndex:idx_role_capability"`
	Capability string    `gorm:"column:capability;size:150;not null;uniqueIndex:idx_role_capability;index"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

type User struct {
	ID                int64      `gorm:"primaryKey"`
	Email             string     `gorm:"column:email;size:190;uniqueIndex;not null"`
	Name              string     `gorm:"column:name;size:190;not null"`
	PasswordHash      string     `gorm:"column:password_hash;size:255;not null"`
	RoleID            int64      `gorm:"column:role_id;not null;index"`
	Status            string     `gorm:"column:status;size:20;not null;default:invited"`
	InvitationToken   *string    `gorm:"column:invitation_token;size:190;uniqueIndex"`
	ResetToken        *string    `gorm:"column:reset_token;size:190;uniqueIndex"`
	ResetTokenExpires *time.Time `gorm:"column:reset_token_expires"`
	InvitedBy         *int64     `gorm:"column:invited_by"`
	CreatedAt         time.Time  `gorm:"column:created_at"`
	UpdatedAt         time.Time  `gorm:"column:updated_at"`
}
