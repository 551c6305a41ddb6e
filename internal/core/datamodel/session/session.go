package session

import "time"

type Session struct {
	ID        string    `gorm:"primaryKey;column:id;size:64"`
	Data      string    `gorm:"column:data;type:text;not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null;index"`
}
