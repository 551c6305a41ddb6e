package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sessionDatamodel "github.com/frahmantamala/repairshop/internal/core/datamodel/session"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLStore keeps sessions in the <prefix>sessions table. The table prefix
// comes from the gorm naming strategy of db.
type SQLStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewSQLStore(db *gorm.DB, now func() time.Time) *SQLStore {
	if now == nil {
		now = time.Now
	}
	return &SQLStore{db: db, now: now}
}

func (s *SQLStore) Load(ctx context.Context, id string) (map[string]string, error) {
	var row sessionDatamodel.Session
	err := s.db.WithContext(ctx).
		Where("id = ? AND expires_at > ?", id, s.now().UTC()).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	values := map[string]string{}
	if row.Data != "" {
		if err := json.Unmarshal([]byte(row.Data), &values); err != nil {
			return nil, fmt.Errorf("decoding session: %w", err)
		}
	}
	return values, nil
}

func (s *SQLStore) Save(ctx context.Context, id string, values map[string]string, expiresAt time.Time) error {
	data, err := json.Marshal(values)
	if err != nil {
		return err
	}
	row := sessionDatamodel.Session{ID: id, Data: string(data), ExpiresAt: expiresAt.UTC()}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "expires_at"}),
		}).
		Create(&row).Error
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&sessionDatamodel.Session{}).Error
}

func (s *SQLStore) DeleteExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", s.now().UTC()).Delete(&sessionDatamodel.Session{})
	return res.RowsAffected, res.Error
}
