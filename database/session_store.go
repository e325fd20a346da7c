package database

import (
	"context"
	"fmt"
	"time"

	"github.com/yeremiapane/qrtable/models"
	"github.com/yeremiapane/qrtable/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionStore keeps table sessions in the relational database.
type SessionStore struct {
	DB *gorm.DB
}

func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{DB: db}
}

// conn fails with ErrUpstreamUnavailable when the process started without a database.
func (s *SessionStore) conn(ctx context.Context) (*gorm.DB, error) {
	if s.DB == nil {
		return nil, fmt.Errorf("%w: database not connected", utils.ErrUpstreamUnavailable)
	}
	return s.DB.WithContext(ctx), nil
}

func (s *SessionStore) FindByToken(ctx context.Context, token string) (*models.TableSession, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var session models.TableSession
	err = db.
		Preload("Restaurant").
		Where("token = ?", token).
		First(&session).Error
	if err != nil {
		return nil, Classify(err)
	}
	return &session, nil
}

// FindActiveForTable returns the newest active session for the table that has not expired yet.
func (s *SessionStore) FindActiveForTable(ctx context.Context, restaurantID string, tableNumber int, now time.Time) (*models.TableSession, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var session models.TableSession
	err = db.
		Where("restaurant_id = ? AND table_number = ? AND is_active = ? AND expires_at > ?", restaurantID, tableNumber, true, now).
		Order("created_at DESC").
		First(&session).Error
	if err != nil {
		return nil, Classify(err)
	}
	return &session, nil
}

// FindLatestActiveForTable ignores expiry.
func (s *SessionStore) FindLatestActiveForTable(ctx context.Context, restaurantID string, tableNumber int) (*models.TableSession, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var session models.TableSession
	err = db.
		Where("restaurant_id = ? AND table_number = ? AND is_active = ?", restaurantID, tableNumber, true).
		Order("created_at DESC").
		First(&session).Error
	if err != nil {
		return nil, Classify(err)
	}
	return &session, nil
}

func (s *SessionStore) Create(ctx context.Context, session *models.TableSession) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	return Classify(db.Omit(clause.Associations).Create(session).Error)
}

func (s *SessionStore) Save(ctx context.Context, session *models.TableSession) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	return Classify(db.Omit(clause.Associations).Save(session).Error)
}

func (s *SessionStore) TouchUsedAt(ctx context.Context, id string, at time.Time) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	res := db.
		Model(&models.TableSession{}).
		Where("id = ?", id).
		Update("used_at", at)
	if res.Error != nil {
		return Classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return Classify(gorm.ErrRecordNotFound)
	}
	return nil
}

func (s *SessionStore) DeactivateActiveForTable(ctx context.Context, restaurantID string, tableNumber int) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	res := db.
		Model(&models.TableSession{}).
		Where("restaurant_id = ? AND table_number = ? AND is_active = ?", restaurantID, tableNumber, true).
		Update("is_active", false)
	return res.RowsAffected, Classify(res.Error)
}

func (s *SessionStore) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	res := db.
		Model(&models.TableSession{}).
		Where("is_active = ? AND expires_at < ?", true, now).
		Update("is_active", false)
	return res.RowsAffected, Classify(res.Error)
}
