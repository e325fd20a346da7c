package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yeremiapane/qrtable/models"
	"github.com/yeremiapane/qrtable/utils"
	"gorm.io/gorm"
)

// FindRestaurant looks a restaurant up by primary key when the identifier has that shape, and by
// public username otherwise.
func FindRestaurant(db *gorm.DB, identifier string) (*models.Restaurant, error) {
	identifier = strings.TrimSpace(identifier)
	var restaurant models.Restaurant
	query := db.Where("username = ?", identifier)
	if models.LooksLikeID(identifier) {
		query = db.Where("id = ?", identifier)
	}
	if err := query.First(&restaurant).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: restaurant %q", utils.ErrNotFound, identifier)
		}
		return nil, Classify(err)
	}
	return &restaurant, nil
}

func (s *SessionStore) FindRestaurant(ctx context.Context, identifier string) (*models.Restaurant, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	return FindRestaurant(db, identifier)
}
