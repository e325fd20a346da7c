package database

import (
	"context"
	"fmt"

	"github.com/yeremiapane/qrtable/utils"
	"gorm.io/gorm"
)

// Ping reports whether the database answers. A nil handle means the process started without one.
func Ping(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("%w: database not connected", utils.ErrUpstreamUnavailable)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return Classify(err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", utils.ErrUpstreamUnavailable, err)
	}
	return nil
}
