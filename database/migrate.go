package database

import (
	"github.com/yeremiapane/qrtable/models"
	"github.com/yeremiapane/qrtable/utils"
	"gorm.io/gorm"
)

// Migrate brings the schema for sessions, orders and the catalog up to date.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Restaurant{},
		&models.TableSession{},
		&models.MenuCategory{},
		&models.Menu{},
		&models.Order{},
		&models.OrderItem{},
	)
	if err != nil {
		return Classify(err)
	}
	utils.InfoLogger.Println("AutoMigrate completed.")
	return nil
}
