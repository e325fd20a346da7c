package models

import (
	"time"

	"gorm.io/gorm"
)

// FallbackCategoryName holds catalog entries synthesized while accepting orders.
const FallbackCategoryName = "Uncategorized"

type MenuCategory struct {
	ID           string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	RestaurantID string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_category_name" json:"restaurant_id"`
	Name         string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_category_name" json:"name"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time `gorm:"not null" json:"updated_at"`
}

func (c *MenuCategory) BeforeCreate(tx *gorm.DB) error {
	c.ID = ensureID(c.ID)
	return nil
}
