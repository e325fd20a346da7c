package models

import (
	"time"

	"gorm.io/gorm"
)

type Menu struct {
	ID           string       `gorm:"type:varchar(36);primaryKey" json:"id"`
	RestaurantID string       `gorm:"type:varchar(36);not null;index:idx_menu_name" json:"restaurant_id"`
	CategoryID   string       `gorm:"type:varchar(36);not null" json:"category_id"`
	Category     MenuCategory `gorm:"foreignKey:CategoryID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
	Name         string       `gorm:"type:varchar(255);not null;index:idx_menu_name" json:"name"`
	Price        float64      `gorm:"type:decimal(10,2);not null" json:"price"`
	Description  string       `gorm:"type:text" json:"description"`
	IsAvailable  bool         `gorm:"not null;default:true" json:"is_available"`
	CreatedAt    time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null" json:"updated_at"`
}

func (m *Menu) BeforeCreate(tx *gorm.DB) error {
	m.ID = ensureID(m.ID)
	return nil
}
