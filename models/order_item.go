package models

import (
	"time"

	"gorm.io/gorm"
)

// How an order line got its catalog reference.
const (
	ResolvedByID    = "id"
	ResolvedByName  = "name"
	CreatedFallback = "created"
)

type OrderItem struct {
	ID                string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	OrderID           string    `gorm:"type:varchar(36);not null;index" json:"order_id"`
	MenuID            string    `gorm:"type:varchar(36);not null" json:"menu_id"`
	Name              string    `gorm:"type:varchar(255)" json:"name"`
	Quantity          int       `gorm:"not null" json:"quantity"`
	UnitPrice         float64   `gorm:"type:decimal(10,2);not null" json:"unit_price"`
	TotalPrice        float64   `gorm:"type:decimal(10,2);not null" json:"total_price"`
	Notes             string    `gorm:"type:text" json:"notes"`
	CatalogResolution string    `gorm:"type:varchar(16);not null" json:"catalog_resolution"`
	CreatedAt         time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time `gorm:"not null" json:"updated_at"`
}

func (i *OrderItem) BeforeCreate(tx *gorm.DB) error {
	i.ID = ensureID(i.ID)
	return nil
}

// Synthesized reports whether the catalog entry was created while accepting the order.
func (i *OrderItem) Synthesized() bool {
	return i.CatalogResolution == CreatedFallback
}
