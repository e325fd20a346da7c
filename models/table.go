package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	CreatedByWaiter = "waiter"
	CreatedBySystem = "system"
	CreatedByAdmin  = "admin"
)

// TableSession is a claim on one physical table. Token is the bearer credential encoded in the QR
// code; it is globally unique and string-typed so existing rows stay readable.
type TableSession struct {
	ID           string      `gorm:"type:varchar(36);primaryKey" json:"id"`
	RestaurantID string      `gorm:"type:varchar(36);not null;index:idx_session_table" json:"restaurant_id"`
	Restaurant   *Restaurant `gorm:"foreignKey:RestaurantID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"restaurant,omitempty"`
	TableNumber  int         `gorm:"not null;index:idx_session_table" json:"table_number"`
	Token        string      `gorm:"type:varchar(64);uniqueIndex;not null" json:"token"`
	IsActive     bool        `gorm:"not null;default:true;index:idx_session_table" json:"is_active"`
	ExpiresAt    time.Time   `gorm:"not null;index" json:"expires_at"`
	UsedAt       *time.Time  `json:"used_at,omitempty"`
	CreatedBy    string      `gorm:"type:varchar(20);not null;default:'system'" json:"created_by"`
	CreatedAt    time.Time   `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time   `gorm:"not null" json:"updated_at"`
}

func (s *TableSession) BeforeCreate(tx *gorm.DB) error {
	s.ID = ensureID(s.ID)
	return nil
}

// Expired is informational: whether it blocks use is decided by the session service.
func (s *TableSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
