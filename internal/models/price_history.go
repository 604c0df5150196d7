package models

import (
	"time"

	"gorm.io/gorm"
)

// PriceHistory is an append-only tick log kept purely as an audit trail.
// It is never read back as a decision input; trading requires a live price
// from the in-memory cache.
type PriceHistory struct {
	gorm.Model
	Symbol    string    `gorm:"index;not null" json:"symbol"`
	Price     float64   `gorm:"not null" json:"price"`
	Timestamp time.Time `gorm:"index" json:"timestamp"`
}
