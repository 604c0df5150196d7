package models

import "gorm.io/gorm"

// TradingPair represents a tradable symbol against its quote currency.
// Reference data: created from configuration, never mutated by the core.
type TradingPair struct {
	gorm.Model
	Symbol      string `gorm:"uniqueIndex;not null" json:"symbol"`
	DisplayName string `json:"display_name"`
}
