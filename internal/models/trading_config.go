package models

import "gorm.io/gorm"

// TradingConfig enables or disables automated trading for a pair. At most
// one active row exists per pair; start/stop flip the Active flag through
// upsert semantics rather than inserting competing rows.
type TradingConfig struct {
	gorm.Model
	TradingPairID     uint    `gorm:"uniqueIndex;not null" json:"trading_pair_id"`
	InitialInvestment float64 `json:"initial_investment"`
	Active            bool    `gorm:"default:false" json:"active"`
}
