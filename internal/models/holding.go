package models

import "gorm.io/gorm"

// Holding is the cost-basis ledger row for a single pair. There is at most
// one row per pair; it is mutated only by order execution, inside the same
// database transaction that writes the trade record.
type Holding struct {
	gorm.Model
	TradingPairID uint    `gorm:"uniqueIndex;not null" json:"trading_pair_id"`
	Quantity      float64 `gorm:"not null" json:"quantity"`
	// AverageBuyPrice is the quantity-weighted average purchase price of the
	// currently held units. Zero when Quantity is zero.
	AverageBuyPrice float64 `json:"average_buy_price"`
	// LastBuyPrice is the execution price of the most recent buy, used as
	// the drawdown reference point.
	LastBuyPrice float64 `json:"last_buy_price"`
}
