package models

import (
	"time"

	"gorm.io/gorm"
)

// Transaction types and statuses.
const (
	TransactionTypeBuy  = "BUY"
	TransactionTypeSell = "SELL"

	TransactionStatusPending   = "PENDING"
	TransactionStatusCompleted = "COMPLETED"
	TransactionStatusFailed    = "FAILED"
)

// Transaction is an append-only record of a buy or sell attempt. It is
// created PENDING before the exchange is called and moved to a terminal
// status afterwards; terminal rows are never mutated or deleted, so failed
// attempts remain as a permanent audit trail.
type Transaction struct {
	gorm.Model
	TradingPairID   uint      `gorm:"index;not null" json:"trading_pair_id"`
	Type            string    `gorm:"not null" json:"type"` // "BUY" or "SELL"
	Quantity        float64   `gorm:"not null" json:"quantity"`
	Price           float64   `gorm:"not null" json:"price"`
	TotalAmount     float64   `gorm:"not null" json:"total_amount"`
	Status          string    `gorm:"not null" json:"status"`
	ExchangeOrderID *int64    `json:"exchange_order_id,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}
