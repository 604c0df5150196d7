package database

import (
	"fmt"
	"strings"

	"binance-position-bot-go/internal/config"
	"binance-position-bot-go/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase creates a new database connection and performs auto-migration.
func NewDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Database.DSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db, cfg); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates or updates the schema and seeds the trading pairs from
// the configuration. Existing rows are kept: the ledger is the system's
// source of truth across restarts.
func Migrate(db *gorm.DB, cfg *config.Config) error {
	err := db.AutoMigrate(
		&models.TradingPair{},
		&models.Holding{},
		&models.Transaction{},
		&models.TradingConfig{},
		&models.PriceHistory{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	for symbol, displayName := range cfg.Trading.Pairs {
		// Keys arrive lowercased from the config layer; the exchange speaks
		// uppercase symbols.
		symbol = strings.ToUpper(symbol)
		pair := models.TradingPair{Symbol: symbol, DisplayName: displayName}
		if err := db.FirstOrCreate(&pair, models.TradingPair{Symbol: symbol}).Error; err != nil {
			return fmt.Errorf("failed to seed trading pair '%s': %w", symbol, err)
		}
		// Every pair gets a holdings row so upserts and reads never race
		// over row creation.
		holding := models.Holding{TradingPairID: pair.ID}
		if err := db.FirstOrCreate(&holding, models.Holding{TradingPairID: pair.ID}).Error; err != nil {
			return fmt.Errorf("failed to seed holdings for '%s': %w", symbol, err)
		}
	}

	return nil
}
