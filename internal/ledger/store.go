package ledger

import (
	"errors"
	"fmt"
	"time"

	"binance-position-bot-go/internal/models"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the narrow command/query contract the trading core uses for all
// persistent state. Transaction runs the given function against a store
// bound to a single database transaction; any error rolls the unit back.
type Store interface {
	GetPair(pairID uint) (*models.TradingPair, error)
	GetPairBySymbol(symbol string) (*models.TradingPair, error)
	GetActiveConfig(pairID uint) (*models.TradingConfig, error)
	UpsertConfig(pairID uint, initialInvestment float64, active bool) error
	GetHoldings(pairID uint) (*models.Holding, error)
	UpsertHoldings(pairID uint, quantity, avgBuyPrice, lastBuyPrice float64) error
	InsertTransaction(txn *models.Transaction) error
	UpdateTransactionStatus(id uint, status string, exchangeOrderID *int64) error
	AppendPriceHistory(symbol string, price float64, timestamp time.Time) error
	Transaction(fn func(Store) error) error
}

// GormStore implements Store on top of gorm.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// NewStore creates a ledger store backed by the given database handle.
func NewStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// GetPair fetches a trading pair by id.
func (s *GormStore) GetPair(pairID uint) (*models.TradingPair, error) {
	var pair models.TradingPair
	if err := s.db.First(&pair, pairID).Error; err != nil {
		return nil, wrapNotFound(fmt.Errorf("could not get pair %d: %w", pairID, err), err)
	}
	return &pair, nil
}

// GetPairBySymbol fetches a trading pair by exchange symbol.
func (s *GormStore) GetPairBySymbol(symbol string) (*models.TradingPair, error) {
	var pair models.TradingPair
	if err := s.db.Where("symbol = ?", symbol).First(&pair).Error; err != nil {
		return nil, wrapNotFound(fmt.Errorf("could not get pair '%s': %w", symbol, err), err)
	}
	return &pair, nil
}

// GetActiveConfig fetches the active trading configuration for a pair.
// Returns ErrNotFound when the pair has no configuration or it is inactive.
func (s *GormStore) GetActiveConfig(pairID uint) (*models.TradingConfig, error) {
	var cfg models.TradingConfig
	err := s.db.Where("trading_pair_id = ? AND active = ?", pairID, true).First(&cfg).Error
	if err != nil {
		return nil, wrapNotFound(fmt.Errorf("could not get active config for pair %d: %w", pairID, err), err)
	}
	return &cfg, nil
}

// UpsertConfig activates or deactivates trading for a pair. At most one
// configuration row exists per pair; callers serialize per-pair activation.
func (s *GormStore) UpsertConfig(pairID uint, initialInvestment float64, active bool) error {
	var cfg models.TradingConfig
	err := s.db.Where("trading_pair_id = ?", pairID).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cfg = models.TradingConfig{
			TradingPairID:     pairID,
			InitialInvestment: initialInvestment,
			Active:            active,
		}
		if err := s.db.Create(&cfg).Error; err != nil {
			return fmt.Errorf("could not create config for pair %d: %w", pairID, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("could not get config for pair %d: %w", pairID, err)
	}

	updates := map[string]interface{}{"active": active}
	if initialInvestment > 0 {
		updates["initial_investment"] = initialInvestment
	}
	if err := s.db.Model(&cfg).Updates(updates).Error; err != nil {
		return fmt.Errorf("could not update config for pair %d: %w", pairID, err)
	}
	return nil
}

// GetHoldings fetches the holdings row for a pair.
func (s *GormStore) GetHoldings(pairID uint) (*models.Holding, error) {
	var holding models.Holding
	err := s.db.Where("trading_pair_id = ?", pairID).First(&holding).Error
	if err != nil {
		return nil, wrapNotFound(fmt.Errorf("could not get holdings for pair %d: %w", pairID, err), err)
	}
	return &holding, nil
}

// UpsertHoldings writes the holdings row for a pair, creating it if absent.
func (s *GormStore) UpsertHoldings(pairID uint, quantity, avgBuyPrice, lastBuyPrice float64) error {
	var holding models.Holding
	err := s.db.Where("trading_pair_id = ?", pairID).First(&holding).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		holding = models.Holding{
			TradingPairID:   pairID,
			Quantity:        quantity,
			AverageBuyPrice: avgBuyPrice,
			LastBuyPrice:    lastBuyPrice,
		}
		if err := s.db.Create(&holding).Error; err != nil {
			return fmt.Errorf("could not create holdings for pair %d: %w", pairID, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("could not get holdings for pair %d: %w", pairID, err)
	}

	updates := map[string]interface{}{
		"quantity":          quantity,
		"average_buy_price": avgBuyPrice,
		"last_buy_price":    lastBuyPrice,
	}
	if err := s.db.Model(&holding).Updates(updates).Error; err != nil {
		return fmt.Errorf("could not update holdings for pair %d: %w", pairID, err)
	}
	return nil
}

// InsertTransaction persists a new transaction row and fills in its id.
func (s *GormStore) InsertTransaction(txn *models.Transaction) error {
	if err := s.db.Create(txn).Error; err != nil {
		return fmt.Errorf("could not insert transaction: %w", err)
	}
	return nil
}

// UpdateTransactionStatus moves a transaction to a new status, optionally
// recording the exchange order id.
func (s *GormStore) UpdateTransactionStatus(id uint, status string, exchangeOrderID *int64) error {
	updates := map[string]interface{}{"status": status}
	if exchangeOrderID != nil {
		updates["exchange_order_id"] = *exchangeOrderID
	}
	err := s.db.Model(&models.Transaction{}).Where("id = ?", id).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("could not update transaction %d: %w", id, err)
	}
	return nil
}

// AppendPriceHistory appends a tick to the audit log. The log is never
// read back as a decision input.
func (s *GormStore) AppendPriceHistory(symbol string, price float64, timestamp time.Time) error {
	row := models.PriceHistory{Symbol: symbol, Price: price, Timestamp: timestamp}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("could not append price history for '%s': %w", symbol, err)
	}
	return nil
}

// Transaction executes fn inside a single database transaction.
func (s *GormStore) Transaction(fn func(Store) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

// wrapNotFound maps gorm's record-not-found onto the package sentinel while
// keeping the descriptive wrapper.
func wrapNotFound(wrapped, cause error) error {
	if errors.Is(cause, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, wrapped)
	}
	return wrapped
}
