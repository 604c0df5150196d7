package trader

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"binance-position-bot-go/internal/binance"
	"binance-position-bot-go/internal/config"
	"binance-position-bot-go/internal/ledger"
	"binance-position-bot-go/internal/models"
	"binance-position-bot-go/internal/notify"
	"binance-position-bot-go/internal/pricecache"
	"go.uber.org/zap"
)

var (
	// ErrPriceUnavailable aborts an execution before any persistence when
	// the cache has never seen a price for the pair's symbol. The next tick
	// re-attempts; there is no automatic retry.
	ErrPriceUnavailable = errors.New("price unavailable")
	// ErrNothingToSell rejects a sell for a pair with no held quantity.
	ErrNothingToSell = errors.New("nothing to sell")
)

// Result summarizes one executed (or failed) order.
type Result struct {
	TransactionID   uint    `json:"transaction_id"`
	Side            string  `json:"side"`
	Quantity        float64 `json:"quantity"`
	Price           float64 `json:"price"`
	TotalAmount     float64 `json:"total_amount"`
	Status          string  `json:"status"`
	ExchangeOrderID *int64  `json:"exchange_order_id,omitempty"`
}

// Executor performs buy and sell orders with atomic local bookkeeping.
// Executions for different pairs may run concurrently; executions for the
// same pair are serialized by a per-pair lock so two triggers can never
// both read the pre-trade holdings.
type Executor struct {
	logger     *zap.Logger
	cfg        *config.Config
	store      ledger.Store
	cache      *pricecache.Cache
	restClient binance.RestClientInterface
	notifier   notify.Notifier

	rulesMu sync.RWMutex
	rules   map[string]binance.SymbolInfo

	locks sync.Map // pair id -> *sync.Mutex
}

// NewExecutor creates an order executor.
func NewExecutor(
	logger *zap.Logger,
	cfg *config.Config,
	store ledger.Store,
	cache *pricecache.Cache,
	restClient binance.RestClientInterface,
	notifier notify.Notifier,
) *Executor {
	return &Executor{
		logger:     logger.Named("executor"),
		cfg:        cfg,
		store:      store,
		cache:      cache,
		restClient: restClient,
		notifier:   notifier,
		rules:      make(map[string]binance.SymbolInfo),
	}
}

// SetExchangeRules caches the per-symbol trading rules used for lot-size
// rounding.
func (x *Executor) SetExchangeRules(rules map[string]binance.SymbolInfo) {
	x.rulesMu.Lock()
	x.rules = rules
	x.rulesMu.Unlock()
}

func (x *Executor) lotSizeStep(symbol string) float64 {
	x.rulesMu.RLock()
	rule, ok := x.rules[symbol]
	x.rulesMu.RUnlock()
	if !ok {
		return 0
	}
	return rule.LotSizeStep()
}

func (x *Executor) pairLock(pairID uint) *sync.Mutex {
	lock, _ := x.locks.LoadOrStore(pairID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// RoundToStep truncates a quantity toward zero to the nearest multiple of
// the exchange lot-size step. Never rounds up, so an order can never
// commit more than the computed quantity. A zero step leaves the quantity
// untouched.
func RoundToStep(quantity, step float64) float64 {
	if step <= 0 {
		return quantity
	}
	// The epsilon absorbs float division artifacts (0.29/0.01 = 28.999...).
	steps := math.Floor(quantity/step + 1e-9)
	return steps * step
}

// ExecuteBuy converts a quote-currency amount into a market buy for the
// pair and applies the cost-basis mutation on success.
func (x *Executor) ExecuteBuy(pairID uint, amount float64, reason string) (*Result, error) {
	lock := x.pairLock(pairID)
	lock.Lock()
	defer lock.Unlock()

	pair, err := x.store.GetPair(pairID)
	if err != nil {
		return nil, err
	}

	price, err := x.cache.Get(pair.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPriceUnavailable, pair.Symbol)
	}

	quantity := RoundToStep(amount/price, x.lotSizeStep(pair.Symbol))
	if quantity <= 0 {
		return nil, fmt.Errorf("buy amount %.8f is below the lot size for %s at price %.8f", amount, pair.Symbol, price)
	}

	holding, err := x.store.GetHoldings(pairID)
	if err != nil {
		return nil, err
	}

	return x.execute(pair, holding, binance.OrderSideBuy, quantity, price, reason)
}

// ExecuteSellAll sells the pair's entire held quantity at market and
// resets the cost basis on success.
func (x *Executor) ExecuteSellAll(pairID uint, reason string) (*Result, error) {
	lock := x.pairLock(pairID)
	lock.Lock()
	defer lock.Unlock()

	pair, err := x.store.GetPair(pairID)
	if err != nil {
		return nil, err
	}

	price, err := x.cache.Get(pair.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPriceUnavailable, pair.Symbol)
	}

	holding, err := x.store.GetHoldings(pairID)
	if err != nil {
		return nil, err
	}

	quantity := RoundToStep(holding.Quantity, x.lotSizeStep(pair.Symbol))
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: pair %s", ErrNothingToSell, pair.Symbol)
	}

	return x.execute(pair, holding, binance.OrderSideSell, quantity, price, reason)
}

// execute runs the shared order flow: PENDING row first, exchange call,
// then one ledger transaction moving the row to its terminal status and
// mutating holdings. A failed exchange call leaves the row as FAILED; it
// is never deleted.
func (x *Executor) execute(
	pair *models.TradingPair,
	holding *models.Holding,
	side string,
	quantity, price float64,
	reason string,
) (*Result, error) {
	l := x.logger.With(
		zap.String("symbol", pair.Symbol),
		zap.String("side", side),
		zap.Float64("quantity", quantity),
		zap.Float64("price", price),
	)

	txnType := models.TransactionTypeBuy
	if side == binance.OrderSideSell {
		txnType = models.TransactionTypeSell
	}

	txn := &models.Transaction{
		TradingPairID: pair.ID,
		Type:          txnType,
		Quantity:      quantity,
		Price:         price,
		TotalAmount:   quantity * price,
		Status:        models.TransactionStatusPending,
		Timestamp:     time.Now(),
	}
	// Committed before the exchange call so a crash mid-flight still
	// leaves an audit trail.
	if err := x.store.InsertTransaction(txn); err != nil {
		return nil, err
	}

	var exchangeOrderID *int64
	executedQty := quantity
	executedPrice := price

	if x.cfg.Trading.DryRun {
		l.Warn("Dry run enabled, skipping exchange order")
	} else {
		order, err := x.restClient.CreateOrder(pair.Symbol, side, quantity)
		if err != nil {
			l.Error("Exchange order failed", zap.Error(err))
			if updErr := x.store.UpdateTransactionStatus(txn.ID, models.TransactionStatusFailed, nil); updErr != nil {
				l.Error("Failed to mark transaction as failed", zap.Error(updErr))
			}
			x.notifyTrade(pair, side, quantity, price, reason, models.TransactionStatusFailed)
			return nil, fmt.Errorf("order placement for %s failed: %w", pair.Symbol, err)
		}
		exchangeOrderID = &order.OrderID
		if qty, perr := strconv.ParseFloat(order.ExecutedQuantity, 64); perr == nil && qty > 0 {
			executedQty = qty
		}
		if quote, perr := strconv.ParseFloat(order.CummulativeQuoteQty, 64); perr == nil && quote > 0 && executedQty > 0 {
			executedPrice = quote / executedQty
		}
	}

	newQty, newAvg, newLast := applyTrade(holding, side, executedQty, executedPrice)

	err := x.store.Transaction(func(tx ledger.Store) error {
		if err := tx.UpdateTransactionStatus(txn.ID, models.TransactionStatusCompleted, exchangeOrderID); err != nil {
			return err
		}
		return tx.UpsertHoldings(pair.ID, newQty, newAvg, newLast)
	})
	if err != nil {
		// The ledger unit rolled back; the PENDING row from above remains
		// as the only trace of this attempt.
		l.Error("Ledger transaction failed", zap.Error(err))
		return nil, fmt.Errorf("ledger update for %s failed: %w", pair.Symbol, err)
	}

	l.Info("Trade completed",
		zap.Uint("transaction_id", txn.ID),
		zap.Float64("executed_quantity", executedQty),
		zap.Float64("executed_price", executedPrice),
	)
	x.notifyTrade(pair, side, executedQty, executedPrice, reason, models.TransactionStatusCompleted)

	return &Result{
		TransactionID:   txn.ID,
		Side:            side,
		Quantity:        executedQty,
		Price:           executedPrice,
		TotalAmount:     executedQty * executedPrice,
		Status:          models.TransactionStatusCompleted,
		ExchangeOrderID: exchangeOrderID,
	}, nil
}

// applyTrade computes the post-trade holdings values. Buys recompute the
// weighted average and move the drawdown reference; a sell that empties
// the position resets both, a partial sell leaves them untouched.
func applyTrade(holding *models.Holding, side string, quantity, price float64) (newQty, newAvg, newLast float64) {
	if side == binance.OrderSideBuy {
		newQty = holding.Quantity + quantity
		newAvg = (holding.Quantity*holding.AverageBuyPrice + quantity*price) / newQty
		newLast = price
		return newQty, newAvg, newLast
	}

	newQty = holding.Quantity - quantity
	if newQty <= 1e-12 {
		return 0, 0, 0
	}
	return newQty, holding.AverageBuyPrice, holding.LastBuyPrice
}

// notifyTrade is fire-and-forget: delivery failures are logged and never
// propagated as execution failures.
func (x *Executor) notifyTrade(pair *models.TradingPair, side string, quantity, price float64, reason, status string) {
	event := notify.Event{
		Side:        side,
		Symbol:      pair.Symbol,
		DisplayName: pair.DisplayName,
		Quantity:    quantity,
		Price:       price,
		TotalAmount: quantity * price,
		Reason:      reason,
	}
	if err := x.notifier.Notify(event); err != nil {
		x.logger.Warn("Notification delivery failed",
			zap.String("symbol", pair.Symbol),
			zap.String("status", status),
			zap.Error(err),
		)
	}
}
