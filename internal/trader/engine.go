package trader

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"binance-position-bot-go/internal/binance"
	"binance-position-bot-go/internal/config"
	"binance-position-bot-go/internal/ledger"
	"binance-position-bot-go/internal/models"
	"binance-position-bot-go/internal/pricecache"
	"binance-position-bot-go/internal/stream"
	"go.uber.org/zap"
)

// Engine ties the price stream to the threshold strategy. Each configured
// pair gets its own subscription and evaluation loop, so one symbol's
// failures can never starve another's pipeline. The engine only ever acts
// on pairs with an active configuration and nonzero holdings; it never
// initiates a first purchase on its own.
type Engine struct {
	logger     *zap.Logger
	cfg        *config.Config
	restClient binance.RestClientInterface
	store      ledger.Store
	cache      *pricecache.Cache
	supervisor *stream.Supervisor
	executor   *Executor
	thresholds Thresholds
}

// NewEngine creates a new trading engine.
func NewEngine(
	logger *zap.Logger,
	cfg *config.Config,
	restClient binance.RestClientInterface,
	store ledger.Store,
	cache *pricecache.Cache,
	supervisor *stream.Supervisor,
	executor *Executor,
) *Engine {
	return &Engine{
		logger:     logger.Named("engine"),
		cfg:        cfg,
		restClient: restClient,
		store:      store,
		cache:      cache,
		supervisor: supervisor,
		executor:   executor,
		thresholds: Thresholds{
			ProfitPct:      cfg.Trading.ProfitThreshold,
			LossPct:        cfg.Trading.LossThreshold,
			PurchaseAmount: cfg.Trading.AdditionalPurchaseAmount,
		},
	}
}

// Run starts the per-pair pipelines and blocks until the context is
// cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.initialize(); err != nil {
		return err
	}

	for symbol := range e.cfg.Trading.Pairs {
		// Config keys arrive lowercased; the stream and ledger use the
		// exchange's uppercase symbols.
		symbol = strings.ToUpper(symbol)
		pair, err := e.store.GetPairBySymbol(symbol)
		if err != nil {
			return fmt.Errorf("configured pair '%s' is not in the ledger: %w", symbol, err)
		}

		ticks := e.supervisor.Subscribe(symbol)
		e.supervisor.Watch(ctx, symbol)

		go e.consume(ctx, pair, ticks)
		e.logger.Info("Pipeline started", zap.String("symbol", symbol))
	}

	e.supervisor.Run(ctx)
	return nil
}

// initialize fetches and caches exchange trading rules for lot-size
// rounding, mirroring what the exchange enforces server-side.
func (e *Engine) initialize() error {
	e.logger.Info("Fetching exchange information...")
	info, err := e.restClient.GetExchangeInfo()
	if err != nil {
		return fmt.Errorf("could not get exchange info: %w", err)
	}

	rules := make(map[string]binance.SymbolInfo, len(info.Symbols))
	for _, s := range info.Symbols {
		rules[s.Symbol] = s
	}
	e.executor.SetExchangeRules(rules)
	e.logger.Info("Cached exchange rules", zap.Int("count", len(rules)))
	return nil
}

// consume drains one pair's tick channel until shutdown.
func (e *Engine) consume(ctx context.Context, pair *models.TradingPair, ticks <-chan stream.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			e.handleTick(pair, tick)
		}
	}
}

// handleTick evaluates a single price update and triggers execution when a
// threshold is crossed. Every error here is local to this tick: the next
// tick re-evaluates from scratch.
func (e *Engine) handleTick(pair *models.TradingPair, tick stream.Tick) {
	l := e.logger.With(zap.String("symbol", pair.Symbol), zap.Float64("price", tick.Price))

	// Audit trail only; never a decision input.
	if err := e.store.AppendPriceHistory(tick.Symbol, tick.Price, tick.Timestamp); err != nil {
		l.Warn("Failed to append price history", zap.Error(err))
	}

	if _, err := e.store.GetActiveConfig(pair.ID); err != nil {
		if !errors.Is(err, ledger.ErrNotFound) {
			l.Error("Failed to load trading config", zap.Error(err))
		}
		return
	}

	holding, err := e.store.GetHoldings(pair.ID)
	if err != nil {
		l.Error("Failed to load holdings", zap.Error(err))
		return
	}
	if holding.Quantity <= 0 {
		return
	}

	decision := Evaluate(tick.Price, holding.AverageBuyPrice, holding.LastBuyPrice, e.thresholds)

	switch decision.Action {
	case ActionSellAll:
		l.Info("Profit target reached, selling all",
			zap.Float64("average_buy_price", holding.AverageBuyPrice))
		if _, err := e.executor.ExecuteSellAll(pair.ID, decision.Reason); err != nil {
			l.Error("Sell execution failed", zap.Error(err))
		}
	case ActionBuyMore:
		l.Info("Drawdown threshold reached, buying more",
			zap.Float64("last_buy_price", holding.LastBuyPrice),
			zap.Float64("amount", decision.Amount))
		if _, err := e.executor.ExecuteBuy(pair.ID, decision.Amount, decision.Reason); err != nil {
			l.Error("Buy execution failed", zap.Error(err))
		}
	}
}

// StartTrading activates the threshold strategy for a pair.
func (e *Engine) StartTrading(pairID uint, initialInvestment float64) error {
	if _, err := e.store.GetPair(pairID); err != nil {
		return err
	}
	if err := e.store.UpsertConfig(pairID, initialInvestment, true); err != nil {
		return err
	}
	e.logger.Info("Trading started", zap.Uint("pair_id", pairID), zap.Float64("initial_investment", initialInvestment))
	return nil
}

// StopTrading deactivates the threshold strategy for a pair. Holdings and
// history are left untouched.
func (e *Engine) StopTrading(pairID uint) error {
	if _, err := e.store.GetPair(pairID); err != nil {
		return err
	}
	if err := e.store.UpsertConfig(pairID, 0, false); err != nil {
		return err
	}
	e.logger.Info("Trading stopped", zap.Uint("pair_id", pairID))
	return nil
}

// ConnectionStatus snapshots all stream states for observability.
func (e *Engine) ConnectionStatus() map[string]stream.ConnState {
	return e.supervisor.Status()
}

// LatestPrice returns the cached price for a symbol.
func (e *Engine) LatestPrice(symbol string) (float64, error) {
	return e.cache.Get(symbol)
}
