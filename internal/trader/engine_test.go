package trader

import (
	"testing"
	"time"

	"binance-position-bot-go/internal/binance"
	"binance-position-bot-go/internal/config"
	"binance-position-bot-go/internal/ledger"
	"binance-position-bot-go/internal/models"
	"binance-position-bot-go/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// setupEngineTest wires an engine over the executor fixture.
func setupEngineTest(t *testing.T, dryRun bool) (*Engine, *executorFixture) {
	f := setupExecutorTest(t, dryRun)

	cfg := &config.Config{
		Trading: config.Trading{
			Pairs:                    map[string]string{"BTCUSDT": "Bitcoin"},
			ProfitThreshold:          5,
			LossThreshold:            5,
			AdditionalPurchaseAmount: 47,
			DryRun:                   dryRun,
		},
		Stream: config.Stream{
			StaleAfter:    5 * time.Minute,
			SweepInterval: time.Minute,
			MaxBackoff:    30 * time.Second,
		},
	}

	supervisor := stream.NewSupervisor(cfg.Stream, "ws://unused", f.cache, zap.NewNop())
	engine := NewEngine(zap.NewNop(), cfg, f.client, f.store, f.cache, supervisor, f.executor)
	return engine, f
}

func tickAt(price float64) stream.Tick {
	return stream.Tick{Symbol: "BTCUSDT", Price: price, Timestamp: time.Now()}
}

func TestHandleTick_ProfitTargetSellsAll(t *testing.T) {
	// Arrange
	engine, f := setupEngineTest(t, false)
	require.NoError(t, engine.StartTrading(f.pair.ID, 100))
	f.seedHoldings(t, 1, 100, 100)
	f.cache.Set("BTCUSDT", 106, time.Now())

	f.client.On("CreateOrder", "BTCUSDT", "SELL", 1.0).Return(&binance.CreateOrderResponse{
		OrderID:             21,
		ExecutedQuantity:    "1",
		CummulativeQuoteQty: "106",
	}, nil)

	// Act
	engine.handleTick(&f.pair, tickAt(106))

	// Assert
	f.client.AssertExpectations(t)
	assert.Equal(t, 0.0, f.holdings(t).Quantity)
}

func TestHandleTick_DrawdownBuysMore(t *testing.T) {
	// Arrange
	engine, f := setupEngineTest(t, false)
	require.NoError(t, engine.StartTrading(f.pair.ID, 100))
	f.seedHoldings(t, 1, 100, 100)
	f.cache.Set("BTCUSDT", 94, time.Now())

	// 47 quote / 94 = 0.5, already on the 0.001 step.
	f.client.On("CreateOrder", "BTCUSDT", "BUY", 0.5).Return(&binance.CreateOrderResponse{
		OrderID:             22,
		ExecutedQuantity:    "0.5",
		CummulativeQuoteQty: "47",
	}, nil)

	// Act
	engine.handleTick(&f.pair, tickAt(94))

	// Assert
	f.client.AssertExpectations(t)
	holding := f.holdings(t)
	assert.InDelta(t, 1.5, holding.Quantity, 1e-9)
	assert.InDelta(t, 94, holding.LastBuyPrice, 1e-9)
}

func TestHandleTick_ZeroHoldingsNeverTrades(t *testing.T) {
	// Arrange: active config but nothing held; the engine never initiates
	// a first purchase.
	engine, f := setupEngineTest(t, false)
	require.NoError(t, engine.StartTrading(f.pair.ID, 100))
	f.cache.Set("BTCUSDT", 1, time.Now())

	// Act
	engine.handleTick(&f.pair, tickAt(1))
	engine.handleTick(&f.pair, tickAt(1000000))

	// Assert
	f.client.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleTick_InactiveConfigIgnored(t *testing.T) {
	// Arrange
	engine, f := setupEngineTest(t, false)
	f.seedHoldings(t, 1, 100, 100)
	f.cache.Set("BTCUSDT", 200, time.Now())

	// Act: no config at all, then an explicitly stopped one.
	engine.handleTick(&f.pair, tickAt(200))
	require.NoError(t, engine.StartTrading(f.pair.ID, 100))
	require.NoError(t, engine.StopTrading(f.pair.ID))
	engine.handleTick(&f.pair, tickAt(200))

	// Assert
	f.client.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything, mock.Anything)
	assert.InDelta(t, 1, f.holdings(t).Quantity, 1e-9)
}

func TestHandleTick_AppendsPriceHistory(t *testing.T) {
	// Arrange
	engine, f := setupEngineTest(t, false)

	// Act: history is appended even when nothing is tradable.
	engine.handleTick(&f.pair, tickAt(100))
	engine.handleTick(&f.pair, tickAt(101))

	// Assert
	var count int64
	f.db.Model(&models.PriceHistory{}).Where("symbol = ?", "BTCUSDT").Count(&count)
	assert.Equal(t, int64(2), count)
}

func TestHandleTick_ReplayIsDeterministic(t *testing.T) {
	// The same tick sequence against a fresh ledger produces identical
	// final holdings.
	prices := []float64{100, 94, 97, 106, 103}

	run := func() *models.Holding {
		engine, f := setupEngineTest(t, true)
		require.NoError(t, engine.StartTrading(f.pair.ID, 100))
		f.seedHoldings(t, 1, 100, 100)
		for _, p := range prices {
			f.cache.Set("BTCUSDT", p, time.Now())
			engine.handleTick(&f.pair, tickAt(p))
		}
		return f.holdings(t)
	}

	first := run()
	second := run()

	assert.InDelta(t, first.Quantity, second.Quantity, 1e-9)
	assert.InDelta(t, first.AverageBuyPrice, second.AverageBuyPrice, 1e-9)
	assert.InDelta(t, first.LastBuyPrice, second.LastBuyPrice, 1e-9)
}

func TestStartStopTrading_UnknownPair(t *testing.T) {
	engine, _ := setupEngineTest(t, false)

	assert.ErrorIs(t, engine.StartTrading(999, 100), ledger.ErrNotFound)
	assert.ErrorIs(t, engine.StopTrading(999), ledger.ErrNotFound)
}
