package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"binance-position-bot-go/internal/config"
	"binance-position-bot-go/internal/pricecache"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Status describes the lifecycle state of a single symbol's stream.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusClosed       Status = "closed"
	StatusError        Status = "error"
)

// subscriberBuffer bounds the per-subscriber tick channel so a slow
// consumer can never block the read loop; excess ticks are dropped.
const subscriberBuffer = 64

// Tick is a single trade-price update emitted to subscribers.
type Tick struct {
	Symbol    string
	Price     float64
	Timestamp time.Time
}

// ConnState is the externally visible snapshot of a symbol's stream.
type ConnState struct {
	Status            Status
	LastMessageTime   time.Time
	ReconnectAttempts int
}

// connState is the supervisor-internal state for one symbol.
type connState struct {
	status            Status
	lastMessageTime   time.Time
	reconnectAttempts int
	conn              *websocket.Conn
	cancel            context.CancelFunc
}

// Supervisor owns one persistent websocket session per watched symbol. It
// parses inbound trade events into the shared price cache, fans them out to
// subscribers, and manages reconnection with capped exponential backoff. A
// dead-but-open transport is detected by the staleness sweep and recycled
// the same way as an observed error. Reconnects retry indefinitely; only an
// explicit Unwatch or shutdown stops a symbol's stream.
type Supervisor struct {
	baseURL string
	cfg     config.Stream
	cache   *pricecache.Cache
	logger  *zap.Logger

	mu     sync.Mutex
	states map[string]*connState
	subs   map[string][]chan Tick

	wg sync.WaitGroup
}

// NewSupervisor creates a stream supervisor publishing into the given cache.
func NewSupervisor(cfg config.Stream, baseURL string, cache *pricecache.Cache, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		baseURL: baseURL,
		cfg:     cfg,
		cache:   cache,
		logger:  logger.Named("stream"),
		states:  make(map[string]*connState),
		subs:    make(map[string][]chan Tick),
	}
}

// Subscribe returns a bounded channel of ticks for the symbol. When the
// buffer is full the oldest unread ticks are simply not delivered; the
// price cache always carries the latest value regardless.
func (s *Supervisor) Subscribe(symbol string) <-chan Tick {
	ch := make(chan Tick, subscriberBuffer)
	s.mu.Lock()
	s.subs[symbol] = append(s.subs[symbol], ch)
	s.mu.Unlock()
	return ch
}

// Watch starts (or restarts) the persistent stream for a symbol. It is a
// no-op when the symbol is already being watched.
func (s *Supervisor) Watch(ctx context.Context, symbol string) {
	s.mu.Lock()
	if _, exists := s.states[symbol]; exists {
		s.mu.Unlock()
		return
	}
	symCtx, cancel := context.WithCancel(ctx)
	s.states[symbol] = &connState{status: StatusConnecting, cancel: cancel}
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(symCtx, symbol)
}

// Unwatch tears down a symbol's stream: cancels its pending reconnect
// timer, closes the connection, and releases its state entry.
func (s *Supervisor) Unwatch(symbol string) {
	s.mu.Lock()
	state, ok := s.states[symbol]
	if ok {
		state.cancel()
		if state.conn != nil {
			_ = state.conn.Close()
		}
		delete(s.states, symbol)
	}
	for _, ch := range s.subs[symbol] {
		close(ch)
	}
	delete(s.subs, symbol)
	s.mu.Unlock()
}

// Run blocks until the context is cancelled, periodically sweeping all
// watched symbols for stale connections.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

// Status returns a snapshot of all watched symbols. Pure read, no side
// effects.
func (s *Supervisor) Status() map[string]ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[string]ConnState, len(s.states))
	for symbol, state := range s.states {
		snapshot[symbol] = ConnState{
			Status:            state.status,
			LastMessageTime:   state.lastMessageTime,
			ReconnectAttempts: state.reconnectAttempts,
		}
	}
	return snapshot
}

// sweep force-closes connections that have been silent for longer than the
// staleness threshold, triggering the normal reconnect cycle.
func (s *Supervisor) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for symbol, state := range s.states {
		if state.status != StatusConnected {
			continue
		}
		if now.Sub(state.lastMessageTime) <= s.cfg.StaleAfter {
			continue
		}
		s.logger.Warn("Stale connection detected, forcing reconnect",
			zap.String("symbol", symbol),
			zap.Time("last_message", state.lastMessageTime),
		)
		state.status = StatusReconnecting
		if state.conn != nil {
			// Unblocks the read loop, which drives the reconnect.
			_ = state.conn.Close()
		}
	}
}

// run is the per-symbol connection loop. It never gives up: every failed
// or closed cycle increments the attempt counter and schedules a capped
// backoff retry until the symbol is torn down.
func (s *Supervisor) run(ctx context.Context, symbol string) {
	defer s.wg.Done()

	l := s.logger.With(zap.String("symbol", symbol))

	for {
		attempts := s.attempts(symbol)
		if attempts == 0 {
			s.setStatus(symbol, StatusConnecting)
		} else {
			s.setStatus(symbol, StatusReconnecting)
		}

		conn, err := s.dial(ctx, symbol)
		if err != nil {
			if ctx.Err() != nil {
				s.setStatus(symbol, StatusClosed)
				return
			}
			s.setStatus(symbol, StatusError)
			attempts, delay := s.scheduleRetry(symbol)
			l.Warn("Dial failed, scheduling reconnect",
				zap.Int("attempts", attempts),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				s.setStatus(symbol, StatusClosed)
				return
			case <-time.After(delay):
				continue
			}
		}

		l.Info("Stream connected")
		s.onConnected(symbol, conn)

		err = s.readLoop(ctx, symbol, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			s.setStatus(symbol, StatusClosed)
			return
		}

		s.setStatus(symbol, StatusError)
		attempts, delay := s.scheduleRetry(symbol)
		l.Warn("Stream closed, scheduling reconnect",
			zap.Int("attempts", attempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			s.setStatus(symbol, StatusClosed)
			return
		case <-time.After(delay):
		}
	}
}

// dial opens the raw trade stream for a symbol, e.g. .../ws/btcusdt@trade.
func (s *Supervisor) dial(ctx context.Context, symbol string) (*websocket.Conn, error) {
	url := fmt.Sprintf("%s/%s@trade", s.baseURL, strings.ToLower(symbol))
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}
	return conn, nil
}

// tradeEvent mirrors the Binance <symbol>@trade payload. Prices arrive as
// strings.
type tradeEvent struct {
	Event     string `json:"e"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	TradeTime int64  `json:"T"` // milliseconds
}

// readLoop consumes trade messages until the connection dies or the context
// is cancelled. ReadMessage blocks with no deadline, so a watcher closes the
// connection on cancellation to unblock it even on a silent stream.
func (s *Supervisor) readLoop(ctx context.Context, symbol string, conn *websocket.Conn) error {
	conn.SetReadLimit(1024 * 1024)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		tick, ok := parseTradeMessage(raw)
		if !ok {
			continue
		}

		s.cache.Set(tick.Symbol, tick.Price, tick.Timestamp)
		s.touch(symbol)
		s.publish(tick)
	}
}

// parseTradeMessage extracts a tick from a raw trade event. Non-trade
// events and malformed prices are ignored.
func parseTradeMessage(raw []byte) (Tick, bool) {
	var event tradeEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return Tick{}, false
	}
	if event.Event != "trade" || event.Symbol == "" {
		return Tick{}, false
	}
	price, err := strconv.ParseFloat(event.Price, 64)
	if err != nil || price <= 0 {
		return Tick{}, false
	}
	return Tick{
		Symbol:    event.Symbol,
		Price:     price,
		Timestamp: time.UnixMilli(event.TradeTime),
	}, true
}

// publish fans a tick out to all subscribers, dropping when a buffer is
// full so the read loop never blocks on a slow consumer.
func (s *Supervisor) publish(tick Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.subs[tick.Symbol] {
		select {
		case ch <- tick:
		default:
		}
	}
}

func (s *Supervisor) onConnected(symbol string, conn *websocket.Conn) {
	s.mu.Lock()
	if state, ok := s.states[symbol]; ok {
		state.status = StatusConnected
		state.reconnectAttempts = 0
		state.lastMessageTime = time.Now()
		state.conn = conn
	}
	s.mu.Unlock()
}

func (s *Supervisor) setStatus(symbol string, status Status) {
	s.mu.Lock()
	if state, ok := s.states[symbol]; ok {
		state.status = status
		if status != StatusConnected {
			state.conn = nil
		}
	}
	s.mu.Unlock()
}

func (s *Supervisor) touch(symbol string) {
	s.mu.Lock()
	if state, ok := s.states[symbol]; ok {
		state.lastMessageTime = time.Now()
	}
	s.mu.Unlock()
}

func (s *Supervisor) attempts(symbol string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.states[symbol]; ok {
		return state.reconnectAttempts
	}
	return 0
}

// scheduleRetry records one more failure and returns the new counter plus
// the delay before the next attempt. The delay grows with the failures seen
// so far, so the first retry waits roughly one second.
func (s *Supervisor) scheduleRetry(symbol string) (int, time.Duration) {
	attempts := s.bumpAttempts(symbol)
	return attempts, BackoffDelay(attempts-1, s.cfg.MaxBackoff) + jitter()
}

func (s *Supervisor) bumpAttempts(symbol string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.states[symbol]; ok {
		state.reconnectAttempts++
		return state.reconnectAttempts
	}
	return 0
}

// BackoffDelay computes the reconnect delay for the given attempt count:
// 2^attempts seconds, capped at max. Jitter is added separately.
func BackoffDelay(attempts int, max time.Duration) time.Duration {
	delay := time.Duration(math.Pow(2, float64(attempts))) * time.Second
	if delay > max || delay <= 0 {
		return max
	}
	return delay
}

func jitter() time.Duration {
	return time.Duration(rand.Int63n(int64(time.Second)))
}
