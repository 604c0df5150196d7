package pricecache

import (
	"errors"
	"sync"
	"time"
)

// ErrNoPriceAvailable is returned when a symbol has never received a tick.
// There is deliberately no REST or database fallback: callers must treat a
// missing price as a hard precondition failure, not substitute stale data.
var ErrNoPriceAvailable = errors.New("no price available for symbol")

// Entry is the latest observed price for a symbol.
type Entry struct {
	Price     float64
	Timestamp time.Time
}

// Cache is a shared, thread-safe mapping from symbol to the latest observed
// price. Writes are last-writer-wins with no ordering validation; an
// out-of-order tick may overwrite a newer one.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New creates an empty price cache.
func New() *Cache {
	return &Cache{entries: make(map[string]Entry)}
}

// Set records the latest price for a symbol, unconditionally overwriting
// any previous value.
func (c *Cache) Set(symbol string, price float64, timestamp time.Time) {
	c.mu.Lock()
	c.entries[symbol] = Entry{Price: price, Timestamp: timestamp}
	c.mu.Unlock()
}

// Get returns the latest price for a symbol, or ErrNoPriceAvailable when
// the symbol has never received a tick.
func (c *Cache) Get(symbol string) (float64, error) {
	c.mu.RLock()
	entry, ok := c.entries[symbol]
	c.mu.RUnlock()
	if !ok {
		return 0, ErrNoPriceAvailable
	}
	return entry.Price, nil
}

// GetEntry returns the latest price together with its arrival timestamp.
func (c *Cache) GetEntry(symbol string) (Entry, error) {
	c.mu.RLock()
	entry, ok := c.entries[symbol]
	c.mu.RUnlock()
	if !ok {
		return Entry{}, ErrNoPriceAvailable
	}
	return entry, nil
}
