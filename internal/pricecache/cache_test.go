package pricecache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_GetUnknownSymbol(t *testing.T) {
	c := New()

	_, err := c.Get("XYZUSDT")

	assert.ErrorIs(t, err, ErrNoPriceAvailable)
}

func TestCache_SetThenGet(t *testing.T) {
	c := New()
	now := time.Now()

	c.Set("BTCUSDT", 60000, now)

	price, err := c.Get("BTCUSDT")
	assert.NoError(t, err)
	assert.Equal(t, 60000.0, price)

	entry, err := c.GetEntry("BTCUSDT")
	assert.NoError(t, err)
	assert.Equal(t, now, entry.Timestamp)
}

func TestCache_LastWriterWins(t *testing.T) {
	c := New()
	newer := time.Now()
	older := newer.Add(-time.Minute)

	c.Set("BTCUSDT", 60000, newer)
	// A late-arriving out-of-order tick still overwrites.
	c.Set("BTCUSDT", 59000, older)

	price, err := c.Get("BTCUSDT")
	assert.NoError(t, err)
	assert.Equal(t, 59000.0, price)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(v float64) {
			defer wg.Done()
			c.Set("ETHUSDT", v, time.Now())
		}(float64(i))
		go func() {
			defer wg.Done()
			_, _ = c.Get("ETHUSDT")
		}()
	}
	wg.Wait()

	price, err := c.Get("ETHUSDT")
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, price, 0.0)
	assert.Less(t, price, 50.0)
}
