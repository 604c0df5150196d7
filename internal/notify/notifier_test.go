package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWebhookNotifier_Disabled(t *testing.T) {
	n := NewWebhookNotifier("", zap.NewNop())

	err := n.Notify(Event{Symbol: "BTCUSDT", Side: "SELL"})

	assert.NoError(t, err)
}

func TestWebhookNotifier_PostsEvent(t *testing.T) {
	var received Event
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, zap.NewNop())

	err := n.Notify(Event{
		Symbol:   "BTCUSDT",
		Side:     "SELL",
		Quantity: 0.5,
		Price:    60000,
		Reason:   "PROFIT_TARGET",
	})

	assert.NoError(t, err)
	assert.Equal(t, "BTCUSDT", received.Symbol)
	assert.Equal(t, "PROFIT_TARGET", received.Reason)
	assert.NotEmpty(t, received.Timestamp)
}

func TestWebhookNotifier_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, zap.NewNop())

	err := n.Notify(Event{Symbol: "BTCUSDT"})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "webhook returned status")
}
