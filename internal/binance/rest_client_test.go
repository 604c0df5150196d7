package binance

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"binance-position-bot-go/internal/config"
	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// setupTestServer creates a new test server and a RestClient configured to use it.
func setupTestServer(handler http.Handler) (*RestClient, *httptest.Server) {
	server := httptest.NewServer(handler)

	client := resty.New().SetBaseURL(server.URL)
	logger := zap.NewNop() // Use a no-op logger for tests

	rc := &RestClient{
		client:    client,
		apiKey:    "test_api_key",
		secretKey: "test_secret_key",
		logger:    logger,
		limiter:   rate.NewLimiter(rate.Inf, 1), // Allow all requests in tests
	}

	return rc, server
}

func TestGetServerTime(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		// Arrange
		expectedTime := time.Now().UnixMilli()
		mockResponse := fmt.Sprintf(`{"serverTime": %d}`, expectedTime)

		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/time", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(mockResponse))
		})

		rc, server := setupTestServer(handler)
		defer server.Close()

		// Act
		serverTime, err := rc.GetServerTime()

		// Assert
		assert.NoError(t, err)
		assert.Equal(t, expectedTime, serverTime)
	})

	t.Run("APIError", func(t *testing.T) {
		// Arrange
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/time", r.URL.Path)
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"code": -1001, "msg": "Internal error"}`))
		})

		rc, server := setupTestServer(handler)
		defer server.Close()

		// Act
		serverTime, err := rc.GetServerTime()

		// Assert
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get server time")
		assert.Contains(t, err.Error(), "request failed") // Check for the error from doRequest
		assert.Equal(t, int64(0), serverTime)
	})
}

func TestGetExchangeInfo_LotSizeStep(t *testing.T) {
	// Arrange
	mockResponse := `{
		"symbols": [
			{
				"symbol": "BTCUSDT",
				"status": "TRADING",
				"filters": [
					{"filterType": "PRICE_FILTER", "minQty": "", "maxQty": ""},
					{"filterType": "LOT_SIZE", "minQty": "0.00001", "maxQty": "9000", "stepSize": "0.00001"}
				]
			}
		]
	}`

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/exchangeInfo", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(mockResponse))
	})

	rc, server := setupTestServer(handler)
	defer server.Close()

	// Act
	info, err := rc.GetExchangeInfo()

	// Assert
	assert.NoError(t, err)
	assert.Len(t, info.Symbols, 1)
	assert.Equal(t, 0.00001, info.Symbols[0].LotSizeStep())
}

func TestSymbolInfo_LotSizeStep_Missing(t *testing.T) {
	s := SymbolInfo{Symbol: "BTCUSDT", Filters: []Filter{{FilterType: "PRICE_FILTER"}}}
	assert.Equal(t, 0.0, s.LotSizeStep())
}

func TestCreateOrder(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		// Arrange
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/order", r.URL.Path)
			assert.Equal(t, "test_api_key", r.Header.Get("X-MBX-APIKEY"))
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "BTCUSDT", r.Form.Get("symbol"))
			assert.Equal(t, OrderSideBuy, r.Form.Get("side"))
			assert.Equal(t, OrderTypeMarket, r.Form.Get("type"))
			assert.NotEmpty(t, r.Form.Get("signature"))

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"symbol": "BTCUSDT", "orderId": 42, "status": "FILLED"}`))
		})

		rc, server := setupTestServer(handler)
		defer server.Close()

		// Act
		resp, err := rc.CreateOrder("BTCUSDT", OrderSideBuy, 0.001)

		// Assert
		assert.NoError(t, err)
		assert.Equal(t, int64(42), resp.OrderID)
	})

	t.Run("Rejected", func(t *testing.T) {
		// Arrange
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code": -2010, "msg": "Account has insufficient balance"}`))
		})

		rc, server := setupTestServer(handler)
		defer server.Close()

		// Act
		resp, err := rc.CreateOrder("BTCUSDT", OrderSideSell, 1)

		// Assert
		assert.Error(t, err)
		assert.Nil(t, resp)
		assert.Contains(t, err.Error(), "failed to create order")
	})
}

func TestNewRestClient(t *testing.T) {
	t.Run("Testnet", func(t *testing.T) {
		cfg := &config.Binance{Testnet: true}
		logger := zap.NewNop()
		rc := NewRestClient(cfg, logger)
		assert.NotNil(t, rc)
		assert.Equal(t, cfg.ApiKey, rc.apiKey)
		assert.Equal(t, cfg.SecretKey, rc.secretKey)
	})

	t.Run("Production", func(t *testing.T) {
		cfg := &config.Binance{Testnet: false}
		logger := zap.NewNop()
		rc := NewRestClient(cfg, logger)
		assert.NotNil(t, rc)
		assert.Equal(t, cfg.ApiKey, rc.apiKey)
		assert.Equal(t, cfg.SecretKey, rc.secretKey)
	})
}
