package trader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"binance-position-bot-go/internal/ledger"
	"binance-position-bot-go/internal/pricecache"
	"go.uber.org/zap"
)

// APIServer exposes the engine's read and write surface over HTTP for a
// request-routing layer or UI.
type APIServer struct {
	server   *http.Server
	engine   *Engine
	executor *Executor
	logger   *zap.Logger
}

// NewAPIServer creates a new APIServer.
func NewAPIServer(port int, engine *Engine, executor *Executor, logger *zap.Logger) *APIServer {
	s := &APIServer{
		engine:   engine,
		executor: executor,
		logger:   logger.Named("api-server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/price", s.priceHandler)
	mux.HandleFunc("/buy", s.buyHandler)
	mux.HandleFunc("/sell", s.sellHandler)
	mux.HandleFunc("/start", s.startHandler)
	mux.HandleFunc("/stop", s.stopHandler)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	return s
}

// Start runs the HTTP server in a new goroutine.
func (s *APIServer) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

func (s *APIServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func (s *APIServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.ConnectionStatus())
}

func (s *APIServer) priceHandler(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		s.writeError(w, http.StatusBadRequest, "missing 'symbol' query parameter")
		return
	}

	price, err := s.engine.LatestPrice(symbol)
	if errors.Is(err, pricecache.ErrNoPriceAvailable) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": symbol,
		"price":  price,
	})
}

type orderRequest struct {
	PairID            uint    `json:"pair_id"`
	Amount            float64 `json:"amount"`
	InitialInvestment float64 `json:"initial_investment"`
}

func (s *APIServer) buyHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeOrder(w, r)
	if !ok {
		return
	}
	if req.Amount <= 0 {
		s.writeError(w, http.StatusBadRequest, "'amount' must be positive")
		return
	}

	result, err := s.executor.ExecuteBuy(req.PairID, req.Amount, "MANUAL")
	if err != nil {
		s.writeExecutionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *APIServer) sellHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeOrder(w, r)
	if !ok {
		return
	}

	result, err := s.executor.ExecuteSellAll(req.PairID, "MANUAL")
	if err != nil {
		s.writeExecutionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *APIServer) startHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeOrder(w, r)
	if !ok {
		return
	}

	if err := s.engine.StartTrading(req.PairID, req.InitialInvestment); err != nil {
		s.writeExecutionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *APIServer) stopHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeOrder(w, r)
	if !ok {
		return
	}

	if err := s.engine.StopTrading(req.PairID); err != nil {
		s.writeExecutionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *APIServer) decodeOrder(w http.ResponseWriter, r *http.Request) (orderRequest, bool) {
	var req orderRequest
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "POST required")
		return req, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return req, false
	}
	if req.PairID == 0 {
		s.writeError(w, http.StatusBadRequest, "missing 'pair_id'")
		return req, false
	}
	return req, true
}

func (s *APIServer) writeExecutionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrPriceUnavailable), errors.Is(err, ErrNothingToSell):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *APIServer) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *APIServer) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to write response", zap.Error(err))
	}
}
