package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lbayas/cyclearb/internal/apperror"
	"github.com/lbayas/cyclearb/internal/events"
	"github.com/lbayas/cyclearb/internal/logger"
)

// ServerConfig controls the operator API.
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns the standard API settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8080",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Server exposes the engine over HTTP: current opportunities, manual
// execution and a websocket event stream.
type Server struct {
	config ServerConfig
	engine *Engine
	bus    *events.Bus
	logger logger.LoggerInterface
	http   *http.Server
}

// NewServer builds the operator API for an engine.
func NewServer(cfg ServerConfig, engine *Engine, bus *events.Bus, log logger.LoggerInterface) *Server {
	s := &Server{
		config: cfg,
		engine: engine,
		bus:    bus,
		logger: log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /opportunities", s.handleOpportunities)
	mux.HandleFunc("POST /execute", s.handleExecute)
	mux.HandleFunc("GET /events", s.handleEvents)

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Start serves until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "api server listening", "addr", s.config.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

type opportunityDTO struct {
	CycleID         string   `json:"cycle_id"`
	Start           string   `json:"start"`
	Path            []string `json:"path"`
	Pools           []string `json:"pools"`
	Hops            int      `json:"hops"`
	ExpectedReturn  float64  `json:"expected_return"`
	SpreadBps       float64  `json:"spread_bps"`
	SimulatedReturn string   `json:"simulated_return"`
	Confidence      float64  `json:"confidence"`
	FoundAt         string   `json:"found_at"`
}

type opportunitiesResponse struct {
	Block         uint64           `json:"block"`
	SweepAt       string           `json:"sweep_at"`
	Opportunities []opportunityDTO `json:"opportunities"`
}

func (s *Server) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	validated, block, sweepAt := s.engine.Opportunities()

	resp := opportunitiesResponse{
		Block:         block,
		SweepAt:       sweepAt.UTC().Format(time.RFC3339),
		Opportunities: make([]opportunityDTO, 0, len(validated)),
	}

	for _, vc := range validated {
		c := vc.Cycle

		path := make([]string, 0, c.Len()+1)
		for _, t := range c.Path() {
			path = append(path, t.Symbol())
		}
		pools := make([]string, 0, c.Len())
		for _, p := range c.Pools() {
			pools = append(pools, p.Hex())
		}

		resp.Opportunities = append(resp.Opportunities, opportunityDTO{
			CycleID:         c.ID.String(),
			Start:           c.Start.Symbol(),
			Path:            path,
			Pools:           pools,
			Hops:            c.Len(),
			ExpectedReturn:  c.ExpectedReturn,
			SpreadBps:       c.SpreadBps(),
			SimulatedReturn: vc.SimulatedReturn.String(),
			Confidence:      vc.Confidence,
			FoundAt:         c.FoundAt.UTC().Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type executeRequest struct {
	CycleID     string  `json:"cycle_id"`
	AmountIn    string  `json:"amount_in"`
	SlippageBps float64 `json:"slippage_bps"`
}

type executeResponse struct {
	IntentID string `json:"intent_id"`
	Status   string `json:"status"`
	Cause    string `json:"cause,omitempty"`
	TxHash   string `json:"tx_hash,omitempty"`
	Sequence uint64 `json:"sequence"`
	GasUsed  uint64 `json:"gas_used"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	cycleID, err := uuid.Parse(req.CycleID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed cycle_id")
		return
	}
	amount, err := decimal.NewFromString(req.AmountIn)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed amount_in")
		return
	}

	result, err := s.engine.Execute(r.Context(), ExecuteParams{
		CycleID:     cycleID,
		AmountIn:    amount,
		SlippageBps: req.SlippageBps,
	})
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case apperror.IsCode(err, apperror.CodeCycleNotFound):
			status = http.StatusNotFound
		case apperror.IsCode(err, apperror.CodeInvalidTradeSize):
			status = http.StatusBadRequest
		case apperror.IsCode(err, apperror.CodeExecutionInFlight):
			status = http.StatusConflict
		}

		// A failed execution still has a result worth returning.
		if result == nil {
			writeError(w, status, string(apperror.GetCode(err)))
			return
		}
		writeJSON(w, status, executeResponse{
			IntentID: result.IntentID.String(),
			Status:   string(result.Status),
			Cause:    string(result.Cause),
			TxHash:   result.TxHash.Hex(),
			Sequence: result.Sequence,
			GasUsed:  result.GasUsed,
		})
		return
	}

	writeJSON(w, http.StatusOK, executeResponse{
		IntentID: result.IntentID.String(),
		Status:   string(result.Status),
		TxHash:   result.TxHash.Hex(),
		Sequence: result.Sequence,
		GasUsed:  result.GasUsed,
	})
}

// handleEvents streams engine events over a websocket until the client
// goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn(r.Context(), "websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	sub, cancel := s.bus.Subscribe()
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				var closeErr websocket.CloseError
				if !errors.As(err, &closeErr) && !errors.Is(err, net.ErrClosed) {
					s.logger.Debug(ctx, "event stream write failed", "error", err)
				}
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
