package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/uhyunpark/hbsledger/pkg/consensus"
	"github.com/uhyunpark/hbsledger/pkg/experiment"
	"github.com/uhyunpark/hbsledger/pkg/metrics"

	"go.uber.org/zap"
)

// Server exposes completed runs, Prometheus metrics and a live block stream
type Server struct {
	registry *experiment.Registry
	prom     *metrics.Collectors
	router   *mux.Router
	hub      *Hub
	logger   *zap.SugaredLogger
}

// NewServer creates a new API server. prom and logger may be nil.
func NewServer(registry *experiment.Registry, prom *metrics.Collectors, logger *zap.SugaredLogger) *Server {
	s := &Server{
		registry: registry,
		prom:     prom,
		router:   mux.NewRouter(),
		hub:      NewHub(logger),
		logger:   logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/runs", s.handleListRuns).Methods("GET")
	api.HandleFunc("/runs/{id}", s.handleGetRun).Methods("GET")
	api.HandleFunc("/runs/{id}/blocks", s.handleGetBlocks).Methods("GET")
	api.HandleFunc("/runs/{id}/blocks/{index}", s.handleGetBlock).Methods("GET")

	if s.prom != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.prom.Registry, promhttp.HandlerOpts{})).Methods("GET")
	}

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the CORS-wrapped router
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.router)
}

// Start starts the hub and serves until the listener fails
func (s *Server) Start(addr string) error {
	go s.hub.Run()
	if s.logger != nil {
		s.logger.Infow("api_server_listening", "addr", addr)
	}
	return http.ListenAndServe(addr, s.Handler())
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs := s.registry.List()
	out := make([]RunInfo, len(runs))
	for i, run := range runs {
		out[i] = toRunInfo(run)
	}
	respondJSON(w, out)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	respondJSON(w, toRunInfo(run))
}

func (s *Server) handleGetBlocks(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	if run.Store == nil {
		respondJSON(w, []BlockInfo{})
		return
	}
	blocks, err := run.Store.Blocks()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	withSig := r.URL.Query().Get("signatures") == "true"
	out := make([]BlockInfo, len(blocks))
	for i, b := range blocks {
		out[i] = toBlockInfo(b, withSig)
	}
	respondJSON(w, out)
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	idx, err := strconv.ParseUint(mux.Vars(r)["index"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_index", err.Error())
		return
	}
	if run.Store == nil {
		respondError(w, http.StatusNotFound, "not_found", "block not found")
		return
	}
	b, found, err := run.Store.GetBlock(idx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "not_found", "block not found")
		return
	}
	respondJSON(w, toBlockInfo(b, true))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (*experiment.Result, bool) {
	run, err := s.registry.Get(mux.Vars(r)["id"])
	if errors.Is(err, experiment.ErrNotFound) {
		respondError(w, http.StatusNotFound, "not_found", "run not found")
		return nil, false
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "registry_error", err.Error())
		return nil, false
	}
	return run, true
}

// ==============================
// Broadcast Methods (called from the runner)
// ==============================

// BroadcastBlock pushes a produced block to subscribers of "blocks" and
// "blocks:<alg>"
func (s *Server) BroadcastBlock(runID string, ev consensus.BlockEvent) {
	msg := WSMessage{Type: "block", Data: BlockUpdate{
		RunID:   runID,
		Round:   ev.Round,
		DelayMs: ev.Delay.Milliseconds(),
		Block:   toBlockInfo(ev.Block, false),
	}}
	s.hub.BroadcastToChannel("blocks", msg)
	s.hub.BroadcastToChannel("blocks:"+ev.Block.Alg, msg)
}

// ==============================
// Helper Functions
// ==============================

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
