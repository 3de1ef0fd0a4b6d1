// Package api provides the HTTP and WebSocket server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/atlas-desktop/excursion-lab/internal/analysis"
	"github.com/atlas-desktop/excursion-lab/internal/data"
	"github.com/atlas-desktop/excursion-lab/internal/events"
	"github.com/atlas-desktop/excursion-lab/internal/metrics"
	"github.com/atlas-desktop/excursion-lab/internal/orchestrator"
	"github.com/atlas-desktop/excursion-lab/pkg/types"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Dependencies are the components the server routes requests to.
// Bus, Hub, Metrics and Gatherer are optional.
type Dependencies struct {
	Store    *data.Store
	Analyzer *orchestrator.Analyzer
	Bus      *events.EventBus
	Hub      *Hub
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Defaults types.AnalysisConfig
}

// Server is the HTTP/WebSocket API server
type Server struct {
	logger     *zap.Logger
	config     *types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	limiter    *rate.Limiter

	store     *data.Store
	loader    *data.Loader
	validator *data.DataQualityValidator
	analyzer  *orchestrator.Analyzer
	bus       *events.EventBus
	hub       *Hub
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
	defaults  types.AnalysisConfig
}

// NewServer creates a new API server
func NewServer(logger *zap.Logger, config *types.ServerConfig, deps Dependencies) *Server {
	if config == nil {
		config = types.DefaultServerConfig()
	}

	server := &Server{
		logger:    logger,
		config:    config,
		router:    mux.NewRouter(),
		limiter:   rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
		store:     deps.Store,
		loader:    data.NewLoader(logger),
		validator: data.NewDataQualityValidator(logger),
		analyzer:  deps.Analyzer,
		bus:       deps.Bus,
		hub:       deps.Hub,
		metrics:   deps.Metrics,
		gatherer:  deps.Gatherer,
		defaults:  deps.Defaults,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.rateLimit)

	// Datasets
	api.HandleFunc("/datasets", s.handleUploadDataset).Methods("POST")
	api.HandleFunc("/datasets", s.handleListDatasets).Methods("GET")
	api.HandleFunc("/datasets/{id}", s.handleGetDataset).Methods("GET")
	api.HandleFunc("/datasets/{id}", s.handleDeleteDataset).Methods("DELETE")

	// Analysis
	api.HandleFunc("/datasets/{id}/evaluate", s.handleEvaluate).Methods("POST")
	api.HandleFunc("/datasets/{id}/optimize", s.handleOptimize).Methods("POST")
	api.HandleFunc("/datasets/{id}/streaks", s.handleStreaks).Methods("POST")
	api.HandleFunc("/datasets/{id}/analyze", s.handleAnalyze).Methods("POST")
	api.HandleFunc("/risk", s.handleRisk).Methods("POST")

	if s.config.EnableMetrics && s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	if s.hub != nil {
		s.router.HandleFunc(s.config.WebSocketPath, s.hub.ServeWS)
	}
}

// Router returns the route table
func (s *Server) Router() *mux.Router {
	return s.router
}

// Handler returns the router wrapped in the CORS middleware
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}).Handler(s.router)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting API server", zap.String("addr", addr))

	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	if s.hub != nil {
		s.hub.CloseAll()
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// rateLimit rejects requests beyond the configured rate with 429
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}
	if s.store != nil {
		resp["datasets"] = len(s.store.List())
	}
	if s.hub != nil {
		resp["clients"] = s.hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

type datasetResponse struct {
	*data.StoredDataset
	Trades       int `json:"trades"`
	Classifiable int `json:"classifiable"`
}

func newDatasetResponse(stored *data.StoredDataset) datasetResponse {
	return datasetResponse{
		StoredDataset: stored,
		Trades:        stored.Dataset.Len(),
		Classifiable:  stored.Dataset.Classifiable(),
	}
}

// handleUploadDataset ingests a CSV export sent as the request body
func (s *Server) handleUploadDataset(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "upload.csv"
	}

	body := http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	ds, stats, err := s.loader.LoadCSV(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		var missing *data.MissingColumnsError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, err)
		case errors.As(err, &missing), errors.Is(err, io.EOF), types.IsInvalidParameter(err):
			writeError(w, http.StatusBadRequest, err)
		default:
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid csv: %w", err))
		}
		return
	}

	quality := s.validator.Validate(ds)
	stored := s.store.Put(name, ds, stats, quality)

	s.metrics.DatasetLoaded(ds.Len())
	if s.bus != nil {
		s.bus.Publish(events.NewDatasetEvent(stored.ID, name, ds.Len()))
	}

	writeJSON(w, http.StatusCreated, newDatasetResponse(stored))
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	list := s.store.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"datasets": list,
		"count":    len(list),
	})
}

func (s *Server) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	stored, err := s.store.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeAnalysisError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newDatasetResponse(stored))
}

func (s *Server) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.store.Delete(id) {
		s.writeAnalysisError(w, fmt.Errorf("dataset %s: %w", id, data.ErrDatasetNotFound))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type pairRequest struct {
	StopLoss   float64          `json:"stopLoss"`
	TakeProfit float64          `json:"takeProfit"`
	Stake      *decimal.Decimal `json:"stake,omitempty"`
	Filter     data.Selection   `json:"filter"`
}

type optimizeRequest struct {
	Stake       *decimal.Decimal `json:"stake,omitempty"`
	Percentiles []float64        `json:"percentiles,omitempty"`
	Ratios      []float64        `json:"ratios,omitempty"`
	WinRateGate *float64         `json:"winRateGate,omitempty"`
	Filter      data.Selection   `json:"filter"`
}

type ruinOverrides struct {
	RiskPerTrade   *float64 `json:"riskPerTrade,omitempty"`
	MaxDrawdown    *float64 `json:"maxDrawdown,omitempty"`
	NumSimulations *int     `json:"numSimulations,omitempty"`
	NumTrades      *int     `json:"numTrades,omitempty"`
	Seed           *int64   `json:"seed,omitempty"`
}

type analyzeRequest struct {
	optimizeRequest
	Pair *types.ThresholdPair `json:"pair,omitempty"`
	Ruin ruinOverrides        `json:"ruin"`
}

type riskRequest struct {
	WinRate      float64 `json:"winRate"`
	RewardToRisk float64 `json:"rewardToRisk"`
	ruinOverrides
}

func (o ruinOverrides) apply(cfg *types.RuinConfig) {
	if o.RiskPerTrade != nil {
		cfg.RiskPerTrade = *o.RiskPerTrade
	}
	if o.MaxDrawdown != nil {
		cfg.MaxDrawdown = *o.MaxDrawdown
	}
	if o.NumSimulations != nil {
		cfg.NumSimulations = *o.NumSimulations
	}
	if o.NumTrades != nil {
		cfg.NumTrades = *o.NumTrades
	}
	if o.Seed != nil {
		cfg.Seed = *o.Seed
	}
}

func (req optimizeRequest) apply(cfg *types.AnalysisConfig) {
	if req.Stake != nil {
		cfg.Stake = *req.Stake
	}
	if len(req.Percentiles) > 0 {
		cfg.Optimizer.Percentiles = req.Percentiles
	}
	if req.Ratios != nil {
		cfg.Optimizer.Ratios = req.Ratios
	}
	if req.WinRateGate != nil {
		cfg.Optimizer.WinRateGate = *req.WinRateGate
	}
}

// analysisConfig returns a copy of the server defaults
func (s *Server) analysisConfig() types.AnalysisConfig {
	cfg := s.defaults
	cfg.Optimizer.Percentiles = append([]float64(nil), s.defaults.Optimizer.Percentiles...)
	cfg.Optimizer.Ratios = append([]float64(nil), s.defaults.Optimizer.Ratios...)
	return cfg
}

// selectDataset resolves {id} and applies the request's filter
func (s *Server) selectDataset(r *http.Request, sel data.Selection) (string, *data.Dataset, error) {
	id := mux.Vars(r)["id"]
	stored, err := s.store.Get(id)
	if err != nil {
		return id, nil, err
	}
	ds, err := sel.Apply(stored.Dataset)
	if err != nil {
		return id, nil, err
	}
	return id, ds, nil
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id, ds, err := s.selectDataset(r, req.Filter)
	if err != nil {
		s.writeAnalysisError(w, err)
		return
	}

	stake := s.defaults.Stake
	if req.Stake != nil {
		stake = *req.Stake
	}
	pair := types.ThresholdPair{StopLoss: req.StopLoss, TakeProfit: req.TakeProfit}

	summary, err := s.analyzer.Evaluate(r.Context(), id, ds, pair, stake)
	if err != nil {
		s.writeAnalysisError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"datasetId": id,
		"pair":      pair,
		"summary":   summary,
	})
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req optimizeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id, ds, err := s.selectDataset(r, req.Filter)
	if err != nil {
		s.writeAnalysisError(w, err)
		return
	}

	cfg := s.analysisConfig()
	req.apply(&cfg)

	result, err := s.analyzer.Optimize(r.Context(), id, ds, cfg.Stake, cfg.Optimizer)
	if err != nil {
		s.writeAnalysisError(w, err)
		return
	}
	if result.Best == nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":  types.ErrNoOptimum.Error(),
			"ratios": result.Ratios,
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStreaks(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	_, ds, err := s.selectDataset(r, req.Filter)
	if err != nil {
		s.writeAnalysisError(w, err)
		return
	}

	pair := types.ThresholdPair{StopLoss: req.StopLoss, TakeProfit: req.TakeProfit}
	if pair.StopLoss < 0 || pair.TakeProfit < 0 {
		s.writeAnalysisError(w, types.NewInvalidParameter("pair", pair, "thresholds must be >= 0"))
		return
	}

	labels, counts := analysis.ClassifyDataset(ds, pair)
	if counts.Total() == 0 {
		s.writeAnalysisError(w, types.ErrNoData)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pair":    pair,
		"counts":  counts,
		"streaks": analysis.Streaks(labels),
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id, ds, err := s.selectDataset(r, req.Filter)
	if err != nil {
		s.writeAnalysisError(w, err)
		return
	}

	cfg := s.analysisConfig()
	req.optimizeRequest.apply(&cfg)
	req.Ruin.apply(&cfg.Ruin)
	cfg.Pair = req.Pair

	report, err := s.analyzer.Run(r.Context(), orchestrator.Request{
		DatasetID: id,
		Dataset:   ds,
		Config:    cfg,
	})
	if err != nil {
		s.writeAnalysisError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	var req riskRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cfg := s.defaults.Ruin
	req.ruinOverrides.apply(&cfg)

	report, err := s.analyzer.Risk(r.Context(), req.WinRate, req.RewardToRisk, cfg)
	if err != nil {
		s.writeAnalysisError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// writeAnalysisError maps domain errors onto status codes
func (s *Server) writeAnalysisError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, data.ErrDatasetNotFound):
		writeError(w, http.StatusNotFound, err)
	case types.IsInvalidParameter(err):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, types.ErrNoData), errors.Is(err, types.ErrNoOptimum):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		s.logger.Error("Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
	}
}

// decodeBody decodes a JSON body; an empty body leaves v untouched
func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
