// Package server is the HTTP gateway in front of the relayer core.
package server

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"log"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"time"

	"upirelay/internal/config"
	"upirelay/internal/escrow"
	"upirelay/internal/metastore"
	"upirelay/internal/ratelimit"
	"upirelay/internal/relayer"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Server struct {
	cfg        *config.Config
	relayer    *relayer.Service
	meta       metastore.Store
	limiter    *ratelimit.Limiter
	metrics    *metricsRegistry
	httpServer *http.Server
}

func NewServer(cfg *config.Config, svc *relayer.Service, meta metastore.Store) *Server {
	s := &Server{
		cfg:     cfg,
		relayer: svc,
		meta:    meta,
		limiter: ratelimit.New(cfg.RateLimitWindow, cfg.RateLimitMax),
		metrics: newMetricsRegistry(),
	}

	r := chi.NewRouter()
	r.Use(s.recoverMiddleware, requestIDMiddleware)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.metrics.handler())

	r.Route("/api", func(api chi.Router) {
		api.Use(s.rateLimitMiddleware)
		api.Post("/conditions", s.handleStoreMetadata)
		api.Get("/conditions", s.handleListConditions)
		api.Get("/conditions/{id}", s.handleGetCondition)
		api.Post("/conditions/{id}/trigger", s.handleTrigger)
	})

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	log.Printf("relayer API listening on %s (network %s)", s.httpServer.Addr, s.cfg.Network)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// conditionView merges ledger truth with the off-ledger metadata record.
type conditionView struct {
	ID          uint64          `json:"id"`
	Payer       string          `json:"payer"`
	Payee       string          `json:"payee"`
	Amount      string          `json:"amount"`
	Deadline    int64           `json:"deadline"`
	MetadataURI string          `json:"metadataURI"`
	Executed    bool            `json:"executed"`
	Refunded    bool            `json:"refunded"`
	CreatedAt   int64           `json:"createdAt"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CanTrigger  *bool           `json:"canTrigger,omitempty"`
	CanRefund   *bool           `json:"canRefund,omitempty"`
	Status      string          `json:"status"`
}

func newConditionView(cond escrow.Condition) conditionView {
	return conditionView{
		ID:          cond.ID,
		Payer:       cond.Payer.Hex(),
		Payee:       cond.Payee.Hex(),
		Amount:      formatEther(cond.Amount),
		Deadline:    cond.Deadline,
		MetadataURI: cond.MetadataURI,
		Executed:    cond.Executed,
		Refunded:    cond.Refunded,
		CreatedAt:   cond.CreatedAt,
		Status:      cond.Status(),
	}
}

type storeMetadataRequest struct {
	ConditionID *uint64         `json:"conditionId"`
	Metadata    json.RawMessage `json:"metadata"`
}

type triggerRequest struct {
	Proof  string `json:"proof"`
	APIKey string `json:"apiKey"`
}

func (s *Server) handleStoreMetadata(w http.ResponseWriter, r *http.Request) {
	var payload storeMetadataRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if payload.ConditionID == nil {
		writeError(w, http.StatusBadRequest, "conditionId is required")
		return
	}

	metadata := payload.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage(`{}`)
	}

	record := metastore.Record{
		ConditionID: *payload.ConditionID,
		Metadata:    metadata,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.meta.Save(r.Context(), record); err != nil {
		log.Printf("store metadata for condition %d: %v", record.ConditionID, err)
		writeError(w, http.StatusInternalServerError, "Failed to store condition metadata")
		return
	}

	s.metrics.incMetadataWrite()
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"conditionId": record.ConditionID,
		"message":     "Condition metadata stored",
	})
}

func (s *Server) handleGetCondition(w http.ResponseWriter, r *http.Request) {
	id, ok := s.conditionID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	cond, err := s.relayer.Condition(ctx, id)
	if errors.Is(err, escrow.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Condition not found")
		return
	}
	if err != nil {
		log.Printf("fetch condition %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch condition status")
		return
	}

	canTrigger, err := s.relayer.CanTrigger(ctx, id)
	if err != nil {
		log.Printf("canTrigger %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch condition status")
		return
	}
	canRefund, err := s.relayer.CanRefund(ctx, id)
	if err != nil {
		log.Printf("canRefund %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch condition status")
		return
	}

	view := newConditionView(cond)
	view.CanTrigger = &canTrigger
	view.CanRefund = &canRefund
	view.Metadata = json.RawMessage(`{}`)
	// Metadata is descriptive only; a store failure must not hide ledger truth.
	if rec, err := s.meta.Get(ctx, id); err == nil && rec != nil {
		view.Metadata = rec.Metadata
	}

	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	id, ok := s.conditionID(w, r)
	if !ok {
		return
	}

	var payload triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	// The key is checked before the proof or the ledger is touched.
	if !hmac.Equal([]byte(payload.APIKey), []byte(s.cfg.APIKey)) {
		s.metrics.incTrigger("unauthorized")
		writeError(w, http.StatusUnauthorized, "Invalid API key")
		return
	}
	if payload.Proof == "" {
		writeError(w, http.StatusBadRequest, "Proof is required")
		return
	}

	ctx := r.Context()
	cond, err := s.relayer.Condition(ctx, id)
	if errors.Is(err, escrow.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Condition not found")
		return
	}
	if err != nil {
		log.Printf("fetch condition %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "Failed to trigger condition")
		return
	}
	if cond.Executed {
		writeError(w, http.StatusBadRequest, "Condition already executed")
		return
	}
	if cond.Refunded {
		writeError(w, http.StatusBadRequest, "Condition already refunded")
		return
	}

	result, err := s.relayer.Trigger(ctx, id, relayer.HashProof(payload.Proof))
	if err != nil {
		s.metrics.incTrigger("failed")
		if errors.Is(err, escrow.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Condition not found")
			return
		}
		log.Printf("trigger condition %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, triggerFailureMessage(err))
		return
	}
	if result.Status != escrow.StatusSuccess {
		s.metrics.incTrigger("failed")
		log.Printf("trigger condition %d reverted at inclusion: tx %s", id, result.TxHash)
		writeError(w, http.StatusInternalServerError, "Failed to trigger condition")
		return
	}

	s.metrics.incTrigger("success")
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"conditionId": id,
		"txHash":      result.TxHash,
		"blockNumber": result.BlockNumber,
		"gasUsed":     strconv.FormatUint(result.GasUsed, 10),
		"message":     "Condition triggered successfully",
	})
}

// triggerFailureMessage sanitizes a ledger rejection for external callers.
// Only whitelisted classifications are surfaced; everything else collapses
// to the generic message so raw ledger error text never leaks.
func triggerFailureMessage(err error) string {
	switch escrow.ReasonOf(err) {
	case escrow.ReasonAlreadyExecuted:
		return "Condition already executed"
	case escrow.ReasonAlreadyRefunded:
		return "Condition already refunded"
	case escrow.ReasonInsufficientFunds:
		return "Relayer has insufficient funds"
	default:
		return "Failed to trigger condition"
	}
}

func (s *Server) handleListConditions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	count, err := s.relayer.Count(ctx)
	if err != nil {
		log.Printf("condition count: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch conditions")
		return
	}
	s.metrics.setKnownConditions(count)

	conditions := make([]conditionView, 0, count)
	for id := uint64(0); id < count; id++ {
		cond, err := s.relayer.Condition(ctx, id)
		if err != nil {
			// One unfetchable id must not fail the whole listing.
			log.Printf("skip condition %d in listing: %v", id, err)
			continue
		}
		conditions = append(conditions, newConditionView(cond))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":      count,
		"conditions": conditions,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.relayer.Ping(ctx); err != nil {
		s.writeUnhealthy(w, err)
		return
	}
	balance, err := s.relayer.Balance(ctx)
	if err != nil {
		s.writeUnhealthy(w, err)
		return
	}
	count, err := s.relayer.Count(ctx)
	if err != nil {
		s.writeUnhealthy(w, err)
		return
	}
	s.metrics.setKnownConditions(count)

	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "healthy",
		"network":         s.cfg.Network,
		"relayerBalance":  formatEther(balance) + " ETH",
		"totalConditions": count,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) writeUnhealthy(w http.ResponseWriter, err error) {
	log.Printf("health check: %v", err)
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"status": "unhealthy",
		"error":  "Failed to fetch relayer status",
	})
}

func (s *Server) conditionID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid condition id")
		return 0, false
	}
	return id, true
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientKey(r)) {
			s.metrics.incRateLimited()
			writeError(w, http.StatusTooManyRequests, "Too many requests, please try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				writeError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func formatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -18).String()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
