package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kensaku/internal/broker"
	"github.com/hyperjump/kensaku/internal/models"
)

// selfWriteWindow is how long after an API-driven mutation the store
// watcher attributes database writes to this process.
const selfWriteWindow = 5 * time.Second

type searchRequest struct {
	Query           []float32 `json:"query"`
	LibraryIDs      []string  `json:"library_ids,omitempty"`
	TopK            int       `json:"top_k,omitempty"`
	ScoreThreshold  *float64  `json:"score_threshold,omitempty"`
	ExcludeChunkIDs []string  `json:"exclude_chunk_ids,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Query) == 0 {
		s.respondError(w, http.StatusBadRequest, "query vector is required")
		return
	}
	opts := models.SearchOptions{
		LibraryIDs:      req.LibraryIDs,
		TopK:            req.TopK,
		ExcludeChunkIDs: req.ExcludeChunkIDs,
	}
	if req.ScoreThreshold != nil {
		opts.ScoreThreshold = *req.ScoreThreshold
	}
	s.logger.Debug("search request", zap.Int("dimension", len(req.Query)), zap.Int("top_k", req.TopK))
	results, err := s.broker.Search(r.Context(), req.Query, opts)
	if err != nil {
		s.respondBrokerError(w, "search", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"results": results, "count": len(results)})
}

type insertRequest struct {
	ChunkID   string    `json:"chunk_id"`
	LibraryID string    `json:"library_id,omitempty"`
	Vector    []float32 `json:"vector"`
	Model     string    `json:"model,omitempty"`
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	var req insertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ChunkID == "" {
		s.respondError(w, http.StatusBadRequest, "chunk_id is required")
		return
	}
	if len(req.Vector) == 0 {
		s.respondError(w, http.StatusBadRequest, "vector is required")
		return
	}
	s.markSelfWrite()
	if err := s.broker.Insert(r.Context(), req.ChunkID, req.LibraryID, req.Vector, req.Model); err != nil {
		s.respondBrokerError(w, "insert", err)
		return
	}
	s.markSelfWrite()
	s.respondJSON(w, http.StatusCreated, map[string]string{"chunk_id": req.ChunkID, "status": "indexed"})
}

type batchRequest struct {
	Items []models.InsertItem `json:"items"`
}

func (s *Server) handleInsertBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Items) == 0 {
		s.respondError(w, http.StatusBadRequest, "items are required")
		return
	}
	for _, item := range req.Items {
		if item.ChunkID == "" {
			s.respondError(w, http.StatusBadRequest, "every item needs a chunk_id")
			return
		}
	}
	s.markSelfWrite()
	result, err := s.broker.InsertBatch(r.Context(), req.Items)
	if err != nil {
		s.respondBrokerError(w, "batch insert", err)
		return
	}
	s.markSelfWrite()
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	var cfg models.IndexConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if cfg.Dimension <= 0 {
		s.respondError(w, http.StatusBadRequest, "dimension must be positive")
		return
	}
	s.logger.Info("rebuild requested", zap.Int("dimension", cfg.Dimension))
	s.markSelfWrite()
	if err := s.broker.Rebuild(r.Context(), cfg); err != nil {
		s.respondBrokerError(w, "rebuild", err)
		return
	}
	s.markSelfWrite()
	if s.watch != nil {
		s.watch.Acknowledge()
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "rebuilt"})
}

type statsResponse struct {
	models.IndexStats
	State                  string `json:"state"`
	StoreChangedExternally bool   `json:"store_changed_externally"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.broker.Stats(r.Context())
	if err != nil {
		s.respondBrokerError(w, "stats", err)
		return
	}
	resp := statsResponse{IndexStats: stats, State: s.broker.State().String()}
	if s.watch != nil {
		resp.StoreChangedExternally = s.watch.ChangedExternally()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "state": s.broker.State().String()})
}

func (s *Server) markSelfWrite() {
	if s.watch != nil {
		s.watch.MarkSelfWrite(selfWriteWindow)
	}
}

// respondBrokerError maps broker failures onto HTTP statuses: worker
// availability problems are 503, deadline misses 504, and operation
// rejections reported by the worker itself 400.
func (s *Server) respondBrokerError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op+" failed", zap.Error(err))
	var opErr *broker.OpError
	switch {
	case errors.Is(err, broker.ErrRequestTimeout):
		s.respondError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, broker.ErrNotInitialized),
		errors.Is(err, broker.ErrRestarting),
		errors.Is(err, broker.ErrWorkerCrashed),
		errors.Is(err, broker.ErrMaxRestartsExceeded),
		errors.Is(err, broker.ErrClosing):
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &opErr):
		s.respondError(w, http.StatusBadRequest, opErr.Message)
	default:
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
