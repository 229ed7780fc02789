// Package httpapi exposes analysis runs, archived reports and live run
// events over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Kocoro-lab/battery-analyst/internal/envelope"
	"github.com/Kocoro-lab/battery-analyst/internal/store"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Runner executes analysis runs.
type Runner interface {
	NewRunID() string
	RunWithID(ctx context.Context, runID, query, context string) (*envelope.Envelope, error)
}

// RunLookup reports run IDs that already have published events.
type RunLookup interface {
	Known(runID string) bool
}

// AnalyzeRequest is the body of POST /v1/analyze.
type AnalyzeRequest struct {
	Query   string `json:"query" validate:"max=4000"`
	Context string `json:"context" validate:"max=8000"`
	// RunID lets a client subscribe to the run's events before starting it.
	RunID string `json:"run_id" validate:"omitempty,uuid"`
	// Async returns 202 with the run ID instead of waiting for the report.
	Async bool `json:"async"`
}

// Handler serves the analysis API.
type Handler struct {
	runner   Runner
	store    store.Store
	validate *validator.Validate
	logger   *zap.Logger
	// bg is the parent context of async runs; it outlives the request.
	bg     context.Context
	runs   RunLookup
	active sync.Map
}

func NewHandler(bg context.Context, runner Runner, st store.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if st == nil {
		st = store.NopStore{}
	}
	return &Handler{runner: runner, store: st, validate: validator.New(), logger: logger, bg: bg}
}

// WithRuns rejects client-supplied run IDs that l already knows about.
func (h *Handler) WithRuns(l RunLookup) *Handler {
	h.runs = l
	return h
}

// RegisterRoutes registers the /v1 analysis and report routes.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.Handle("/v1/analyze", limitBody(http.HandlerFunc(h.handleAnalyze))).Methods(http.MethodPost)
	r.HandleFunc("/v1/reports", h.handleListReports).Methods(http.MethodGet)
	r.HandleFunc("/v1/reports/{id}", h.handleGetReport).Methods(http.MethodGet)
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runID := req.RunID
	if runID == "" {
		runID = h.runner.NewRunID()
	}
	if !h.claim(runID) {
		writeError(w, http.StatusConflict, "run_id already in use")
		return
	}

	if req.Async {
		go func() {
			defer h.active.Delete(runID)
			if _, err := h.execute(h.bg, runID, req); err != nil {
				h.logger.Error("Async run failed", zap.String("run_id", runID), zap.Error(err))
			}
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{
			"run_id": runID,
			"events": "/v1/runs/" + runID + "/events",
		})
		return
	}

	// A disconnecting client must not cancel the tasks of a submitted run.
	env, err := h.execute(context.WithoutCancel(r.Context()), runID, req)
	h.active.Delete(runID)
	if err != nil {
		h.logger.Error("Run failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, env)
}

// claim reserves runID for one in-flight request.
func (h *Handler) claim(runID string) bool {
	if _, loaded := h.active.LoadOrStore(runID, struct{}{}); loaded {
		return false
	}
	if h.runs != nil && h.runs.Known(runID) {
		h.active.Delete(runID)
		return false
	}
	return true
}

// execute runs the analysis and archives the result. Archive failures are
// logged; the envelope is still returned.
func (h *Handler) execute(ctx context.Context, runID string, req AnalyzeRequest) (*envelope.Envelope, error) {
	env, err := h.runner.RunWithID(ctx, runID, req.Query, req.Context)
	if err != nil {
		return nil, err
	}
	rec, err := store.FromEnvelope(env)
	if err != nil {
		h.logger.Warn("Failed to encode run for archive", zap.String("run_id", runID), zap.Error(err))
		return env, nil
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := h.store.Save(saveCtx, rec); err != nil {
		h.logger.Warn("Failed to archive run", zap.String("run_id", runID), zap.Error(err))
	}
	return env, nil
}

func (h *Handler) handleListReports(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}
	items, err := h.store.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("List reports failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list reports failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": items, "count": len(items)})
}

func (h *Handler) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := h.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	if err != nil {
		h.logger.Error("Get report failed", zap.String("run_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get report failed")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
