package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Kocoro-lab/battery-analyst/internal/streaming"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// StreamingHandler serves SSE and websocket endpoints for run events.
type StreamingHandler struct {
	mgr       *streaming.Manager
	logger    *zap.Logger
	heartbeat time.Duration
}

func NewStreamingHandler(mgr *streaming.Manager, logger *zap.Logger) *StreamingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamingHandler{mgr: mgr, logger: logger, heartbeat: 15 * time.Second}
}

// RegisterRoutes registers the event stream routes.
func (h *StreamingHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/runs/{id}/events", h.handleSSE).Methods(http.MethodGet)
	r.HandleFunc("/v1/runs/{id}/ws", h.handleWS).Methods(http.MethodGet)
}

// streamRequest holds the options shared by SSE and websocket streams.
type streamRequest struct {
	runID  string
	lastID uint64
	types  map[string]struct{}
}

func parseStreamRequest(r *http.Request) streamRequest {
	sr := streamRequest{runID: mux.Vars(r)["id"], types: map[string]struct{}{}}
	if s := r.URL.Query().Get("types"); s != "" {
		for _, t := range strings.Split(s, ",") {
			t = strings.TrimSpace(t)
			if t != "" {
				sr.types[t] = struct{}{}
			}
		}
	}
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			sr.lastID = n
		}
	}
	if q := r.URL.Query().Get("last_event_id"); q != "" && sr.lastID == 0 {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			sr.lastID = n
		}
	}
	return sr
}

func (sr streamRequest) wants(evt streaming.Event) bool {
	if len(sr.types) == 0 || evt.Terminal() {
		return true
	}
	_, ok := sr.types[evt.Type]
	return ok
}

// handleSSE streams events for a run via Server-Sent Events. Events already
// published after Last-Event-ID are replayed first; the stream ends after
// run.completed.
// GET /v1/runs/{id}/events
func (h *StreamingHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	sr := parseStreamRequest(r)

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// Subscribe before replaying so nothing published in between is lost.
	ch := h.mgr.Subscribe(sr.runID, 256)
	defer h.mgr.Unsubscribe(sr.runID, ch)

	fmt.Fprintf(w, ": connected to run %s\n\n", sr.runID)
	flusher.Flush()

	last := sr.lastID
	send := func(evt streaming.Event) (done bool) {
		if evt.Seq <= last {
			return false
		}
		last = evt.Seq
		if sr.wants(evt) {
			fmt.Fprintf(w, "id: %d\n", evt.Seq)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", evt.Marshal())
		}
		return evt.Terminal()
	}

	for _, evt := range h.mgr.ReplaySince(sr.runID, sr.lastID) {
		if send(evt) {
			flusher.Flush()
			return
		}
	}
	flusher.Flush()

	hb := time.NewTicker(h.heartbeat)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("run_id", sr.runID))
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			done := send(evt)
			flusher.Flush()
			if done {
				return
			}
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}
