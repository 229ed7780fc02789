package httpapi

import (
	"net/http"
	"time"

	"github.com/Kocoro-lab/battery-analyst/internal/streaming"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // secured by the proxy in front
}

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 20 * time.Second
)

// handleWS streams run events as JSON websocket messages and closes after
// run.completed.
// GET /v1/runs/{id}/ws
func (h *StreamingHandler) handleWS(w http.ResponseWriter, r *http.Request) {
	sr := parseStreamRequest(r)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := h.mgr.Subscribe(sr.runID, 256)
	defer h.mgr.Unsubscribe(sr.runID, ch)

	last := sr.lastID
	send := func(evt streaming.Event) (done bool, err error) {
		if evt.Seq <= last {
			return false, nil
		}
		last = evt.Seq
		if sr.wants(evt) {
			if err := conn.WriteJSON(evt); err != nil {
				return true, err
			}
		}
		return evt.Terminal(), nil
	}
	closeNormal := func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run completed"),
			time.Now().Add(time.Second))
	}

	for _, evt := range h.mgr.ReplaySince(sr.runID, sr.lastID) {
		done, err := send(evt)
		if err != nil {
			return
		}
		if done {
			closeNormal()
			return
		}
	}

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// Reader pump: discards client messages and notices disconnects.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-gone:
			h.logger.Debug("Websocket client disconnected", zap.String("run_id", sr.runID))
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			done, err := send(evt)
			if err != nil {
				return
			}
			if done {
				closeNormal()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}
