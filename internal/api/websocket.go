package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/bobarin/blessings/internal/models"
	"github.com/bobarin/blessings/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// StreamBatch handles GET /v1/batches/{id}/events. It pushes the status
// snapshot whenever it changes and closes once the batch is finished.
func (h *Handler) StreamBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "id")

	// Fail with a plain HTTP status before upgrading.
	status, err := h.batches.Status(r.Context(), batchID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[API] Websocket upgrade failed for %s: %v", batchID, err)
		return
	}
	defer conn.Close()

	// The read loop only services pongs and notices the client going away.
	gone := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	poll := time.NewTicker(h.cfg.StatusInterval)
	defer poll.Stop()
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	var last []byte
	for {
		payload, err := json.Marshal(status)
		if err != nil {
			log.Printf("[API] Warning: cannot encode status for %s: %v", batchID, err)
			return
		}
		if !bytes.Equal(payload, last) {
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
			last = payload
		}
		if finished(status) {
			closeStream(conn, websocket.CloseNormalClosure, "batch finished")
			return
		}

		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			continue
		case <-poll.C:
		}

		status, err = h.batches.Status(r.Context(), batchID)
		if errors.Is(err, store.ErrJobNotFound) {
			closeStream(conn, websocket.CloseGoingAway, "batch expired")
			return
		}
		if err != nil {
			log.Printf("[API] Warning: status poll for %s failed: %v", batchID, err)
			closeStream(conn, websocket.CloseInternalServerErr, "status unavailable")
			return
		}
	}
}

func finished(s *models.StatusResponse) bool {
	return s.Status == models.JobStatusDone || s.Status == models.JobStatusError
}

func closeStream(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}
