package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/orderdeck/orderdeck/internal/events"
	"github.com/orderdeck/orderdeck/internal/idgen"
	"github.com/orderdeck/orderdeck/internal/model"
)

// wireMessage is one event frame on the stream.
type wireMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// helloData is the payload of the connection frame sent once on open.
type helloData struct {
	ConnectionID string `json:"connectionId"`
	Timestamp    int64  `json:"timestamp"`
	Message      string `json:"message"`
}

func renderEventMessage(env *events.Envelope) ([]byte, error) {
	return json.Marshal(wireMessage{
		Type:      env.Type,
		Data:      env.Payload,
		Timestamp: env.EmittedAt.UnixMilli(),
	})
}

func renderPendingMessage(ev *model.PendingEvent) ([]byte, error) {
	return json.Marshal(wireMessage{
		Type:      ev.Type,
		Data:      ev.Payload,
		Timestamp: ev.EmittedAt.UnixMilli(),
	})
}

// handleStream handles GET /v1/stream (SSE endpoint). Flow: hello frame,
// optional catchup replay, then registration for live fan-out. Replay runs
// strictly before registration so a live event cannot be reordered ahead of
// older replayed ones; an event emitted in the narrow window between the two
// may arrive twice, which the at-least-once contract accepts.
func (s *EventServer) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ident := identityFrom(r.Context())
	if ident.TenantID == "" && ident.Role != model.RolePlatformAdmin {
		writeError(w, http.StatusForbidden, "tenant scope is required")
		return
	}

	connID, err := idgen.NewConnectionID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "connection id generation failed")
		return
	}
	conn := &model.Connection{
		ConnectionID: connID,
		TenantID:     ident.TenantID,
		CallerID:     ident.CallerID,
		Role:         ident.Role,
		Scopes:       ident.Scopes,
		OpenedAt:     time.Now().UTC(),
	}

	// The stream must never be buffered or cached by intermediaries;
	// buffering defeats the real-time guarantee.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if err := writeHello(w, conn); err != nil {
		return
	}
	flusher.Flush()

	ctx := r.Context()

	// Catchup replay, before live registration. A failed replay degrades to
	// live-only rather than failing the connection.
	if since := r.URL.Query().Get("since"); since != "" {
		replayed, err := s.replay(ctx, conn.TenantID, since)
		if err != nil {
			slog.Warn("catchup failed, streaming live events only",
				"connection_id", connID, "tenant_id", conn.TenantID, "since", since, "error", err)
		} else {
			for _, ev := range replayed {
				body, err := renderPendingMessage(ev)
				if err != nil {
					continue
				}
				if err := writeFrame(w, ev.ID, body); err != nil {
					return
				}
			}
			flusher.Flush()
			s.markReplayed(ctx, replayed)
		}
	}

	sc := s.hub.register(conn)
	defer s.hub.unregister(connID)

	keepalive := time.NewTicker(s.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sc.done:
			// Server shutdown: the hub already dropped the registration.
			return
		case f := <-sc.ch:
			if err := writeFrame(w, f.eventID, f.body); err != nil {
				// Client gone; the deferred unregister tears this
				// connection down without touching the others.
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			// Comment frame, ignored by clients; keeps proxies and load
			// balancers from closing an idle stream.
			if _, err := fmt.Fprint(w, ":keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeFrame writes a single SSE event frame.
func writeFrame(w http.ResponseWriter, eventID string, body []byte) error {
	if eventID != "" {
		if _, err := fmt.Fprintf(w, "id:%s\n", eventID); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "data:%s\n\n", body)
	return err
}

// writeHello sends the one-time connection frame.
func writeHello(w http.ResponseWriter, conn *model.Connection) error {
	data, err := json.Marshal(helloData{
		ConnectionID: conn.ConnectionID,
		Timestamp:    conn.OpenedAt.UnixMilli(),
		Message:      "connected",
	})
	if err != nil {
		return err
	}
	body, err := json.Marshal(struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}{Type: "connection", Data: data})
	if err != nil {
		return err
	}
	return writeFrame(w, "", body)
}
