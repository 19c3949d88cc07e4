package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/brightwavehq/streamfetch/internal/engine"
)

// progressHandler streams live engine events over SSE. This is separate
// from the huma-registered handlers because huma doesn't support
// streaming responses natively.
type progressHandler struct {
	engine            *engine.Engine
	heartbeatInterval time.Duration
}

// RegisterSSE registers the raw streaming endpoint on a chi router.
func (h *progressHandler) RegisterSSE(router *chi.Mux) {
	router.Get("/events", h.handleEvents)
}

// sseEvent is the wire shape of one event on the stream.
type sseEvent struct {
	Capability string  `json:"capability"`
	TaskID     string  `json:"task_id,omitempty"`
	FromState  string  `json:"from_state,omitempty"`
	ToState    string  `json:"to_state,omitempty"`
	BatchID    string  `json:"batch_id,omitempty"`
	Hint       string  `json:"hint,omitempty"`
	Bytes      int64   `json:"bytes_downloaded,omitempty"`
	SpeedBps   float64 `json:"speed_bps,omitempty"`
	ActiveConn int     `json:"active_conns,omitempty"`
	Timestamp  string  `json:"timestamp,omitempty"`
}

func toSSEEvent(ev engine.Event) sseEvent {
	out := sseEvent{
		Capability: string(ev.Capability),
		TaskID:     ev.TaskID.String(),
		FromState:  string(ev.FromState),
		ToState:    string(ev.ToState),
		Hint:       ev.Hint,
	}
	if !ev.BatchID.IsZero() {
		out.BatchID = ev.BatchID.String()
	}
	if ev.Progress != nil {
		out.Bytes = ev.Progress.BytesDownloaded
		out.SpeedBps = ev.Progress.SpeedBps
		out.ActiveConn = ev.Progress.ActiveConns
		out.Timestamp = ev.Progress.Timestamp.Format(time.RFC3339Nano)
	}
	return out
}

func (h *progressHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Cache-Control")
	w.Header().Set("Access-Control-Expose-Headers", RequestIDHeader)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	caps := parseCapabilities(r.URL.Query().Get("capabilities"))
	events, unsubscribe := h.engine.Subscribe(caps...)
	defer unsubscribe()

	rc := http.NewResponseController(w)

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()

	fmt.Fprintf(w, ":connected\n\n")
	if err := rc.Flush(); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ":heartbeat %d\n\n", time.Now().Unix())
			if err := rc.Flush(); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, ev); err != nil {
				slog.Debug("failed to write sse event", slog.Any("error", err))
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, ev engine.Event) error {
	data, err := json.Marshal(toSSEEvent(ev))
	if err != nil {
		fmt.Fprintf(w, "event: %s\ndata: {\"error\": \"marshal error\"}\n\n", ev.Capability)
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Capability, data)
	return err
}

// parseCapabilities maps a comma-separated query param to Capability
// values; an empty param subscribes to every capability.
func parseCapabilities(raw string) []engine.Capability {
	all := []engine.Capability{
		engine.CapabilityProgress,
		engine.CapabilityStateChange,
		engine.CapabilityBatch,
		engine.CapabilityBandwidthHint,
	}
	if raw == "" {
		return all
	}
	var out []engine.Capability
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, engine.Capability(part))
		}
	}
	if len(out) == 0 {
		return all
	}
	return out
}
