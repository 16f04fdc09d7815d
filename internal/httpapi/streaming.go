package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentlab-ai/agentlab/internal/streaming"
)

// handleStreamSSE re-attaches a client to a run's live event stream.
// GET /stream/sse?run_id=<id>. Supports Last-Event-ID (header or
// last_event_id query param) for replay after a dropped connection, and an
// optional comma-separated event-type filter.
func (s *Server) handleStreamSSE(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		s.writeError(w, http.StatusBadRequest, "run_id required")
		return
	}
	typeFilter := parseTypeFilter(r.URL.Query().Get("types"))

	var lastID uint64
	var replay bool
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			lastID, replay = n, true
		}
	}
	if q := r.URL.Query().Get("last_event_id"); q != "" && !replay {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			lastID, replay = n, true
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch := s.streams.Subscribe(runID, 256)
	defer s.streams.Unsubscribe(runID, ch)

	fmt.Fprintf(w, ": connected to run %s\n\n", runID)
	flusher.Flush()

	if replay {
		for _, ev := range s.streams.ReplaySince(runID, lastID) {
			if skipEvent(ev, typeFilter) {
				continue
			}
			writeSSE(w, ev)
		}
		flusher.Flush()
	}

	hb := time.NewTicker(15 * time.Second)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("SSE client disconnected", zap.String("run_id", runID))
			return
		case ev := <-ch:
			if skipEvent(ev, typeFilter) {
				continue
			}
			writeSSE(w, ev)
			flusher.Flush()
		case <-hb.C:
			// Keeps connections alive through proxies.
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev streaming.Event) {
	fmt.Fprintf(w, "id: %d\n", ev.Seq)
	fmt.Fprintf(w, "event: %s\n", ev.EventType)
	fmt.Fprintf(w, "data: %s\n\n", ev.Marshal())
}

func parseTypeFilter(raw string) map[string]struct{} {
	if raw == "" {
		return nil
	}
	filter := map[string]struct{}{}
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter[t] = struct{}{}
		}
	}
	return filter
}

func skipEvent(ev streaming.Event, filter map[string]struct{}) bool {
	if len(filter) == 0 {
		return false
	}
	_, ok := filter[string(ev.EventType)]
	return !ok
}
