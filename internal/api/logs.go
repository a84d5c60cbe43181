package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/elisa-tech/BASIL-sub001/internal/model"
)

func (s *Server) handleStreamLog(w http.ResponseWriter, r *http.Request) {
	run := s.loadRun(w, r)
	if run == nil {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// A finished run replays its persisted log.
	if run.Status == model.StatusCompleted || run.Status == model.StatusError {
		w.WriteHeader(http.StatusOK)
		if run.Log != "" {
			_ = writeSSEData(w, run.Log)
		}
		_ = writeSSEEvent(w, "done", run.Status)
		return
	}

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	// Subscribe on a finished run returns a closed channel, so a run ending
	// between the status read and this call still terminates the stream.
	ch, unsub := s.engine.Broker().Subscribe(run.ID)
	defer unsub()
	logStreams.Inc()
	defer logStreams.Dec()

	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	for {
		select {
		case delta, ok := <-ch:
			if !ok {
				_ = writeSSEEvent(w, "done", "stream complete")
				_ = rc.Flush()
				return
			}
			if err := writeSSEData(w, delta); err != nil {
				return
			}
			_ = rc.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// writeSSEData writes a log delta as one SSE data event. Each line gets its
// own "data:" prefix.
func writeSSEData(w http.ResponseWriter, delta string) error {
	for seg := range strings.SplitSeq(strings.TrimSuffix(delta, "\n"), "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(w, "\n")
	return err
}

// writeSSEEvent writes a named SSE event.
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
