package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/me/kthreads/pkg/model"
)

// sseBatch is the page size used to read a trace from the store.
const sseBatch = 100

// handleSSERun replays a stored trace via Server-Sent Events: one "init"
// event with the run summary, one "event" per trace entry in sequence order,
// then "complete".
// GET /api/v1/sse/runs/{id}
func (s *Server) handleSSERun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	reqID := RequestIDFromContext(r.Context())

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	if run == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("run", id))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	if err := sendSSEEvent(w, flusher, "init", run); err != nil {
		s.logger.Debug("sse client disconnected", "id", id, "error", err)
		return
	}

	opts := pageOptions(sseBatch, 0)
	for {
		if r.Context().Err() != nil {
			return
		}
		events, total, err := s.store.ListEvents(r.Context(), id, opts)
		if err != nil {
			s.logger.Error("sse fetch error", "id", id, "error", err)
			return
		}
		for _, e := range events {
			if err := sendSSEEvent(w, flusher, "event", e); err != nil {
				s.logger.Debug("sse client disconnected", "id", id)
				return
			}
		}
		opts.Offset += len(events)
		if len(events) == 0 || opts.Offset >= total {
			break
		}
	}

	sendSSEEvent(w, flusher, "complete", map[string]any{"id": run.ID, "status": run.Status, "events": opts.Offset})
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
	if err != nil {
		return err
	}

	flusher.Flush()
	return nil
}
