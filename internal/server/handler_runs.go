package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/me/kthreads/internal/scenario"
	"github.com/me/kthreads/pkg/model"
)

func pageOptions(limit, offset int) model.ListOptions {
	opts := model.DefaultListOptions()
	opts.Limit = limit
	opts.Offset = offset
	return opts
}

// listOptions reads pagination and filters from the query string.
func listOptions(r *http.Request) (model.ListOptions, *model.APIError) {
	q := r.URL.Query()
	opts := model.DefaultListOptions()
	var details []model.FieldError

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			details = append(details, model.FieldError{Field: "limit", Message: "must be an integer"})
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			details = append(details, model.FieldError{Field: "offset", Message: "must be an integer"})
		}
		opts.Offset = n
	}
	if v := q.Get("mlfqs"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			details = append(details, model.FieldError{Field: "mlfqs", Message: "must be true or false"})
		}
		opts.MLFQS = &b
	}
	opts.Status = q.Get("status")
	opts.Scenario = q.Get("scenario")
	opts.Kind = q.Get("kind")
	opts.Thread = q.Get("thread")

	if len(details) > 0 {
		return opts, model.NewValidationError("invalid query parameters", details...)
	}
	opts.Clamp()
	return opts, nil
}

// handleCreateRun executes a scenario posted as YAML and stores the result.
// POST /api/v1/runs
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			respondError(w, reqID, http.StatusRequestEntityTooLarge, model.NewValidationError(
				"scenario too large", model.FieldError{Message: "limit is " + strconv.FormatInt(tooBig.Limit, 10) + " bytes"}))
			return
		}
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("read body: "+err.Error()))
		return
	}

	sc, err := scenario.Parse(body)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			respondError(w, reqID, http.StatusBadRequest, apiErr)
			return
		}
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("Invalid scenario: "+err.Error()))
		return
	}
	if v := r.URL.Query().Get("mlfqs"); v != "" {
		force, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid query parameters",
				model.FieldError{Field: "mlfqs", Message: "must be true or false"}))
			return
		}
		sc.MLFQS = sc.MLFQS || force
	}

	ctx := r.Context()
	if s.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RunTimeout)
		defer cancel()
	}

	res, err := scenario.Run(ctx, sc, s.config.Kernel, s.runLog)
	if err != nil {
		var apiErr *model.APIError
		switch {
		case errors.As(err, &apiErr):
			respondError(w, reqID, http.StatusBadRequest, apiErr)
		case errors.Is(err, context.DeadlineExceeded):
			respondError(w, reqID, http.StatusGatewayTimeout, model.NewInternalError(err.Error()))
		default:
			respondError(w, reqID, http.StatusUnprocessableEntity, model.NewValidationError(err.Error()))
		}
		return
	}

	if err := s.store.SaveRun(r.Context(), &res.Run, res.Events); err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}

	s.logger.Info("run stored", "id", res.Run.ID, "scenario", res.Run.Scenario, "status", res.Run.Status, "events", res.Run.EventCount)
	respondCreated(w, reqID, res.Run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	opts, apiErr := listOptions(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}

	runs, total, err := s.store.ListRuns(r.Context(), opts)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	if runs == nil {
		runs = []*model.Run{}
	}
	respondList(w, reqID, runs, opts, total)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	if run == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("run", id))
		return
	}
	respondOK(w, reqID, run)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	if run == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("run", id))
		return
	}
	if err := s.store.DeleteRun(r.Context(), id); err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	s.logger.Info("run deleted", "id", id)
	respondOK(w, reqID, map[string]any{"id": id, "deleted": true})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	opts, apiErr := listOptions(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	if run == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("run", id))
		return
	}

	events, total, err := s.store.ListEvents(r.Context(), id, opts)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	respondList(w, reqID, events, opts, total)
}
