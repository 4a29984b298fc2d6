package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/gulprep/internal/metrics"
	"github.com/JonMunkholm/gulprep/internal/prep"
	"github.com/JonMunkholm/gulprep/internal/store"
)

type healthResponse struct {
	Status  string             `json:"status"`
	Runs    prep.LimiterStatus `json:"runs"`
	Archive bool               `json:"archive"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, healthResponse{
		Status:  "ok",
		Runs:    s.limiter.Status(),
		Archive: s.history != nil,
	})
}

// handleRun runs one preparation synchronously and answers with its result.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req prep.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.respondError(w, r, &prep.RequestError{Reason: err.Error()})
		return
	}
	if req.TargetDir == "" {
		req.TargetDir = s.cfg.Prep.TargetDir
	}
	req, err := req.Confine(s.cfg.Prep.InputRoot, s.cfg.Prep.OutputRoot)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	ctx := r.Context()
	if err := s.limiter.Acquire(ctx); err != nil {
		if errors.Is(err, prep.ErrTooManyRuns) {
			s.metrics.RunFinished(metrics.StatusRejected)
			w.Header().Set("Retry-After", "30")
		}
		s.respondError(w, r, err)
		return
	}
	defer s.limiter.Release()

	res, err := s.runner.Run(ctx, req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, res)
}

type runsResponse struct {
	Runs []store.Run `json:"runs"`
}

// handleListRuns returns archived runs, newest first. ?limit=N caps the list.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.respondError(w, r, prep.ErrArchiveDisabled)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.respondError(w, r, &prep.RequestError{Reason: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	runs, err := s.history.ListRuns(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, r, http.StatusOK, runsResponse{Runs: runs})
}
