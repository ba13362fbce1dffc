package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/yamakatsunamamugi/sheetflow/internal/runstore"
)

// StatusResponse summarizes the journal for dashboards
type StatusResponse struct {
	TotalRuns      int           `json:"total_runs"`
	LastRun        *runstore.Run `json:"last_run,omitempty"`
	TotalProcessed int           `json:"total_processed"`
	TotalSucceeded int           `json:"total_succeeded"`
	TotalSkipped   int           `json:"total_skipped"`
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := s.runs.ListRuns(r.Context(), runstore.ListOptions{})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		resp := StatusResponse{TotalRuns: len(runs)}
		if len(runs) > 0 {
			resp.LastRun = runs[0]
		}
		for _, run := range runs {
			resp.TotalProcessed += run.Processed
			resp.TotalSucceeded += run.Succeeded
			resp.TotalSkipped += run.Skipped
		}
		writeJSON(w, resp)
	}
}

func (s *Server) listRunsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := runstore.ListOptions{
			SheetRef: r.URL.Query().Get("sheet"),
		}
		if v := r.URL.Query().Get("limit"); v != "" {
			limit, err := strconv.Atoi(v)
			if err != nil || limit < 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			opts.Limit = limit
		}

		runs, err := s.runs.ListRuns(r.Context(), opts)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if runs == nil {
			runs = []*runstore.Run{}
		}
		writeJSON(w, runs)
	}
}

func (s *Server) getRunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/api/runs/")
		if id == "" || strings.Contains(id, "/") {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}

		run, err := s.runs.GetRun(r.Context(), id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				writeError(w, http.StatusNotFound, "run not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, run)
	}
}
