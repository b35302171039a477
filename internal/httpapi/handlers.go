package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/jzx17/godispatch/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

var validate = validator.New()

type healthResponse struct {
	Status string `json:"status"`
}

type runsResponse struct {
	Runs  []store.Run `json:"runs"`
	Count int         `json:"count"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "run store is not configured")
		return
	}

	limit := parseIntQuery(r, "limit", defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}

	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.WithError(err).Error("list runs")
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	s.writeRuns(w, http.StatusOK, runs)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "run store is not configured")
		return
	}

	runs, err := s.store.Batch(r.Context(), chi.URLParam(r, "batch"))
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	if err != nil {
		s.logger.WithError(err).Error("get batch")
		s.writeError(w, http.StatusInternalServerError, "failed to get batch")
		return
	}
	s.writeRuns(w, http.StatusOK, runs)
}

func (s *Server) handleCreateRuns(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil || s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "benchmark runner is not configured")
		return
	}

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runs, err := s.runner(r.Context(), req)
	if err != nil {
		s.logger.WithError(err).Error("run benchmark")
		s.writeError(w, http.StatusInternalServerError, "benchmark failed")
		return
	}
	s.writeRuns(w, http.StatusCreated, runs)
}

func (s *Server) writeRuns(w http.ResponseWriter, status int, runs []store.Run) {
	if runs == nil {
		runs = []store.Run{}
	}
	s.writeJSON(w, status, runsResponse{Runs: runs, Count: len(runs)})
}

// writeJSON writes v as a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("encode response")
	}
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return defaultVal
	}
	return v
}
