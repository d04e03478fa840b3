package api

import (
	"net/http"
	"regexp"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/portfolio-performance/internal/types"
)

var yearKeyPattern = regexp.MustCompile(`^\d{4}$`)

// handleHealth reports service and backend health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	backends := make(map[string]string, len(s.backends))

	for name, pinger := range s.backends {
		if err := pinger.Ping(r.Context()); err != nil {
			backends[name] = "unreachable"
			status = "degraded"
		} else {
			backends[name] = "ok"
		}
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}

	respondJSON(w, code, map[string]interface{}{
		"status":   status,
		"service":  "performance-engine",
		"backends": backends,
	})
}

// handleListRuns returns recent engine runs, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 200 {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "limit must be an integer in [1, 200]", nil)
			return
		}
		limit = parsed
	}

	runs, err := s.runs.List(r.Context(), limit)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// handleLatestRun returns the most recent run of one kind.
func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	switch kind {
	case "daily", "consolidate", "verify":
	default:
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "kind must be one of daily, consolidate, verify", nil)
		return
	}

	run, err := s.runs.Latest(r.Context(), kind)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if run == nil {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "no runs recorded for kind "+kind, nil)
		return
	}

	respondJSON(w, http.StatusOK, run)
}

// handleRegenerate deletes and rebuilds one scope's consolidated records for
// a year. Safe to call at any time: consolidated records are derived caches.
func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	kind := types.ScopeKind(vars["kind"])
	switch kind {
	case types.ScopeAsset, types.ScopeAccount, types.ScopeOverall:
	default:
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "scope kind must be one of asset, account, overall", nil)
		return
	}

	yearKey := vars["year"]
	if !yearKeyPattern.MatchString(yearKey) {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "year must be a four-digit year", nil)
		return
	}

	scope := types.EntityScope{Kind: kind, ID: vars["id"]}
	if err := s.regenerator.RegenerateYear(r.Context(), scope, yearKey); err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"scope":  scope.Key(),
		"year":   yearKey,
		"status": "regenerated",
	})
}
