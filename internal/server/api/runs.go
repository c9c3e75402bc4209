package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayusman/fewshot/internal/journal"
)

// RunHandler serves the run journal.
//
//	GET    /api/runs             recent runs
//	GET    /api/runs/{id}        one run with its transitions and timings
//	DELETE /api/runs/{id}
type RunHandler struct {
	journal *journal.Journal
}

// NewRunHandler creates a RunHandler over j.
func NewRunHandler(j *journal.Journal) *RunHandler {
	return &RunHandler{journal: j}
}

type listRunsResponse struct {
	Runs []*journal.Run `json:"runs"`
}

type runResponse struct {
	*journal.Run
	Transitions []journal.Transition `json:"transitions"`
	Timings     []journal.Timing     `json:"timings"`
}

// ServeHTTP routes between the collection and item endpoints.
func (h *RunHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/runs")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h.list(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.get(w, r, path)
	case http.MethodDelete:
		h.delete(w, r, path)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *RunHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	runs, err := h.journal.Runs().List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}
	if runs == nil {
		runs = []*journal.Run{}
	}
	writeJSON(w, http.StatusOK, listRunsResponse{Runs: runs})
}

func (h *RunHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	runs := h.journal.Runs()
	run, err := runs.GetByID(id)
	if err != nil {
		if errors.Is(err, journal.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}

	resp := runResponse{Run: run}
	if resp.Transitions, err = runs.Transitions(id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get transitions")
		return
	}
	if resp.Timings, err = runs.Timings(id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get timings")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *RunHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.journal.Runs().Delete(id); err != nil {
		if errors.Is(err, journal.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete run")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
