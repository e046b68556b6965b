package api

import (
	"net/http"
	"strconv"

	"github.com/clinichain/clinichain/internal/middleware"
	"github.com/clinichain/clinichain/internal/runs"
)

// MaxRunListLimit caps run history listings.
const MaxRunListLimit = 500

// RunHandlers serves verification run history for dashboards.
type RunHandlers struct {
	repo runs.Repository
}

// NewRunHandlers creates a new RunHandlers instance.
func NewRunHandlers(repo runs.Repository) *RunHandlers {
	return &RunHandlers{repo: repo}
}

// List handles GET /v1/runs, newest first.
func (h *RunHandlers) List(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > MaxRunListLimit {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "limit must be between 1 and 500")
			return
		}
		limit = parsed
	}

	history, err := h.repo.ListRecent(r.Context(), limit)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to list verification runs")
		return
	}
	WriteJSON(w, r.Context(), http.StatusOK, map[string]any{"runs": history})
}
