package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/clinichain/clinichain/internal/audit"
	"github.com/clinichain/clinichain/internal/middleware"
	"github.com/clinichain/clinichain/internal/secrets"
)

// MaxEntryListLimit caps operator entry listings.
const MaxEntryListLimit = 1000

// AppendEntryRequest represents the request body for appending an entry.
// Metadata must be pre-sanitized by the caller; the audit trail stores it
// verbatim and it becomes part of the hashed record.
type AppendEntryRequest struct {
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   *string        `json:"resource_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// EntryResponse is the JSON representation of an audit entry.
type EntryResponse struct {
	ID            string         `json:"id"`
	ChainID       string         `json:"chain_id"`
	CreatedAt     time.Time      `json:"created_at"`
	Action        string         `json:"action"`
	ResourceType  string         `json:"resource_type"`
	ResourceID    *string        `json:"resource_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	SecretVersion int            `json:"secret_version,omitempty"`
	PrevHash      *string        `json:"prev_hash,omitempty"`
	Hash          *string        `json:"hash,omitempty"`
}

func entryResponse(e *audit.AuditEntry) EntryResponse {
	return EntryResponse{
		ID:            e.ID,
		ChainID:       e.ChainID,
		CreatedAt:     e.CreatedAt,
		Action:        e.Action,
		ResourceType:  e.ResourceType,
		ResourceID:    e.ResourceID,
		Metadata:      e.Metadata,
		SecretVersion: e.SecretVersion,
		PrevHash:      e.PrevHash,
		Hash:          e.Hash,
	}
}

// EntryHandlers holds dependencies for audit entry HTTP handlers.
type EntryHandlers struct {
	writer *audit.Writer
	repo   audit.EntryRepository
}

// NewEntryHandlers creates a new EntryHandlers instance.
func NewEntryHandlers(writer *audit.Writer, repo audit.EntryRepository) *EntryHandlers {
	return &EntryHandlers{writer: writer, repo: repo}
}

// Append handles POST /v1/chains/{chain_id}/entries.
//
// The append is fail-closed: any error here means no entry was written,
// and the caller must treat its business operation as failed.
func (h *EntryHandlers) Append(w http.ResponseWriter, r *http.Request) {
	chainID := r.PathValue("chain_id")

	var req AppendEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body")
		return
	}

	entry, err := h.writer.Append(r.Context(), audit.AppendRequest{
		ChainID:      chainID,
		Action:       req.Action,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Metadata:     req.Metadata,
	})
	if err != nil {
		switch {
		case errors.Is(err, audit.ErrMalformedEntry):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		case errors.Is(err, audit.ErrAppendConflict):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeConflict)
			WriteError(w, ctx, http.StatusConflict, ErrCodeConflict, "Chain is contended, retry the operation")
		case errors.Is(err, secrets.ErrMissingSecret), errors.Is(err, secrets.ErrNoDefaultVersion):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeAppendFailed)
			WriteError(w, ctx, http.StatusServiceUnavailable, ErrCodeAppendFailed, "Audit secret unavailable, entry not written")
		default:
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeAppendFailed)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeAppendFailed, "Failed to append audit entry")
		}
		return
	}

	WriteJSON(w, r.Context(), http.StatusCreated, entryResponse(entry))
}

// List handles GET /v1/chains/{chain_id}/entries for operator tooling.
// Supports keyset pagination via after_created_at (RFC3339Nano) plus
// after_id, matching the chain's (created_at, id) order.
func (h *EntryHandlers) List(w http.ResponseWriter, r *http.Request) {
	chainID := r.PathValue("chain_id")

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > MaxEntryListLimit {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "limit must be between 1 and 1000")
			return
		}
		limit = parsed
	}

	var after audit.Position
	if raw := r.URL.Query().Get("after_created_at"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "after_created_at must be RFC3339")
			return
		}
		after = audit.Position{CreatedAt: t, ID: r.URL.Query().Get("after_id")}
	}

	entries, err := h.repo.ListAfter(r.Context(), chainID, after, limit)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to list audit entries")
		return
	}

	results := make([]EntryResponse, 0, len(entries))
	for _, e := range entries {
		results = append(results, entryResponse(e))
	}
	WriteJSON(w, r.Context(), http.StatusOK, map[string]any{"entries": results})
}
