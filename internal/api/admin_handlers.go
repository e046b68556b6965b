package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/clinichain/clinichain/internal/middleware"
	"github.com/clinichain/clinichain/internal/secrets"
)

// AdminHandlers implements the restricted secret administration surface.
// The router mounts these only behind admin-scope authentication; raw
// key material goes in and is never returned by any endpoint.
type AdminHandlers struct {
	store secrets.Store
}

// NewAdminHandlers creates a new AdminHandlers instance.
func NewAdminHandlers(store secrets.Store) *AdminHandlers {
	return &AdminHandlers{store: store}
}

// AddSecretRequest represents the request body for issuing a secret
// version. Secret material is base64-encoded.
type AddSecretRequest struct {
	Version int    `json:"version"`
	Secret  string `json:"secret"`
}

// SetDefaultRequest represents the request body for rotating the default
// version.
type SetDefaultRequest struct {
	Version int `json:"version"`
}

// AddSecret handles POST /v1/admin/secrets.
func (h *AdminHandlers) AddSecret(w http.ResponseWriter, r *http.Request) {
	var req AddSecretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body")
		return
	}

	secret, err := base64.StdEncoding.DecodeString(req.Secret)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "secret must be base64-encoded")
		return
	}

	if err := h.store.AddSecret(r.Context(), req.Version, secret); err != nil {
		switch {
		case errors.Is(err, secrets.ErrVersionExists):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeVersionExists)
			WriteError(w, ctx, http.StatusConflict, ErrCodeVersionExists, "Secret version already exists")
		case errors.Is(err, secrets.ErrInvalidVersion), errors.Is(err, secrets.ErrEmptySecret):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		default:
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to add secret version")
		}
		return
	}

	WriteJSON(w, r.Context(), http.StatusCreated, map[string]any{"version": req.Version})
}

// SetDefault handles PUT /v1/admin/secrets/default. Rotating the default
// only affects new appends; historical entries keep their write-time
// version and stay verifiable.
func (h *AdminHandlers) SetDefault(w http.ResponseWriter, r *http.Request) {
	var req SetDefaultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body")
		return
	}

	if err := h.store.SetDefaultVersion(r.Context(), req.Version); err != nil {
		switch {
		case errors.Is(err, secrets.ErrMissingSecret):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeMissingSecret)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeMissingSecret, "Secret version does not exist")
		default:
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to set default secret version")
		}
		return
	}

	WriteJSON(w, r.Context(), http.StatusOK, map[string]any{"default_version": req.Version})
}
