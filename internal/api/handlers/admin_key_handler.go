package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"keygate/internal/pkg/errors"
	"keygate/internal/platform/models"
	"keygate/internal/platform/repositories"
)

type AdminKeyHandler struct {
	keys *repositories.AdminKeyRepository
}

func NewAdminKeyHandler(keys *repositories.AdminKeyRepository) *AdminKeyHandler {
	return &AdminKeyHandler{keys: keys}
}

func (h *AdminKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	rawKey := "kg_admin_" + uuid.New().String()
	hash := sha256.Sum256([]byte(rawKey))

	key := &models.AdminKey{
		Name:      req.Name,
		KeyHash:   hex.EncodeToString(hash[:]),
		KeyPrefix: rawKey[:12] + "...",
	}

	if err := h.keys.Create(key); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to create key", nil)
		return
	}

	// The raw key is returned exactly once.
	writeJSON(w, http.StatusCreated, struct {
		ID        string `json:"id"`
		Key       string `json:"key"`
		Name      string `json:"name"`
		CreatedAt int64  `json:"created_at"`
	}{
		ID:        key.ID,
		Key:       rawKey,
		Name:      key.Name,
		CreatedAt: key.CreatedAt,
	})
}

func (h *AdminKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.List()
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Keys []*models.AdminKey `json:"keys"`
	}{Keys: keys})
}

func (h *AdminKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := h.keys.Revoke(param(r, "key_id")); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
