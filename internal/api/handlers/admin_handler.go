package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	apiContext "keygate/internal/api/context"
	"keygate/internal/engine/license"
	"keygate/internal/pkg/errors"
	"keygate/internal/platform/audit"
	"keygate/internal/platform/models"
	"keygate/internal/platform/repositories"
)

// AdminHandler exposes the collaborator interface used by the management
// surface: bulk generation, extension, revocation, version bumps and listing.
type AdminHandler struct {
	svc   *license.Service
	audit *audit.Logger
}

func NewAdminHandler(svc *license.Service, auditLogger *audit.Logger) *AdminHandler {
	return &AdminHandler{svc: svc, audit: auditLogger}
}

func param(r *http.Request, name string) string {
	if ps, ok := r.Context().Value(apiContext.Params).(httprouter.Params); ok {
		return ps.ByName(name)
	}
	return ""
}

func (h *AdminHandler) writeServiceError(w http.ResponseWriter, err error) {
	if f, ok := license.AsFailure(err); ok {
		switch f.Code {
		case license.FailNotFound:
			errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "License not found", nil)
		case license.FailBadRequest:
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request", nil)
		default:
			errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, string(f.Code), nil)
		}
		return
	}
	log.Error().Err(err).Msg("admin operation failed")
	errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Internal error", nil)
}

type GenerateKeysRequest struct {
	Count      int    `json:"count"`
	Plan       string `json:"plan"`
	MaxDevices int    `json:"max_devices"`
	Note       string `json:"note"`
}

func (h *AdminHandler) GenerateKeys(w http.ResponseWriter, r *http.Request) {
	var req GenerateKeysRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	licenses, err := h.svc.GenerateKeys(req.Count, req.Plan, req.MaxDevices, req.Note)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.audit.Log(r.Context(), "license.generate", "license", "", map[string]interface{}{
		"count": len(licenses),
		"plan":  req.Plan,
	})

	writeJSON(w, http.StatusCreated, struct {
		Licenses []*models.License `json:"licenses"`
	}{Licenses: licenses})
}

func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	licenses, err := h.svc.ListLicenses(repositories.LicenseFilter{
		Status:    q.Get("status"),
		Plan:      q.Get("plan"),
		KeySearch: q.Get("search"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Licenses []*models.License `json:"licenses"`
	}{Licenses: licenses})
}

func (h *AdminHandler) Get(w http.ResponseWriter, r *http.Request) {
	lic, err := h.svc.GetLicense(param(r, "license_id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lic)
}

type ExtendRequest struct {
	Days int `json:"days"`
}

func (h *AdminHandler) Extend(w http.ResponseWriter, r *http.Request) {
	licenseID := param(r, "license_id")

	var req ExtendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	lic, err := h.svc.Extend(licenseID, req.Days)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.audit.Log(r.Context(), "license.extend", "license", licenseID, map[string]interface{}{
		"days": req.Days,
	})

	writeJSON(w, http.StatusOK, lic)
}

func (h *AdminHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	licenseID := param(r, "license_id")

	lic, err := h.svc.Revoke(licenseID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.audit.Log(r.Context(), "license.revoke", "license", licenseID, nil)

	writeJSON(w, http.StatusOK, lic)
}

func (h *AdminHandler) BumpTokenVersion(w http.ResponseWriter, r *http.Request) {
	licenseID := param(r, "license_id")

	lic, err := h.svc.BumpTokenVersion(licenseID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.audit.Log(r.Context(), "license.bump_token_version", "license", licenseID, nil)

	writeJSON(w, http.StatusOK, lic)
}

func (h *AdminHandler) ListActivations(w http.ResponseWriter, r *http.Request) {
	activations, err := h.svc.ListActivations(param(r, "license_id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Activations []*models.Activation `json:"activations"`
	}{Activations: activations})
}

func (h *AdminHandler) RevokeDevice(w http.ResponseWriter, r *http.Request) {
	licenseID := param(r, "license_id")
	deviceID := param(r, "device_id")

	if err := h.svc.RevokeDevice(licenseID, deviceID); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.audit.Log(r.Context(), "license.revoke_device", "activation", licenseID, map[string]interface{}{
		"device_id": deviceID,
	})

	w.WriteHeader(http.StatusNoContent)
}
