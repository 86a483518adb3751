package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"keygate/internal/engine/license"
	"keygate/internal/pkg/errors"
	"keygate/internal/platform/auth"
)

// LicenseHandler carries the public activation surface. Failure messages and
// statuses are part of the client contract and map one-to-one from the
// service's failure codes; see the per-operation switch functions below.
type LicenseHandler struct {
	svc *license.Service
}

func NewLicenseHandler(svc *license.Service) *LicenseHandler {
	return &LicenseHandler{svc: svc}
}

type failureResponse struct {
	OK  bool   `json:"ok"`
	Msg string `json:"msg"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeFailure(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, failureResponse{OK: false, Msg: msg})
}

type ActivateRequest struct {
	Key      string `json:"key"`
	DeviceID string `json:"device_id"`
}

type ActivateResponse struct {
	OK         bool   `json:"ok"`
	Token      string `json:"token"`
	ExpiresAt  string `json:"expires_at"`
	ServerTime string `json:"server_time"`
	Plan       string `json:"plan"`
}

func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req ActivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, string(license.FailBadRequest))
		return
	}

	result, err := h.svc.Activate(req.Key, req.DeviceID)
	if err != nil {
		if f, ok := license.AsFailure(err); ok {
			writeFailure(w, activateStatus(f.Code), string(f.Code))
			return
		}
		log.Error().Err(err).Msg("activate failed")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Internal error", nil)
		return
	}

	writeJSON(w, http.StatusOK, ActivateResponse{
		OK:         true,
		Token:      result.Token,
		ExpiresAt:  result.ExpiresAt.Format(time.RFC3339),
		ServerTime: time.Now().UTC().Format(time.RFC3339),
		Plan:       result.Plan,
	})
}

func activateStatus(code license.FailureCode) int {
	if code == license.FailTooManyDevices {
		return http.StatusConflict
	}
	return http.StatusBadRequest
}

type RefreshRequest struct {
	Token    string `json:"token"`
	DeviceID string `json:"device_id"`
}

type RefreshResponse struct {
	OK         bool   `json:"ok"`
	Token      string `json:"token"`
	ExpiresAt  string `json:"expires_at"`
	ServerTime string `json:"server_time"`
}

func (h *LicenseHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, string(license.FailBadRequest))
		return
	}

	result, err := h.svc.Refresh(req.Token, req.DeviceID)
	if err != nil {
		if f, ok := license.AsFailure(err); ok {
			writeFailure(w, refreshStatus(f.Code), string(f.Code))
			return
		}
		log.Error().Err(err).Msg("refresh failed")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Internal error", nil)
		return
	}

	writeJSON(w, http.StatusOK, RefreshResponse{
		OK:         true,
		Token:      result.Token,
		ExpiresAt:  result.ExpiresAt.Format(time.RFC3339),
		ServerTime: time.Now().UTC().Format(time.RFC3339),
	})
}

func refreshStatus(code license.FailureCode) int {
	switch code {
	case license.FailBadRequest:
		return http.StatusBadRequest
	case license.FailDeviceMismatch:
		return http.StatusConflict
	default:
		return http.StatusUnauthorized
	}
}

type IntrospectRequest struct {
	Token    string `json:"token"`
	DeviceID string `json:"device_id"`
}

type introspectVerdict struct {
	OK      bool                `json:"ok"`
	Err     string              `json:"err,omitempty"`
	Payload *auth.LicenseClaims `json:"payload,omitempty"`
}

// Introspect is a trust query: a negative verdict is data, not a transport
// fault, so every credential-level failure comes back as HTTP 200. Only a
// request missing its parameters is a client error.
func (h *LicenseHandler) Introspect(w http.ResponseWriter, r *http.Request) {
	var req IntrospectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, introspectVerdict{OK: false, Err: "missing_params"})
		return
	}
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	if req.Token == "" || req.DeviceID == "" {
		writeJSON(w, http.StatusBadRequest, introspectVerdict{OK: false, Err: "missing_params"})
		return
	}

	claims, err := h.svc.Introspect(req.Token, req.DeviceID)
	if err != nil {
		if f, ok := license.AsFailure(err); ok {
			writeJSON(w, http.StatusOK, introspectVerdict{OK: false, Err: introspectReason(f)})
			return
		}
		log.Error().Err(err).Msg("introspect failed")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Internal error", nil)
		return
	}

	writeJSON(w, http.StatusOK, introspectVerdict{OK: true, Payload: claims})
}

func introspectReason(f *license.Failure) string {
	if f.Code == license.FailInvalidToken {
		return "jwt_invalid: " + f.Detail
	}
	return string(f.Code)
}
