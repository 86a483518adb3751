package handlers

import (
	"net/http"

	"keygate/internal/platform/auth"
)

// JWKSHandler publishes the verification half of the signing key so clients
// can verify credentials without calling back to the service.
type JWKSHandler struct {
	tokens *auth.TokenService
}

func NewJWKSHandler(tokens *auth.TokenService) *JWKSHandler {
	return &JWKSHandler{tokens: tokens}
}

func (h *JWKSHandler) Get(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, http.StatusOK, h.tokens.PublicJWKS())
}
