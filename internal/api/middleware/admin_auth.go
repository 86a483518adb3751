package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	apiContext "keygate/internal/api/context"
	"keygate/internal/pkg/errors"
	"keygate/internal/platform/models"
	"keygate/internal/platform/repositories"
)

// AdminAuthMiddleware guards the administrative surface. Keys issued through
// the API are stored sha256-hashed and looked up by hash; the bootstrap root
// token is only known as a bcrypt hash in config and exists to mint the
// first real key.
type AdminAuthMiddleware struct {
	keys          *repositories.AdminKeyRepository
	rootTokenHash string
}

func NewAdminAuthMiddleware(keys *repositories.AdminKeyRepository, rootTokenHash string) *AdminAuthMiddleware {
	return &AdminAuthMiddleware{keys: keys, rootTokenHash: rootTokenHash}
}

func (m *AdminAuthMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Missing authorization header", nil)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid authorization header format", nil)
			return
		}
		token := parts[1]

		hash := sha256.Sum256([]byte(token))
		key, err := m.keys.GetByHash(hex.EncodeToString(hash[:]))
		if err != nil {
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
			return
		}

		if key != nil {
			if key.RevokedAt != nil {
				errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Key revoked", nil)
				return
			}
			m.keys.UpdateLastUsed(key.ID)
		} else if m.rootTokenHash != "" &&
			bcrypt.CompareHashAndPassword([]byte(m.rootTokenHash), []byte(token)) == nil {
			key = &models.AdminKey{ID: "root", Name: "root"}
		} else {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid admin key", nil)
			return
		}

		ctx := context.WithValue(r.Context(), apiContext.AdminKey, key)
		next(w, r.WithContext(ctx))
	}
}
