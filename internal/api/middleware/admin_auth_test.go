package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"golang.org/x/crypto/bcrypt"

	apiContext "keygate/internal/api/context"
	"keygate/internal/platform/models"
	"keygate/internal/platform/repositories"
)

func adminKeyColumns() []string {
	return []string{"id", "name", "key_prefix", "last_used_at", "created_at", "revoked_at"}
}

func hashOf(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func runAdminAuth(t *testing.T, m *AdminAuthMiddleware, authHeader string) (*httptest.ResponseRecorder, *models.AdminKey) {
	t.Helper()

	var injected *models.AdminKey
	handler := m.Handle(func(w http.ResponseWriter, r *http.Request) {
		injected, _ = r.Context().Value(apiContext.AdminKey).(*models.AdminKey)
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/licenses", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec, injected
}

func TestAdminAuthValidKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer db.Close()

	token := "kg_admin_valid"
	mock.ExpectQuery(`SELECT id, name, key_prefix, last_used_at, created_at, revoked_at FROM admin_keys`).
		WithArgs(hashOf(token)).
		WillReturnRows(sqlmock.NewRows(adminKeyColumns()).
			AddRow("key_1", "ci", "kg_admin_v...", nil, time.Now().Unix(), nil))
	mock.ExpectExec(`UPDATE admin_keys SET last_used_at`).
		WithArgs(sqlmock.AnyArg(), "key_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	m := NewAdminAuthMiddleware(repositories.NewAdminKeyRepository(db), "")
	rec, key := runAdminAuth(t, m, "Bearer "+token)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if key == nil || key.ID != "key_1" {
		t.Errorf("Expected key_1 in context, got %+v", key)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestAdminAuthRevokedKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer db.Close()

	token := "kg_admin_revoked"
	revokedAt := time.Now().Unix()
	mock.ExpectQuery(`SELECT id, name, key_prefix, last_used_at, created_at, revoked_at FROM admin_keys`).
		WithArgs(hashOf(token)).
		WillReturnRows(sqlmock.NewRows(adminKeyColumns()).
			AddRow("key_1", "ci", "kg_admin_r...", nil, revokedAt-3600, revokedAt))

	m := NewAdminAuthMiddleware(repositories.NewAdminKeyRepository(db), "")
	rec, _ := runAdminAuth(t, m, "Bearer "+token)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestAdminAuthUnknownKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer db.Close()

	token := "kg_admin_unknown"
	mock.ExpectQuery(`SELECT id, name, key_prefix, last_used_at, created_at, revoked_at FROM admin_keys`).
		WithArgs(hashOf(token)).
		WillReturnRows(sqlmock.NewRows(adminKeyColumns()))

	m := NewAdminAuthMiddleware(repositories.NewAdminKeyRepository(db), "")
	rec, _ := runAdminAuth(t, m, "Bearer "+token)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", rec.Code)
	}
}

func TestAdminAuthRootToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer db.Close()

	token := "bootstrap-secret"
	rootHash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash root token: %v", err)
	}

	// The token is not in the table; the middleware falls back to the
	// configured root hash.
	mock.ExpectQuery(`SELECT id, name, key_prefix, last_used_at, created_at, revoked_at FROM admin_keys`).
		WithArgs(hashOf(token)).
		WillReturnRows(sqlmock.NewRows(adminKeyColumns()))

	m := NewAdminAuthMiddleware(repositories.NewAdminKeyRepository(db), string(rootHash))
	rec, key := runAdminAuth(t, m, "Bearer "+token)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if key == nil || key.ID != "root" {
		t.Errorf("Expected synthetic root key, got %+v", key)
	}
}

func TestAdminAuthHeaderValidation(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer db.Close()

	m := NewAdminAuthMiddleware(repositories.NewAdminKeyRepository(db), "")

	for _, header := range []string{"", "Basic abc", "Bearer", "Bearer a b"} {
		rec, _ := runAdminAuth(t, m, header)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("Header %q: expected 401, got %d", header, rec.Code)
		}
	}
}
