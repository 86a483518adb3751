package handlers

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"database/sql"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"keygate/internal/engine/license"
	"keygate/internal/platform/auth"
	"keygate/internal/platform/config"
	"keygate/internal/platform/models"
	"keygate/internal/platform/repositories"
)

func newTestHandler(t *testing.T) (*LicenseHandler, *license.Service) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	// A :memory: database exists per connection; pin the pool to one.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	schema := `
	CREATE TABLE licenses (
		id TEXT PRIMARY KEY,
		key TEXT UNIQUE NOT NULL,
		plan TEXT NOT NULL DEFAULT 'pro',
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		expires_at INTEGER,
		max_devices INTEGER NOT NULL DEFAULT 1,
		token_version INTEGER NOT NULL DEFAULT 1,
		note TEXT NOT NULL DEFAULT '',
		revoked_at INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE TABLE activations (
		id TEXT PRIMARY KEY,
		license_id TEXT NOT NULL,
		device_id TEXT NOT NULL,
		comment TEXT NOT NULL DEFAULT '',
		first_activated_at INTEGER NOT NULL,
		last_seen_at INTEGER NOT NULL,
		revoked INTEGER NOT NULL DEFAULT 0,
		UNIQUE (license_id, device_id)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	dir := t.TempDir()
	privPath := filepath.Join(dir, "private.pem")
	pubPath := filepath.Join(dir, "public.pem")
	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("Failed to marshal public key: %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	if err := os.WriteFile(privPath, privPEM, 0600); err != nil {
		t.Fatalf("Failed to write private key: %v", err)
	}
	if err := os.WriteFile(pubPath, pubPEM, 0644); err != nil {
		t.Fatalf("Failed to write public key: %v", err)
	}

	jwtCfg := config.JWTConfig{
		PrivateKeyPath:      privPath,
		PublicKeyPath:       pubPath,
		Issuer:              "keygate-test",
		Product:             "desktop-app",
		KeyID:               "v1",
		DefaultValidityDays: 30,
	}
	tokens, err := auth.NewTokenService(jwtCfg)
	if err != nil {
		t.Fatalf("Failed to create token service: %v", err)
	}

	svc := license.NewService(
		repositories.NewLicenseRepository(db),
		repositories.NewActivationRepository(db),
		tokens,
		config.LicenseConfig{KeyGroups: 4, KeyGroupLength: 5, DefaultPlan: "pro", DefaultDevices: 1},
		jwtCfg,
	)
	return NewLicenseHandler(svc), svc
}

func mustIssueLicense(t *testing.T, svc *license.Service, maxDevices int) *models.License {
	t.Helper()
	licenses, err := svc.GenerateKeys(1, "pro", maxDevices, "")
	if err != nil {
		t.Fatalf("Failed to generate license: %v", err)
	}
	return licenses[0]
}

func postJSON(t *testing.T, handler http.HandlerFunc, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch v := body.(type) {
	case string:
		buf.WriteString(v)
	default:
		if err := json.NewEncoder(&buf).Encode(v); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeFailure(t *testing.T, rec *httptest.ResponseRecorder) failureResponse {
	t.Helper()
	var resp failureResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp
}

func TestActivateEndpoint(t *testing.T) {
	h, svc := newTestHandler(t)
	lic := mustIssueLicense(t, svc, 1)

	rec := postJSON(t, h.Activate, ActivateRequest{Key: lic.Key, DeviceID: "dev-A"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp ActivateResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !resp.OK || resp.Token == "" || resp.Plan != "pro" {
		t.Errorf("Unexpected response: %+v", resp)
	}
	if _, err := time.Parse(time.RFC3339, resp.ExpiresAt); err != nil {
		t.Errorf("expires_at is not RFC3339: %s", resp.ExpiresAt)
	}
	if _, err := time.Parse(time.RFC3339, resp.ServerTime); err != nil {
		t.Errorf("server_time is not RFC3339: %s", resp.ServerTime)
	}
}

func TestActivateEndpointFailures(t *testing.T) {
	h, svc := newTestHandler(t)
	lic := mustIssueLicense(t, svc, 1)
	if _, err := svc.Activate(lic.Key, "dev-A"); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	cases := []struct {
		name       string
		body       interface{}
		wantStatus int
		wantMsg    string
	}{
		{"malformed json", "{not json", http.StatusBadRequest, "bad_request"},
		{"missing fields", ActivateRequest{}, http.StatusBadRequest, "bad_request"},
		{"unknown key", ActivateRequest{Key: "AAAAA-BBBBB-CCCCC-DDDDD", DeviceID: "dev-A"}, http.StatusBadRequest, "invalid_key"},
		{"device cap", ActivateRequest{Key: lic.Key, DeviceID: "dev-B"}, http.StatusConflict, "too_many_devices"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := postJSON(t, h.Activate, c.body)
			if rec.Code != c.wantStatus {
				t.Errorf("Expected %d, got %d", c.wantStatus, rec.Code)
			}
			resp := decodeFailure(t, rec)
			if resp.OK || resp.Msg != c.wantMsg {
				t.Errorf("Expected msg %q, got %+v", c.wantMsg, resp)
			}
		})
	}
}

func TestRefreshEndpoint(t *testing.T) {
	h, svc := newTestHandler(t)
	lic := mustIssueLicense(t, svc, 1)

	activated, err := svc.Activate(lic.Key, "dev-A")
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	rec := postJSON(t, h.Refresh, RefreshRequest{Token: activated.Token, DeviceID: "dev-A"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp RefreshResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !resp.OK || resp.Token == "" {
		t.Errorf("Unexpected response: %+v", resp)
	}
}

func TestRefreshEndpointFailures(t *testing.T) {
	h, svc := newTestHandler(t)
	lic := mustIssueLicense(t, svc, 1)

	activated, err := svc.Activate(lic.Key, "dev-A")
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	// Wrong device claim is a conflict, not an auth failure.
	rec := postJSON(t, h.Refresh, RefreshRequest{Token: activated.Token, DeviceID: "dev-B"})
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409, got %d", rec.Code)
	}
	if resp := decodeFailure(t, rec); resp.Msg != "device_mismatch" {
		t.Errorf("Expected device_mismatch, got %+v", resp)
	}

	rec = postJSON(t, h.Refresh, RefreshRequest{Token: "garbage", DeviceID: "dev-A"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", rec.Code)
	}
	if resp := decodeFailure(t, rec); resp.Msg != "invalid_token" {
		t.Errorf("Expected invalid_token, got %+v", resp)
	}

	rec = postJSON(t, h.Refresh, RefreshRequest{Token: activated.Token})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}

	// Revocation invalidates outstanding tokens on the refresh path.
	if _, err := svc.Revoke(lic.ID); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	rec = postJSON(t, h.Refresh, RefreshRequest{Token: activated.Token, DeviceID: "dev-A"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", rec.Code)
	}
	if resp := decodeFailure(t, rec); resp.Msg != "revoked_or_expired" {
		t.Errorf("Expected revoked_or_expired, got %+v", resp)
	}
}

func TestIntrospectEndpoint(t *testing.T) {
	h, svc := newTestHandler(t)
	lic := mustIssueLicense(t, svc, 1)

	activated, err := svc.Activate(lic.Key, "dev-A")
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	rec := postJSON(t, h.Introspect, IntrospectRequest{Token: activated.Token, DeviceID: "dev-A"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var verdict introspectVerdict
	if err := json.NewDecoder(rec.Body).Decode(&verdict); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !verdict.OK || verdict.Payload == nil {
		t.Fatalf("Unexpected verdict: %+v", verdict)
	}
	if verdict.Payload.LicenseID != lic.ID || verdict.Payload.DeviceID != "dev-A" {
		t.Errorf("Unexpected payload: %+v", verdict.Payload)
	}
}

func TestIntrospectNegativeVerdictsAre200(t *testing.T) {
	h, svc := newTestHandler(t)
	lic := mustIssueLicense(t, svc, 1)

	activated, err := svc.Activate(lic.Key, "dev-A")
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if _, err := svc.Revoke(lic.ID); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	// Revoked license: the verdict is negative but the request succeeded.
	rec := postJSON(t, h.Introspect, IntrospectRequest{Token: activated.Token, DeviceID: "dev-A"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var verdict introspectVerdict
	if err := json.NewDecoder(rec.Body).Decode(&verdict); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if verdict.OK || verdict.Err != "revoked_or_expired" {
		t.Errorf("Unexpected verdict: %+v", verdict)
	}

	// Structurally broken token: still 200, with the parser detail attached.
	rec = postJSON(t, h.Introspect, IntrospectRequest{Token: "garbage", DeviceID: "dev-A"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	verdict = introspectVerdict{}
	if err := json.NewDecoder(rec.Body).Decode(&verdict); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if verdict.OK || !strings.HasPrefix(verdict.Err, "jwt_invalid: ") {
		t.Errorf("Unexpected verdict: %+v", verdict)
	}
}

func TestIntrospectMissingParams(t *testing.T) {
	h, _ := newTestHandler(t)

	for _, body := range []interface{}{
		"{broken",
		IntrospectRequest{Token: "", DeviceID: "dev-A"},
		IntrospectRequest{Token: "something", DeviceID: ""},
		IntrospectRequest{Token: "something", DeviceID: "   "},
	} {
		rec := postJSON(t, h.Introspect, body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", rec.Code)
		}
		var verdict introspectVerdict
		if err := json.NewDecoder(rec.Body).Decode(&verdict); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if verdict.OK || verdict.Err != "missing_params" {
			t.Errorf("Unexpected verdict: %+v", verdict)
		}
	}
}
