package license

import (
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"keygate/internal/platform/auth"
	"keygate/internal/platform/config"
	"keygate/internal/platform/models"
	"keygate/internal/platform/repositories"
)

// Service is the license/activation state machine. Every per-license mutation
// (binding, status transition, version bump) runs inside a single store
// transaction so the maxDevices check-then-act and the lazy expiry transition
// are atomic per license.
type Service struct {
	licenses    *repositories.LicenseRepository
	activations *repositories.ActivationRepository
	tokens      *auth.TokenService
	keygen      *KeyGenerator

	defaultValidity time.Duration
	defaultPlan     string
	defaultDevices  int
}

func NewService(
	licenses *repositories.LicenseRepository,
	activations *repositories.ActivationRepository,
	tokens *auth.TokenService,
	licCfg config.LicenseConfig,
	jwtCfg config.JWTConfig,
) *Service {
	return &Service{
		licenses:        licenses,
		activations:     activations,
		tokens:          tokens,
		keygen:          NewKeyGenerator(licCfg.KeyGroups, licCfg.KeyGroupLength),
		defaultValidity: time.Duration(jwtCfg.DefaultValidityDays) * 24 * time.Hour,
		defaultPlan:     licCfg.DefaultPlan,
		defaultDevices:  licCfg.DefaultDevices,
	}
}

type ActivateResult struct {
	Token     string
	ExpiresAt time.Time
	Plan      string
}

type RefreshResult struct {
	Token     string
	ExpiresAt time.Time
}

// Activate validates the key, binds the device and mints a credential.
// The binding, the ACTIVE->USED transition, expiry resolution and the token
// mint commit together or not at all.
func (s *Service) Activate(key, deviceID string) (*ActivateResult, error) {
	key = strings.ToUpper(strings.TrimSpace(key))
	deviceID = strings.TrimSpace(deviceID)
	if key == "" || deviceID == "" {
		return nil, fail(FailBadRequest)
	}
	// Malformed keys never reach the registry lookup.
	if !s.keygen.ValidFormat(key) {
		return nil, fail(FailInvalidKey)
	}

	tx, err := s.licenses.BeginTx()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	lic, err := s.licenses.GetByKeyTx(tx, key)
	if err != nil {
		return nil, err
	}
	if lic == nil {
		return nil, fail(FailInvalidKey)
	}

	switch lic.Status {
	case models.StatusExpired:
		return nil, fail(FailExpired)
	case models.StatusRevoked:
		return nil, fail(FailRevoked)
	}

	now := time.Now()
	if expired, err := s.expireTx(tx, lic, now); err != nil {
		return nil, err
	} else if expired {
		return nil, fail(FailExpired)
	}

	act, err := s.activations.GetTx(tx, lic.ID, deviceID)
	if err != nil {
		return nil, err
	}
	switch {
	case act == nil:
		count, err := s.activations.CountActiveTx(tx, lic.ID)
		if err != nil {
			return nil, err
		}
		if count >= lic.MaxDevices {
			return nil, fail(FailTooManyDevices)
		}
		err = s.activations.CreateTx(tx, &models.Activation{
			ID:               "act_" + uuid.New().String(),
			LicenseID:        lic.ID,
			DeviceID:         deviceID,
			FirstActivatedAt: now.Unix(),
			LastSeenAt:       now.Unix(),
		})
		if err != nil {
			return nil, err
		}
	case act.Revoked:
		// The unique (license, device) row already exists; clearing the flag
		// re-binds without a second row, still counted against the cap.
		count, err := s.activations.CountActiveTx(tx, lic.ID)
		if err != nil {
			return nil, err
		}
		if count >= lic.MaxDevices {
			return nil, fail(FailTooManyDevices)
		}
		if err := s.activations.ReactivateTx(tx, act.ID, now.Unix()); err != nil {
			return nil, err
		}
	default:
		// Idempotent re-activation of an already bound device.
		if err := s.activations.TouchTx(tx, lic.ID, deviceID, now.Unix()); err != nil {
			return nil, err
		}
	}

	if lic.Status == models.StatusActive {
		lic.Status = models.StatusUsed
	}
	if lic.ExpiresAt == nil {
		// First mint resolves the open-ended license to a concrete lifetime.
		exp := now.Add(s.defaultValidity).Unix()
		lic.ExpiresAt = &exp
	}
	if err := s.licenses.UpdateStateTx(tx, lic); err != nil {
		return nil, err
	}

	// Sign before commit so activation never commits without a credential.
	token, err := s.tokens.Issue(lic, deviceID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Info().
		Str("license_id", lic.ID).
		Str("device_id", deviceID).
		Str("plan", lic.Plan).
		Msg("license activated")

	return &ActivateResult{
		Token:     token,
		ExpiresAt: time.Unix(*lic.ExpiresAt, 0).UTC(),
		Plan:      lic.Plan,
	}, nil
}

// Refresh re-mints a credential after checking signature, device binding
// claim, registry state and token version. A refreshed token does not
// invalidate earlier tokens of the same version.
func (s *Service) Refresh(tokenString, deviceID string) (*RefreshResult, error) {
	deviceID = strings.TrimSpace(deviceID)
	if tokenString == "" || deviceID == "" {
		return nil, fail(FailBadRequest)
	}

	claims, err := s.tokens.Verify(tokenString)
	if err != nil {
		return nil, failDetail(FailInvalidToken, err.Error())
	}
	if claims.DeviceID != deviceID {
		return nil, fail(FailDeviceMismatch)
	}

	tx, err := s.licenses.BeginTx()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	lic, err := s.licenses.GetByIDTx(tx, claims.LicenseID)
	if err != nil {
		return nil, err
	}
	if lic == nil {
		return nil, fail(FailNotFound)
	}
	if lic.Terminal() {
		return nil, fail(FailRevokedOrExpired)
	}

	now := time.Now()
	if expired, err := s.expireTx(tx, lic, now); err != nil {
		return nil, err
	} else if expired {
		return nil, fail(FailExpired)
	}

	if claims.TokenVersion != lic.TokenVersion {
		return nil, fail(FailTokenVersionMismatch)
	}

	if err := s.activations.TouchTx(tx, lic.ID, deviceID, now.Unix()); err != nil {
		return nil, err
	}

	token, err := s.tokens.Issue(lic, deviceID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &RefreshResult{
		Token:     token,
		ExpiresAt: time.Unix(*lic.ExpiresAt, 0).UTC(),
	}, nil
}

// Introspect answers whether a credential is currently trustworthy. It is a
// query: every "no" comes back as a Failure with a structured reason, and the
// only write it can perform is the lazy expiry transition.
//
// Unlike Refresh it additionally requires a live activation binding for the
// device; see the policy note in DESIGN.md.
func (s *Service) Introspect(tokenString, deviceID string) (*auth.LicenseClaims, error) {
	deviceID = strings.TrimSpace(deviceID)

	claims, err := s.tokens.Verify(tokenString)
	if err != nil {
		return nil, failDetail(FailInvalidToken, err.Error())
	}
	if claims.DeviceID != deviceID {
		return nil, fail(FailDeviceMismatch)
	}

	lic, err := s.licenses.GetByID(claims.LicenseID)
	if err != nil {
		return nil, err
	}
	if lic == nil || lic.Terminal() {
		return nil, fail(FailRevokedOrExpired)
	}

	if claims.TokenVersion != lic.TokenVersion {
		return nil, fail(FailTokenVersionMismatch)
	}

	active, err := s.activations.ExistsActive(lic.ID, deviceID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, fail(FailNoActiveActivation)
	}

	if lic.ExpiresAt != nil && time.Now().Unix() >= *lic.ExpiresAt {
		// Persist the transition before reporting; if the write fails the
		// request still fails closed.
		if err := s.licenses.MarkExpired(lic.ID); err != nil {
			log.Error().Err(err).Str("license_id", lic.ID).Msg("failed to persist expiry transition")
		} else {
			log.Info().Str("license_id", lic.ID).Msg("license expired")
		}
		return nil, fail(FailExpired)
	}

	return claims, nil
}

// expireTx applies the lazy expiry transition inside the caller's
// transaction. When the license has passed its expiry the EXPIRED status is
// committed immediately so the transition survives the caller's rollback.
func (s *Service) expireTx(tx *sql.Tx, lic *models.License, t time.Time) (bool, error) {
	if lic.ExpiresAt == nil || t.Unix() < *lic.ExpiresAt {
		return false, nil
	}

	lic.Status = models.StatusExpired
	if err := s.licenses.UpdateStateTx(tx, lic); err != nil {
		// Fail closed: the caller still rejects even though the transition
		// could not be persisted.
		log.Error().Err(err).Str("license_id", lic.ID).Msg("failed to persist expiry transition")
		return true, nil
	}
	if err := tx.Commit(); err != nil {
		log.Error().Err(err).Str("license_id", lic.ID).Msg("failed to commit expiry transition")
		return true, nil
	}
	log.Info().Str("license_id", lic.ID).Msg("license expired")
	return true, nil
}
