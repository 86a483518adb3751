package license

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"keygate/internal/platform/models"
	"keygate/internal/platform/repositories"
)

// Administrative collaborator interface: bulk generation, extension,
// revocation and token-version bumps. Extension and revocation both bump the
// token version so credentials minted under the old state stop verifying.

const (
	maxBulkKeys         = 500
	keyCollisionRetries = 5
)

func (s *Service) GenerateKeys(count int, plan string, maxDevices int, note string) ([]*models.License, error) {
	if count <= 0 {
		count = 1
	}
	if count > maxBulkKeys {
		count = maxBulkKeys
	}
	if plan == "" {
		plan = s.defaultPlan
	}
	if maxDevices <= 0 {
		maxDevices = s.defaultDevices
	}

	licenses := make([]*models.License, 0, count)
	for i := 0; i < count; i++ {
		lic, err := s.createWithFreshKey(plan, maxDevices, note)
		if err != nil {
			return licenses, err
		}
		licenses = append(licenses, lic)
	}

	log.Info().Int("count", len(licenses)).Str("plan", plan).Msg("license keys generated")
	return licenses, nil
}

func (s *Service) createWithFreshKey(plan string, maxDevices int, note string) (*models.License, error) {
	var lastErr error
	for attempt := 0; attempt < keyCollisionRetries; attempt++ {
		key, err := s.keygen.Generate()
		if err != nil {
			return nil, err
		}

		lic := &models.License{
			ID:           "lic_" + uuid.New().String(),
			Key:          key,
			Plan:         plan,
			Status:       models.StatusActive,
			MaxDevices:   maxDevices,
			TokenVersion: 1,
			Note:         note,
			CreatedAt:    time.Now().Unix(),
		}

		err = s.licenses.Create(lic)
		if err == nil {
			return lic, nil
		}
		if err != repositories.ErrDuplicateKey {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// Extend adds days to the expiry (anchored to now when unset) and bumps the
// token version: credentials minted under the old expiry stop verifying.
func (s *Service) Extend(licenseID string, days int) (*models.License, error) {
	if days <= 0 {
		return nil, fail(FailBadRequest)
	}

	tx, err := s.licenses.BeginTx()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	lic, err := s.licenses.GetByIDTx(tx, licenseID)
	if err != nil {
		return nil, err
	}
	if lic == nil {
		return nil, fail(FailNotFound)
	}

	base := time.Now().Unix()
	if lic.ExpiresAt != nil {
		base = *lic.ExpiresAt
	}
	newExpiry := base + int64(days)*86400

	if err := s.licenses.ExtendTx(tx, lic.ID, newExpiry); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Info().Str("license_id", lic.ID).Int("days", days).Msg("license extended")
	return s.licenses.GetByID(licenseID)
}

// Revoke moves the license to its terminal REVOKED state and invalidates all
// outstanding credentials via the version bump.
func (s *Service) Revoke(licenseID string) (*models.License, error) {
	tx, err := s.licenses.BeginTx()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	lic, err := s.licenses.GetByIDTx(tx, licenseID)
	if err != nil {
		return nil, err
	}
	if lic == nil {
		return nil, fail(FailNotFound)
	}

	if err := s.licenses.RevokeTx(tx, lic.ID, time.Now().Unix()); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Info().Str("license_id", lic.ID).Msg("license revoked")
	return s.licenses.GetByID(licenseID)
}

func (s *Service) BumpTokenVersion(licenseID string) (*models.License, error) {
	tx, err := s.licenses.BeginTx()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	lic, err := s.licenses.GetByIDTx(tx, licenseID)
	if err != nil {
		return nil, err
	}
	if lic == nil {
		return nil, fail(FailNotFound)
	}

	if err := s.licenses.BumpTokenVersionTx(tx, lic.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.licenses.GetByID(licenseID)
}

// RevokeDevice revokes a single binding, freeing a device slot. It does not
// bump the token version; callers wanting to cut off the device immediately
// pair it with BumpTokenVersion.
func (s *Service) RevokeDevice(licenseID, deviceID string) error {
	found, err := s.activations.RevokeDevice(licenseID, deviceID)
	if err != nil {
		return err
	}
	if !found {
		return fail(FailNotFound)
	}
	return nil
}

func (s *Service) GetLicense(licenseID string) (*models.License, error) {
	lic, err := s.licenses.GetByID(licenseID)
	if err != nil {
		return nil, err
	}
	if lic == nil {
		return nil, fail(FailNotFound)
	}
	return lic, nil
}

func (s *Service) ListLicenses(filter repositories.LicenseFilter) ([]*models.License, error) {
	return s.licenses.List(filter)
}

func (s *Service) ListActivations(licenseID string) ([]*models.Activation, error) {
	lic, err := s.licenses.GetByID(licenseID)
	if err != nil {
		return nil, err
	}
	if lic == nil {
		return nil, fail(FailNotFound)
	}
	return s.activations.ListByLicense(licenseID)
}
