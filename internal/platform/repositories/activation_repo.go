package repositories

import (
	"database/sql"

	"keygate/internal/platform/models"
)

type ActivationRepository struct {
	db *sql.DB
}

func NewActivationRepository(db *sql.DB) *ActivationRepository {
	return &ActivationRepository{db: db}
}

const activationColumns = `id, license_id, device_id, comment, first_activated_at, last_seen_at, revoked`

func scanActivation(row *sql.Row) (*models.Activation, error) {
	act := &models.Activation{}
	err := row.Scan(&act.ID, &act.LicenseID, &act.DeviceID, &act.Comment, &act.FirstActivatedAt, &act.LastSeenAt, &act.Revoked)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return act, nil
}

// GetTx fetches the binding for a (license, device) pair, revoked or not.
// The pair is unique, so at most one row exists.
func (r *ActivationRepository) GetTx(tx *sql.Tx, licenseID, deviceID string) (*models.Activation, error) {
	return scanActivation(tx.QueryRow(
		`SELECT `+activationColumns+` FROM activations WHERE license_id = ? AND device_id = ?`,
		licenseID, deviceID))
}

// CountActiveTx counts non-revoked bindings for the maxDevices check. Must
// run in the same transaction that inserts the new binding.
func (r *ActivationRepository) CountActiveTx(tx *sql.Tx, licenseID string) (int, error) {
	var n int
	err := tx.QueryRow(
		`SELECT COUNT(*) FROM activations WHERE license_id = ? AND revoked = 0`,
		licenseID).Scan(&n)
	return n, err
}

func (r *ActivationRepository) CreateTx(tx *sql.Tx, act *models.Activation) error {
	_, err := tx.Exec(`
		INSERT INTO activations (id, license_id, device_id, comment, first_activated_at, last_seen_at, revoked)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, act.ID, act.LicenseID, act.DeviceID, act.Comment, act.FirstActivatedAt, act.LastSeenAt, act.Revoked)
	return err
}

// TouchTx refreshes last_seen_at on the non-revoked binding for the pair.
// A missing binding is not an error; refresh does not require one.
func (r *ActivationRepository) TouchTx(tx *sql.Tx, licenseID, deviceID string, now int64) error {
	_, err := tx.Exec(
		`UPDATE activations SET last_seen_at = ? WHERE license_id = ? AND device_id = ? AND revoked = 0`,
		now, licenseID, deviceID)
	return err
}

// ReactivateTx clears the revoked flag on an existing binding, preserving
// first_activated_at. Used when a previously revoked device binds again.
func (r *ActivationRepository) ReactivateTx(tx *sql.Tx, id string, now int64) error {
	_, err := tx.Exec(
		`UPDATE activations SET revoked = 0, last_seen_at = ? WHERE id = ?`,
		now, id)
	return err
}

// ExistsActive reports whether a non-revoked binding exists for the pair.
func (r *ActivationRepository) ExistsActive(licenseID, deviceID string) (bool, error) {
	var n int
	err := r.db.QueryRow(
		`SELECT COUNT(*) FROM activations WHERE license_id = ? AND device_id = ? AND revoked = 0`,
		licenseID, deviceID).Scan(&n)
	return n > 0, err
}

func (r *ActivationRepository) ListByLicense(licenseID string) ([]*models.Activation, error) {
	rows, err := r.db.Query(
		`SELECT `+activationColumns+` FROM activations WHERE license_id = ? ORDER BY first_activated_at ASC`,
		licenseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activations []*models.Activation
	for rows.Next() {
		act := &models.Activation{}
		if err := rows.Scan(&act.ID, &act.LicenseID, &act.DeviceID, &act.Comment, &act.FirstActivatedAt, &act.LastSeenAt, &act.Revoked); err != nil {
			return nil, err
		}
		activations = append(activations, act)
	}
	return activations, rows.Err()
}

// RevokeDevice administratively revokes a single binding. It frees a device
// slot; it does not invalidate outstanding credentials by itself, so callers
// pair it with a token version bump when that is the intent.
func (r *ActivationRepository) RevokeDevice(licenseID, deviceID string) (bool, error) {
	res, err := r.db.Exec(
		`UPDATE activations SET revoked = 1 WHERE license_id = ? AND device_id = ? AND revoked = 0`,
		licenseID, deviceID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
