package repositories

import (
	"database/sql"
	"errors"

	"github.com/mattn/go-sqlite3"
	"keygate/internal/platform/models"
)

// ErrDuplicateKey is returned when an insert collides with an existing license
// key. Bulk generation treats this as "draw again", everything else as fatal.
var ErrDuplicateKey = errors.New("license key already exists")

type LicenseRepository struct {
	db *sql.DB
}

func NewLicenseRepository(db *sql.DB) *LicenseRepository {
	return &LicenseRepository{db: db}
}

func (r *LicenseRepository) BeginTx() (*sql.Tx, error) {
	return r.db.Begin()
}

func (r *LicenseRepository) Create(lic *models.License) error {
	_, err := r.db.Exec(`
		INSERT INTO licenses (id, key, plan, status, expires_at, max_devices, token_version, note, revoked_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, lic.ID, lic.Key, lic.Plan, lic.Status, lic.ExpiresAt, lic.MaxDevices, lic.TokenVersion, lic.Note, lic.RevokedAt, lic.CreatedAt)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrDuplicateKey
		}
		return err
	}
	return nil
}

const licenseColumns = `id, key, plan, status, expires_at, max_devices, token_version, note, revoked_at, created_at`

func scanLicense(row *sql.Row) (*models.License, error) {
	lic := &models.License{}
	var expiresAt, revokedAt sql.NullInt64

	err := row.Scan(&lic.ID, &lic.Key, &lic.Plan, &lic.Status, &expiresAt, &lic.MaxDevices, &lic.TokenVersion, &lic.Note, &revokedAt, &lic.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if expiresAt.Valid {
		lic.ExpiresAt = &expiresAt.Int64
	}
	if revokedAt.Valid {
		lic.RevokedAt = &revokedAt.Int64
	}
	return lic, nil
}

func (r *LicenseRepository) GetByID(id string) (*models.License, error) {
	return scanLicense(r.db.QueryRow(`SELECT `+licenseColumns+` FROM licenses WHERE id = ?`, id))
}

func (r *LicenseRepository) GetByIDTx(tx *sql.Tx, id string) (*models.License, error) {
	return scanLicense(tx.QueryRow(`SELECT `+licenseColumns+` FROM licenses WHERE id = ?`, id))
}

func (r *LicenseRepository) GetByKeyTx(tx *sql.Tx, key string) (*models.License, error) {
	return scanLicense(tx.QueryRow(`SELECT `+licenseColumns+` FROM licenses WHERE key = ?`, key))
}

// UpdateStateTx persists the mutable lifecycle fields: status and expiry.
func (r *LicenseRepository) UpdateStateTx(tx *sql.Tx, lic *models.License) error {
	_, err := tx.Exec(`UPDATE licenses SET status = ?, expires_at = ? WHERE id = ?`,
		lic.Status, lic.ExpiresAt, lic.ID)
	return err
}

// MarkExpired flips a license to EXPIRED outside any caller transaction.
// Used by the lazy-expiry path when the surrounding work is rolled back.
func (r *LicenseRepository) MarkExpired(id string) error {
	_, err := r.db.Exec(`UPDATE licenses SET status = ? WHERE id = ? AND status NOT IN (?, ?)`,
		models.StatusExpired, id, models.StatusExpired, models.StatusRevoked)
	return err
}

// BumpTokenVersionTx invalidates every outstanding credential for the license.
// The increment happens in SQL so the counter can never move backwards.
func (r *LicenseRepository) BumpTokenVersionTx(tx *sql.Tx, id string) error {
	_, err := tx.Exec(`UPDATE licenses SET token_version = token_version + 1 WHERE id = ?`, id)
	return err
}

func (r *LicenseRepository) ExtendTx(tx *sql.Tx, id string, expiresAt int64) error {
	_, err := tx.Exec(`UPDATE licenses SET expires_at = ?, token_version = token_version + 1 WHERE id = ?`,
		expiresAt, id)
	return err
}

func (r *LicenseRepository) RevokeTx(tx *sql.Tx, id string, revokedAt int64) error {
	_, err := tx.Exec(`
		UPDATE licenses
		SET status = ?, revoked_at = ?, token_version = token_version + 1
		WHERE id = ?
	`, models.StatusRevoked, revokedAt, id)
	return err
}

type LicenseFilter struct {
	Status    string
	Plan      string
	KeySearch string
	Limit     int
	Offset    int
}

func (r *LicenseRepository) List(filter LicenseFilter) ([]*models.License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE 1=1`
	args := []interface{}{}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.Plan != "" {
		query += ` AND plan = ?`
		args = append(args, filter.Plan)
	}
	if filter.KeySearch != "" {
		query += ` AND key LIKE ?`
		args = append(args, "%"+filter.KeySearch+"%")
	}

	query += ` ORDER BY created_at DESC`
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var licenses []*models.License
	for rows.Next() {
		lic := &models.License{}
		var expiresAt, revokedAt sql.NullInt64
		if err := rows.Scan(&lic.ID, &lic.Key, &lic.Plan, &lic.Status, &expiresAt, &lic.MaxDevices, &lic.TokenVersion, &lic.Note, &revokedAt, &lic.CreatedAt); err != nil {
			return nil, err
		}
		if expiresAt.Valid {
			lic.ExpiresAt = &expiresAt.Int64
		}
		if revokedAt.Valid {
			lic.RevokedAt = &revokedAt.Int64
		}
		licenses = append(licenses, lic)
	}
	return licenses, rows.Err()
}

func (r *LicenseRepository) Count() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM licenses`).Scan(&n)
	return n, err
}
