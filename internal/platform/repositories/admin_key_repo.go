package repositories

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"keygate/internal/platform/models"
)

type AdminKeyRepository struct {
	db *sql.DB
}

func NewAdminKeyRepository(db *sql.DB) *AdminKeyRepository {
	return &AdminKeyRepository{db: db}
}

func (r *AdminKeyRepository) Create(key *models.AdminKey) error {
	if key.ID == "" {
		key.ID = "key_" + uuid.New().String()
	}
	key.CreatedAt = time.Now().Unix()

	_, err := r.db.Exec(`
		INSERT INTO admin_keys (id, name, key_hash, key_prefix, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.CreatedAt)
	return err
}

func (r *AdminKeyRepository) GetByHash(hash string) (*models.AdminKey, error) {
	row := r.db.QueryRow(
		`SELECT id, name, key_prefix, last_used_at, created_at, revoked_at FROM admin_keys WHERE key_hash = ?`,
		hash)

	var k models.AdminKey
	var lastUsedAt, revokedAt sql.NullInt64

	err := row.Scan(&k.ID, &k.Name, &k.KeyPrefix, &lastUsedAt, &k.CreatedAt, &revokedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if lastUsedAt.Valid {
		k.LastUsedAt = &lastUsedAt.Int64
	}
	if revokedAt.Valid {
		k.RevokedAt = &revokedAt.Int64
	}
	k.KeyHash = hash

	return &k, nil
}

func (r *AdminKeyRepository) List() ([]*models.AdminKey, error) {
	rows, err := r.db.Query(
		`SELECT id, name, key_prefix, last_used_at, created_at, revoked_at FROM admin_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*models.AdminKey
	for rows.Next() {
		var k models.AdminKey
		var lastUsedAt, revokedAt sql.NullInt64
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyPrefix, &lastUsedAt, &k.CreatedAt, &revokedAt); err != nil {
			return nil, err
		}
		if lastUsedAt.Valid {
			k.LastUsedAt = &lastUsedAt.Int64
		}
		if revokedAt.Valid {
			k.RevokedAt = &revokedAt.Int64
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (r *AdminKeyRepository) Revoke(id string) error {
	_, err := r.db.Exec(`UPDATE admin_keys SET revoked_at = ? WHERE id = ?`, time.Now().Unix(), id)
	return err
}

func (r *AdminKeyRepository) UpdateLastUsed(id string) error {
	_, err := r.db.Exec(`UPDATE admin_keys SET last_used_at = ? WHERE id = ?`, time.Now().Unix(), id)
	return err
}
