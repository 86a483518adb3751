package models

// License lifecycle states. ACTIVE means issued but never activated; USED
// means at least one device bound. EXPIRED and REVOKED are terminal.
const (
	StatusActive  = "ACTIVE"
	StatusUsed    = "USED"
	StatusExpired = "EXPIRED"
	StatusRevoked = "REVOKED"
)

type License struct {
	ID           string `json:"id"`
	Key          string `json:"key"`
	Plan         string `json:"plan"`
	Status       string `json:"status"`
	ExpiresAt    *int64 `json:"expires_at,omitempty"`
	MaxDevices   int    `json:"max_devices"`
	TokenVersion int    `json:"token_version"`
	Note         string `json:"note,omitempty"`
	RevokedAt    *int64 `json:"revoked_at,omitempty"`
	CreatedAt    int64  `json:"created_at"`
}

// Terminal reports whether the license is in an absorbing state.
func (l *License) Terminal() bool {
	return l.Status == StatusExpired || l.Status == StatusRevoked
}

type Activation struct {
	ID               string `json:"id"`
	LicenseID        string `json:"license_id"`
	DeviceID         string `json:"device_id"`
	Comment          string `json:"comment,omitempty"`
	FirstActivatedAt int64  `json:"first_activated_at"`
	LastSeenAt       int64  `json:"last_seen_at"`
	Revoked          bool   `json:"revoked"`
}

type AdminKey struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	KeyHash    string `json:"-"`
	KeyPrefix  string `json:"key_prefix"`
	LastUsedAt *int64 `json:"last_used_at,omitempty"`
	CreatedAt  int64  `json:"created_at"`
	RevokedAt  *int64 `json:"revoked_at,omitempty"`
}
