package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apiContext "keygate/internal/api/context"
	"keygate/internal/platform/models"
)

type Entry struct {
	ID           string                 `json:"id"`
	ActorKeyID   string                 `json:"actor_key_id"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	Metadata     map[string]interface{} `json:"metadata"`
	CreatedAt    int64                  `json:"created_at"`
}

type Logger struct {
	db *sql.DB
}

func NewLogger(db *sql.DB) *Logger {
	return &Logger{db: db}
}

// Log records an administrative action. Best effort: the write runs off the
// request path and a failure never fails the action itself.
func (l *Logger) Log(ctx context.Context, action, resourceType, resourceID string, metadata map[string]interface{}) {
	var actor string
	if key, ok := ctx.Value(apiContext.AdminKey).(*models.AdminKey); ok && key != nil {
		actor = key.ID
	}

	metaJSON, _ := json.Marshal(metadata)

	entry := &Entry{
		ID:           "audit_" + uuid.New().String(),
		ActorKeyID:   actor,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     metadata,
		CreatedAt:    time.Now().Unix(),
	}

	go func() {
		_, err := l.db.Exec(`
			INSERT INTO audit_logs (id, actor_key_id, action, resource_type, resource_id, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, entry.ID, entry.ActorKeyID, entry.Action, entry.ResourceType, entry.ResourceID, string(metaJSON), entry.CreatedAt)
		if err != nil {
			log.Error().Err(err).Str("action", action).Msg("failed to write audit log")
		}
	}()
}
