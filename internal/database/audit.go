package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/winmix/engine/models"
)

// InsertAudit records a mutating action. Audit failures are surfaced so
// callers can log them, but they never abort the mutation they describe.
func (db *DB) InsertAudit(ctx context.Context, rec *models.AuditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	details := []byte(`{}`)
	if len(rec.Details) > 0 {
		var err error
		details, err = json.Marshal(rec.Details)
		if err != nil {
			return wrap("InsertAudit", err)
		}
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_id, actor_email, actor_role, action, resource_type, resource_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rec.ID, rec.Actor.ID, rec.Actor.Email, rec.Actor.Role,
		rec.Action, rec.ResourceType, rec.ResourceID, details, rec.CreatedAt)
	return wrap("InsertAudit", err)
}
