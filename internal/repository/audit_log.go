package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// AuditLogEntry records a catalog mutation made through the API or the admin
// portal. Exactly one of APIKeyID and AdminUserID is normally set.
type AuditLogEntry struct {
	ID          int64           `db:"id" json:"id"`
	APIKeyID    string          `db:"api_key_id" json:"api_key_id,omitempty"`
	AdminUserID string          `db:"admin_user_id" json:"admin_user_id,omitempty"`
	Action      string          `db:"action" json:"action"`
	EntityType  string          `db:"entity_type" json:"entity_type"`
	EntityID    string          `db:"entity_id" json:"entity_id"`
	Details     json.RawMessage `db:"details" json:"details,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// NewAuditEntry builds an entry for a mutation of entityType/entityID.
// details, when non-nil, is stored as JSON.
func NewAuditEntry(action, entityType, entityID string, details any) (AuditLogEntry, error) {
	e := AuditLogEntry{Action: action, EntityType: entityType, EntityID: entityID}
	if details == nil {
		return e, nil
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return AuditLogEntry{}, fmt.Errorf("marshal audit details for %s %s: %w", entityType, entityID, err)
	}
	e.Details = raw
	return e, nil
}

func (r *PostgresRepository) InsertAuditLog(ctx context.Context, e AuditLogEntry) error {
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO audit_log (api_key_id, admin_user_id, action, entity_type, entity_id, details)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.APIKeyID, e.AdminUserID, e.Action, e.EntityType, e.EntityID, e.Details,
	); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// ListAuditLog pages through entries newest first.
func (r *PostgresRepository) ListAuditLog(ctx context.Context, limit, offset int) ([]AuditLogEntry, error) {
	rows, _ := r.pool.Query(ctx, `
		SELECT id, api_key_id, admin_user_id, action, entity_type, entity_id, details, created_at
		FROM audit_log
		ORDER BY id DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	entries, err := pgx.CollectRows(rows, pgx.RowToStructByName[AuditLogEntry])
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	return entries, nil
}
