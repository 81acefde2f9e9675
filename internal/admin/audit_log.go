package admin

import (
	"context"
	"time"

	"github.com/matt-riley/yomu/internal/repository"
)

const (
	adminAuditWriteTimeout = 2 * time.Second

	entityAdminUser = "admin_user"
	entityAPIKey    = "api_key"
)

// logAudit records an admin action. The write outlives a cancelled request
// and failures are only logged.
func (h *Handler) logAudit(ctx context.Context, adminUserID, action, entityType, entityID string, details any) {
	log := h.log.With(
		"action", action,
		"entity_type", entityType,
		"entity_id", entityID,
		"admin_user_id", adminUserID,
	)

	entry, err := repository.NewAuditEntry(action, entityType, entityID, details)
	if err != nil {
		log.Error("audit log: build entry", "error", err)
		return
	}
	entry.AdminUserID = adminUserID

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), adminAuditWriteTimeout)
	defer cancel()
	if err := h.store.InsertAuditLog(writeCtx, entry); err != nil {
		log.Error("audit log write failed", "error", err)
	}
}
