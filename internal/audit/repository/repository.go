package repository

import (
	"context"

	"push-authenticator/sdk/internal/audit/domain"
)

// Repository defines persistence for audit log entries.
type Repository interface {
	Create(ctx context.Context, entry *domain.AuditLog) error
	// ListByOrg returns the org's entries, newest first, capped at limit.
	ListByOrg(ctx context.Context, orgID string, limit int) ([]*domain.AuditLog, error)
}
