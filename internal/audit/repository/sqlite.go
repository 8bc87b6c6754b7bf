package repository

import (
	"context"
	"database/sql"
	"time"

	"push-authenticator/sdk/internal/audit/domain"
	"push-authenticator/sdk/internal/db"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(d *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: d}
}

func (r *SQLiteRepository) Create(ctx context.Context, entry *domain.AuditLog) error {
	var enrollmentID any
	if entry.EnrollmentID != "" {
		enrollmentID = entry.EnrollmentID
	}
	var detail any
	if entry.Detail != "" {
		detail = entry.Detail
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, org_id, enrollment_id, action, outcome, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.OrgID, enrollmentID, entry.Action, entry.Outcome, detail,
		entry.CreatedAt.UTC().Format(time.RFC3339Nano))
	return db.WrapErr("insert audit entry", err)
}

func (r *SQLiteRepository) ListByOrg(ctx context.Context, orgID string, limit int) ([]*domain.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, org_id, enrollment_id, action, outcome, detail, created_at
		 FROM audit_log WHERE org_id = ? ORDER BY created_at DESC LIMIT ?`, orgID, limit)
	if err != nil {
		return nil, db.WrapErr("list audit entries", err)
	}
	defer rows.Close()

	var out []*domain.AuditLog
	for rows.Next() {
		var (
			entry        domain.AuditLog
			enrollmentID sql.NullString
			detail       sql.NullString
			createdAt    string
		)
		if err := rows.Scan(&entry.ID, &entry.OrgID, &enrollmentID, &entry.Action, &entry.Outcome, &detail, &createdAt); err != nil {
			return nil, db.WrapErr("scan audit entry", err)
		}
		entry.EnrollmentID = enrollmentID.String
		entry.Detail = detail.String
		entry.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, &entry)
	}
	return out, db.WrapErr("list audit entries", rows.Err())
}
