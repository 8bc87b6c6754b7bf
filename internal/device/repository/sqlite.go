// Package repository persists the per-org device binding.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"push-authenticator/sdk/internal/db"
	"push-authenticator/sdk/internal/device/domain"
)

// Repository defines persistence for the device binding. One row per org.
type Repository interface {
	// GetByOrg returns the org's device binding, or nil if none exists.
	GetByOrg(ctx context.Context, orgID string) (*domain.DeviceEnrollment, error)
	Save(ctx context.Context, d *domain.DeviceEnrollment) error
	DeleteByOrg(ctx context.Context, orgID string) error
}

type SQLiteRepository struct {
	db    *sql.DB
	nowFn func() time.Time
}

func NewSQLiteRepository(d *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: d, nowFn: time.Now}
}

func (r *SQLiteRepository) GetByOrg(ctx context.Context, orgID string) (*domain.DeviceEnrollment, error) {
	var (
		d         domain.DeviceEnrollment
		orgURL    sql.NullString
		createdAt string
		updatedAt string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT device_id, org_id, org_url, client_instance_id, client_instance_key_tag, created_at, updated_at
		 FROM device_enrollment WHERE org_id = ?`, orgID).
		Scan(&d.DeviceID, &d.OrgID, &orgURL, &d.ClientInstanceID, &d.ClientInstanceKeyTag, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.WrapErr("get device enrollment", err)
	}
	if orgURL.Valid {
		d.OrgURL = &orgURL.String
	}
	d.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	d.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &d, nil
}

func (r *SQLiteRepository) Save(ctx context.Context, d *domain.DeviceEnrollment) error {
	now := r.nowFn().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	var orgURL any
	if d.OrgURL != nil {
		orgURL = *d.OrgURL
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO device_enrollment (device_id, org_id, org_url, client_instance_id, client_instance_key_tag, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (device_id, org_id) DO UPDATE SET
		   org_url = excluded.org_url,
		   client_instance_id = excluded.client_instance_id,
		   client_instance_key_tag = excluded.client_instance_key_tag,
		   updated_at = excluded.updated_at`,
		d.DeviceID, d.OrgID, orgURL, d.ClientInstanceID, d.ClientInstanceKeyTag,
		d.CreatedAt.UTC().Format(time.RFC3339Nano), d.UpdatedAt.UTC().Format(time.RFC3339Nano))
	return db.WrapErr("upsert device enrollment", err)
}

func (r *SQLiteRepository) DeleteByOrg(ctx context.Context, orgID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM device_enrollment WHERE org_id = ?", orgID)
	return db.WrapErr("delete device enrollment", err)
}
