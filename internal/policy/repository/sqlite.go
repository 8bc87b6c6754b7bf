// Package repository persists the per-org authenticator policy cache.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"push-authenticator/sdk/internal/api"
	"push-authenticator/sdk/internal/db"
	"push-authenticator/sdk/internal/policy/domain"
)

// Repository defines persistence for the cached authenticator policy. One
// row per org; a fresh download replaces the cached row.
type Repository interface {
	// Get returns the org's cached policy, or nil if none is cached.
	Get(ctx context.Context, orgID string) (*domain.AuthenticatorPolicy, error)
	Save(ctx context.Context, p *domain.AuthenticatorPolicy) error
	DeleteByOrg(ctx context.Context, orgID string) error
}

type SQLiteRepository struct {
	db    *sql.DB
	nowFn func() time.Time
}

func NewSQLiteRepository(d *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: d, nowFn: time.Now}
}

func (r *SQLiteRepository) Get(ctx context.Context, orgID string) (*domain.AuthenticatorPolicy, error) {
	var (
		p             domain.AuthenticatorPolicy
		activeMethods string
		uv            string
		metadata      string
		createdAt     string
		updatedAt     string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT policy_id, org_id, active_methods, user_verification, metadata, created_at, updated_at
		 FROM authenticator_policy WHERE org_id = ?`, orgID).
		Scan(&p.PolicyID, &p.OrgID, &activeMethods, &uv, &metadata, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.WrapErr("get policy", err)
	}
	if activeMethods != "" {
		p.ActiveMethods = strings.Split(activeMethods, ",")
	}
	p.UserVerification = domain.ParseUserVerification(uv)
	var md api.AuthenticatorMetadata
	if err := json.Unmarshal([]byte(metadata), &md); err != nil {
		return nil, db.WrapErr("decode policy metadata", err)
	}
	p.Metadata = md
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &p, nil
}

func (r *SQLiteRepository) Save(ctx context.Context, p *domain.AuthenticatorPolicy) error {
	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return db.WrapErr("encode policy metadata", err)
	}
	now := r.nowFn().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	// one policy per org: a replaced policy id must not leave two rows
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return db.WrapErr("begin save policy", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM authenticator_policy WHERE org_id = ? AND policy_id != ?", p.OrgID, p.PolicyID); err != nil {
		return db.WrapErr("delete superseded policy", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO authenticator_policy (policy_id, org_id, active_methods, user_verification, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (policy_id, org_id) DO UPDATE SET
		   active_methods = excluded.active_methods,
		   user_verification = excluded.user_verification,
		   metadata = excluded.metadata, updated_at = excluded.updated_at`,
		p.PolicyID, p.OrgID, strings.Join(p.ActiveMethods, ","), p.UserVerification.Raw(),
		string(metadata), p.CreatedAt.UTC().Format(time.RFC3339Nano), p.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return db.WrapErr("upsert policy", err)
	}
	return db.WrapErr("commit save policy", tx.Commit())
}

func (r *SQLiteRepository) DeleteByOrg(ctx context.Context, orgID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM authenticator_policy WHERE org_id = ?", orgID)
	return db.WrapErr("delete policy", err)
}
