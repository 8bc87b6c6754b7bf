package audit

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"push-authenticator/sdk/internal/audit/domain"
	auditrepo "push-authenticator/sdk/internal/audit/repository"
	"push-authenticator/sdk/internal/db"
	"push-authenticator/sdk/internal/db/migrate"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "authenticator.db")
	if err := migrate.Run(path, migrate.Target); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	d, err := db.Open(path)
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestRecordPersistsEntry(t *testing.T) {
	repo := auditrepo.NewSQLiteRepository(openTestDB(t))
	rec := NewRecorder(repo)
	ctx := context.Background()

	rec.Record(ctx, "org-1", "aen-1", "enroll", OutcomeSuccess, "")
	rec.Record(ctx, "org-1", "aen-1", "delete", OutcomeError, "storage error")

	entries, err := repo.ListByOrg(ctx, "org-1", 10)
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	for _, e := range entries {
		if e.ID == "" || e.CreatedAt.IsZero() {
			t.Errorf("entry missing id or timestamp: %+v", e)
		}
	}
}

type failingRepo struct{}

func (failingRepo) Create(context.Context, *domain.AuditLog) error {
	return errors.New("disk full")
}

func (failingRepo) ListByOrg(context.Context, string, int) ([]*domain.AuditLog, error) {
	return nil, nil
}

func TestRecordIsBestEffort(t *testing.T) {
	rec := NewRecorder(failingRepo{})
	// must not panic or propagate
	rec.Record(context.Background(), "org-1", "", "enroll", OutcomeError, "x")

	var unset *Recorder
	unset.Record(context.Background(), "org-1", "", "enroll", OutcomeSuccess, "")
	NewRecorder(nil).Record(context.Background(), "org-1", "", "enroll", OutcomeSuccess, "")
}
