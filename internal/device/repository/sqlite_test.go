package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"push-authenticator/sdk/internal/db"
	"push-authenticator/sdk/internal/db/migrate"
	"push-authenticator/sdk/internal/device/domain"
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

func TestSaveAndGetRoundTrip(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	want := &domain.DeviceEnrollment{
		DeviceID:             "dev-1",
		OrgID:                "org-1",
		ClientInstanceID:     "cli-1",
		ClientInstanceKeyTag: "device.client-instance",
	}
	if err := repo.Save(ctx, want); err != nil {
		t.Fatalf("saving: %v", err)
	}

	got, err := repo.GetByOrg(ctx, "org-1")
	if err != nil {
		t.Fatalf("getting: %v", err)
	}
	if got == nil {
		t.Fatal("expected device enrollment, got nil")
	}
	if got.DeviceID != "dev-1" || got.ClientInstanceID != "cli-1" || got.ClientInstanceKeyTag != "device.client-instance" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.OrgURL != nil {
		t.Errorf("new rows must leave org_url NULL, got %q", *got.OrgURL)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))

	got, err := repo.GetByOrg(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestSaveUpserts(t *testing.T) {
	d := openTestDB(t)
	repo := NewSQLiteRepository(d)
	ctx := context.Background()

	e := &domain.DeviceEnrollment{DeviceID: "dev-1", OrgID: "org-1", ClientInstanceID: "cli-1", ClientInstanceKeyTag: "tag-1"}
	if err := repo.Save(ctx, e); err != nil {
		t.Fatal(err)
	}
	e.ClientInstanceID = "cli-2"
	if err := repo.Save(ctx, e); err != nil {
		t.Fatal(err)
	}

	var n int
	if err := d.QueryRow("SELECT COUNT(*) FROM device_enrollment WHERE org_id = 'org-1'").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("device rows = %d, want 1", n)
	}
	got, err := repo.GetByOrg(ctx, "org-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ClientInstanceID != "cli-2" {
		t.Errorf("client instance id = %q after upsert", got.ClientInstanceID)
	}
}

func TestLegacyOrgURLSurvivesRead(t *testing.T) {
	d := openTestDB(t)
	repo := NewSQLiteRepository(d)

	legacy := "https://legacy.example"
	e := &domain.DeviceEnrollment{DeviceID: "dev-1", OrgID: "org-1", OrgURL: &legacy, ClientInstanceID: "cli-1", ClientInstanceKeyTag: "tag-1"}
	if err := repo.Save(context.Background(), e); err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetByOrg(context.Background(), "org-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.OrgURL == nil || *got.OrgURL != legacy {
		t.Errorf("legacy org url lost: %v", got.OrgURL)
	}
}

func TestDeleteByOrg(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	e := &domain.DeviceEnrollment{DeviceID: "dev-1", OrgID: "org-1", ClientInstanceID: "cli-1", ClientInstanceKeyTag: "tag-1"}
	if err := repo.Save(ctx, e); err != nil {
		t.Fatal(err)
	}
	if err := repo.DeleteByOrg(ctx, "org-1"); err != nil {
		t.Fatal(err)
	}
	got, err := repo.GetByOrg(ctx, "org-1")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("device enrollment still present after delete: %+v", got)
	}
}
