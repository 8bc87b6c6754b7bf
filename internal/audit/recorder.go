// Package audit keeps a local trail of transaction outcomes.
package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"push-authenticator/sdk/internal/audit/domain"
	auditrepo "push-authenticator/sdk/internal/audit/repository"
)

const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Recorder writes transaction outcomes to the audit trail. Record is
// best-effort: failures are logged and never affect the transaction result.
type Recorder struct {
	repo  auditrepo.Repository
	nowFn func() time.Time
}

// NewRecorder returns a Recorder over repo. repo may be nil; then Record
// does nothing.
func NewRecorder(repo auditrepo.Repository) *Recorder {
	return &Recorder{repo: repo, nowFn: time.Now}
}

// Record writes one audit entry for a completed transaction.
func (r *Recorder) Record(ctx context.Context, orgID, enrollmentID, action, outcome, detail string) {
	if r == nil || r.repo == nil {
		return
	}
	entry := &domain.AuditLog{
		ID:           uuid.New().String(),
		OrgID:        orgID,
		EnrollmentID: enrollmentID,
		Action:       action,
		Outcome:      outcome,
		Detail:       detail,
		CreatedAt:    r.nowFn().UTC(),
	}
	if err := r.repo.Create(ctx, entry); err != nil {
		log.Printf("audit: failed to record %s/%s: %v", action, outcome, err)
	}
}
