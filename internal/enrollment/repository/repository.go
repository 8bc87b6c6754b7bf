package repository

import (
	"context"

	"push-authenticator/sdk/internal/api"
	"push-authenticator/sdk/internal/enrollment/domain"
)

// Repository defines persistence for enrollments and their factors.
type Repository interface {
	// Get returns the enrollment for (orgID, enrollmentID), or nil if not found.
	Get(ctx context.Context, orgID, enrollmentID string) (*domain.Enrollment, error)
	// GetByUser returns the org's enrollment for userID, or nil if not found.
	GetByUser(ctx context.Context, orgID, userID string) (*domain.Enrollment, error)
	// GetByEnrollmentID returns the enrollment regardless of org, or nil if
	// not found. Challenge tokens identify the enrollment without naming
	// the locally assigned org key.
	GetByEnrollmentID(ctx context.Context, enrollmentID string) (*domain.Enrollment, error)
	// ListAll returns every stored enrollment.
	ListAll(ctx context.Context) ([]*domain.Enrollment, error)
	// Save upserts the enrollment and its factor rows. A different
	// enrollment for the same (orgID, userID) is replaced, not unioned.
	Save(ctx context.Context, e *domain.Enrollment) error
	// UpdateServerError records (or clears, with nil) the last server error.
	UpdateServerError(ctx context.Context, orgID, enrollmentID string, code *api.ServerErrorCode) error
	// Delete removes the enrollment and its factor rows. When it was the
	// org's last enrollment, the org's policy and device rows are removed
	// too; lastInOrg reports that.
	Delete(ctx context.Context, orgID, enrollmentID string) (lastInOrg bool, err error)
}
