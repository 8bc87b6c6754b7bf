package domain

import "time"

// AuditLog is one transaction outcome entry in the local audit trail.
type AuditLog struct {
	ID           string
	OrgID        string
	EnrollmentID string
	Action       string
	Outcome      string
	Detail       string
	CreatedAt    time.Time
}
