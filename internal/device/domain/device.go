// Package domain holds the per-org device binding record.
package domain

import "time"

// DeviceEnrollment binds this device to an org: the server-assigned device
// id plus the client instance identity used to self-sign assertions. One row
// per org, shared by every enrollment in it.
//
// OrgURL is a legacy column kept for rows written by earlier schema
// versions; new rows leave it NULL and resolve the org URL from config.
type DeviceEnrollment struct {
	DeviceID             string
	OrgID                string
	OrgURL               *string
	ClientInstanceID     string
	ClientInstanceKeyTag string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
