package authenticator

import (
	"context"
	"time"

	"push-authenticator/sdk/internal/challenge"
)

// ConsentStep is the remediation step asking the user to approve or deny a
// sign-in attempt. The host app renders it and calls Approve, Deny, or
// NotProcessed.
type ConsentStep = challenge.ConsentStep

// RemediationFunc receives each remediation step during challenge
// resolution.
type RemediationFunc = challenge.RemediationFunc

// UserResponse is the device user's decision on a challenge.
type UserResponse = challenge.UserResponse

const (
	UserResponseApproved     = challenge.UserResponseApproved
	UserResponseDenied       = challenge.UserResponseDenied
	UserResponseNotResponded = challenge.UserResponseNotResponded
)

// MapActionIdentifier maps a platform notification action identifier to a
// user response: the approve action approves, the deny action denies, and
// anything else means the host app should show interactive UI.
func MapActionIdentifier(action string) UserResponse {
	return challenge.MapActionIdentifier(action)
}

// Challenge is a validated sign-in challenge awaiting resolution. It is
// resolved exactly once and never persisted.
type Challenge struct {
	auth *Authenticator
	ch   *challenge.Challenge
}

// TransactionID identifies the sign-in attempt server-side.
func (c *Challenge) TransactionID() string { return c.ch.TransactionID }

// OriginURL is where the sign-in attempt happened.
func (c *Challenge) OriginURL() string { return c.ch.OriginURL }

// ClientLocation is the coarse location of the requesting client.
func (c *Challenge) ClientLocation() string { return c.ch.ClientLocation }

// ClientOS is the requesting client's operating system.
func (c *Challenge) ClientOS() string { return c.ch.ClientOS }

// AppInstanceName names the app instance the challenge targets.
func (c *Challenge) AppInstanceName() string { return c.ch.AppInstanceName }

// TransactionTime is when the sign-in attempt occurred.
func (c *Challenge) TransactionTime() time.Time { return c.ch.TransactionTime }

// TransactionType is the challenge kind, e.g. LOGIN or CIBA.
func (c *Challenge) TransactionType() string { return c.ch.TransactionType }

// Enrollment returns the handle of the enrollment the challenge targets.
func (c *Challenge) Enrollment() *Enrollment {
	return &Enrollment{auth: c.auth, record: c.ch.Enrollment()}
}

// SetUserResponse pre-decides the challenge from a notification action so
// Resolve submits without a consent step.
func (c *Challenge) SetUserResponse(r UserResponse) { c.ch.UserResponse = r }

// Resolve drives the challenge to resolution: an undecided challenge is
// offered to onRemediation as a consent step, then the decision is signed
// and submitted. On submission failure the decision stands and Resolve may
// be called again to resubmit.
func (c *Challenge) Resolve(ctx context.Context, onRemediation RemediationFunc) error {
	return c.auth.resolver.Resolve(ctx, c.ch, onRemediation)
}
