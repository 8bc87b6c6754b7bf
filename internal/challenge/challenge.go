// Package challenge parses inbound push payloads into validated challenges
// and produces the signed responses resolving them.
package challenge

import (
	"errors"
	"fmt"
	"time"

	endomain "push-authenticator/sdk/internal/enrollment/domain"
	"push-authenticator/sdk/internal/token"
)

// PayloadChallengeKey is the push payload field carrying the signed
// challenge token. A payload without it is not an SDK notification.
const PayloadChallengeKey = "challenge"

// ErrPushNotRecognized marks a push payload that carries no challenge token
// at all: a foreign, non-SDK notification. Distinct from a payload whose
// token is present but fails validation.
var ErrPushNotRecognized = errors.New("challenge: push notification not recognized")

// ErrNotResponded is returned when a resolution is requested without a user
// decision.
var ErrNotResponded = errors.New("challenge: user has not responded")

// AccountNotFoundError is returned when a challenge names an enrollment this
// device no longer holds. It carries the parsed challenge so a caller can
// still log or display its details.
type AccountNotFoundError struct {
	Challenge *Challenge
}

func (e *AccountNotFoundError) Error() string {
	return fmt.Sprintf("challenge: no local account for enrollment %q", e.Challenge.EnrollmentID)
}

// UserResponse is the device user's decision on a challenge.
type UserResponse string

const (
	UserResponseApproved     UserResponse = "APPROVED"
	UserResponseDenied       UserResponse = "DENIED"
	UserResponseNotResponded UserResponse = "NOT_RESPONDED"
)

// Notification action identifiers the host app registers for its push
// category.
const (
	ActionApprove = "approve"
	ActionDeny    = "deny"
)

// MapActionIdentifier maps a platform notification action to a user
// response. Anything unrecognized means the host app should show its
// interactive UI instead of auto-resolving.
func MapActionIdentifier(action string) UserResponse {
	switch action {
	case ActionApprove:
		return UserResponseApproved
	case ActionDeny:
		return UserResponseDenied
	default:
		return UserResponseNotResponded
	}
}

// Challenge is a parsed, validated sign-in challenge. Transient: it is
// resolved exactly once and never persisted.
type Challenge struct {
	TransactionID   string
	Nonce           string
	EnrollmentID    string
	OrgID           string
	Issuer          string
	VerificationURI string
	OriginURL       string
	TransactionTime time.Time
	TransactionType string
	AppInstanceName string
	ClientLocation  string
	ClientOS        string
	UserResponse    UserResponse

	// UserVerificationRequested reports whether the server asked for the
	// biometric-gated key on approval.
	UserVerificationRequested bool

	raw        string
	enrollment *endomain.Enrollment
}

// Enrollment returns the local enrollment the challenge resolved to, or nil
// for a challenge carried inside AccountNotFoundError.
func (c *Challenge) Enrollment() *endomain.Enrollment { return c.enrollment }

// RawToken returns the original signed challenge token.
func (c *Challenge) RawToken() string { return c.raw }

func fromClaims(claims *token.Claims, raw string) *Challenge {
	return &Challenge{
		TransactionID:             claims.TransactionID,
		Nonce:                     claims.Nonce,
		EnrollmentID:              claims.EnrollmentID,
		OrgID:                     claims.OrgID,
		Issuer:                    claims.Issuer,
		VerificationURI:           claims.VerificationURI,
		OriginURL:                 claims.OriginURL,
		TransactionTime:           claims.TransactionTime,
		TransactionType:           claims.TransactionType,
		AppInstanceName:           claims.AppInstanceName,
		ClientLocation:            claims.ClientLocation,
		ClientOS:                  claims.ClientOS,
		UserResponse:              UserResponseNotResponded,
		UserVerificationRequested: claims.UserVerification == "required" || claims.UserVerification == "preferred",
		raw:                       raw,
	}
}
