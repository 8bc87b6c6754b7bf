package authenticator

import (
	"push-authenticator/sdk/internal/api"
	"push-authenticator/sdk/internal/challenge"
	"push-authenticator/sdk/internal/db"
	"push-authenticator/sdk/internal/security"
	"push-authenticator/sdk/internal/token"
	"push-authenticator/sdk/internal/transaction"
)

// Sentinel errors. Match with errors.Is.
var (
	// ErrPushNotRecognized marks a push payload that is not an SDK
	// notification at all.
	ErrPushNotRecognized = challenge.ErrPushNotRecognized
	// ErrNotResponded is returned when a challenge resolution ends without
	// a user decision.
	ErrNotResponded = challenge.ErrNotResponded
	// ErrNoVerificationMethods means the org's policy offers nothing this
	// SDK can enroll.
	ErrNoVerificationMethods = transaction.ErrNoVerificationMethods
	// ErrUserVerificationRequired means the policy demands user
	// verification but enrollment was attempted without it.
	ErrUserVerificationRequired = transaction.ErrUserVerificationRequired
	// ErrNetwork wraps transport-level failures.
	ErrNetwork = api.ErrNetwork
	// ErrStorage wraps storage-engine failures. Not-found is never an
	// error.
	ErrStorage = db.ErrStorage
	// ErrInvalidToken marks a structurally invalid challenge token.
	ErrInvalidToken = token.ErrInvalidStructure
	// ErrInteractionRequired is returned when a biometric-gated key is
	// used without allowing user interaction.
	ErrInteractionRequired = security.ErrInteractionRequired
	// ErrBiometryLockedOut is returned when the biometric gate is locked
	// out after repeated failures.
	ErrBiometryLockedOut = security.ErrBiometryLockedOut
)

// ServerError is the server's structured rejection of a request. Match with
// errors.As.
type ServerError = api.ServerError

// AccountNotFoundError is returned when a challenge names an enrollment this
// device no longer holds; it carries the parsed challenge details. Match
// with errors.As.
type AccountNotFoundError = challenge.AccountNotFoundError
