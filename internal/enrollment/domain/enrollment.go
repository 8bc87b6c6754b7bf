// Package domain holds the enrollment records persisted by the SDK.
package domain

import (
	"time"

	"push-authenticator/sdk/internal/api"
)

// State is the externally visible enrollment state, derived from the last
// recorded server error code.
type State string

const (
	StateActive    State = "active"
	StateSuspended State = "suspended"
	StateDeleted   State = "deleted"
	StateReset     State = "reset"
)

// StateFromServerError derives the enrollment state from the last recorded
// server error. No error, an unrecognized code, or a transient not-found all
// derive active: the enrollment keeps working until the server says otherwise.
func StateFromServerError(code *api.ServerErrorCode) State {
	if code == nil || code.IsZero() {
		return StateActive
	}
	switch {
	case *code == api.CodeUserDeleted:
		return StateDeleted
	case code.IsResourceDeleted():
		// Enrollment or device gone server-side: local state must be
		// re-established by re-enrolling.
		return StateReset
	case code.IsResourceSuspended():
		return StateSuspended
	default:
		return StateActive
	}
}

// TransactionTypes is a bitset of transaction kinds a factor handles.
type TransactionTypes int

const (
	TransactionTypeLogin TransactionTypes = 1 << iota
	TransactionTypeCIBA
)

// Has reports whether t contains kind.
func (t TransactionTypes) Has(kind TransactionTypes) bool { return t&kind != 0 }

// With returns t with kind set.
func (t TransactionTypes) With(kind TransactionTypes) TransactionTypes { return t | kind }

// Without returns t with kind cleared.
func (t TransactionTypes) Without(kind TransactionTypes) TransactionTypes { return t &^ kind }

// Wire converts the bitset to the capability strings sent to the server.
func (t TransactionTypes) Wire() []string {
	var out []string
	if t.Has(TransactionTypeLogin) {
		out = append(out, api.TransactionTypeLogin)
	}
	if t.Has(TransactionTypeCIBA) {
		out = append(out, api.TransactionTypeCIBA)
	}
	return out
}

// MethodType identifies the factor variant.
type MethodType string

// MethodTypePush is the push factor variant, the only one this SDK enrolls.
const MethodTypePush MethodType = "push"

// Factor is one verification method tied to an enrollment. The variant
// payload for push factors lives in Push; shared fields are lifted here.
type Factor struct {
	ID               string
	Type             MethodType
	TransactionTypes TransactionTypes
	CreatedAt        time.Time
	UpdatedAt        time.Time

	Push *PushFactor
}

// PushFactor is the push variant payload. ProofOfPossessionKeyTag must
// resolve to an available private key while the factor is active; the key
// tags reference the key store, never raw key material.
type PushFactor struct {
	ProofOfPossessionKeyTag string
	UserVerificationKeyTag  string
	Links                   string
}

// Enrollment is one device's registration to one user account at one org.
// (EnrollmentID, OrgID) is unique; an enrollment with zero factors is
// invalid and must not be persisted as active.
type Enrollment struct {
	EnrollmentID    string
	OrgID           string
	OrgURL          string
	UserID          string
	Username        string
	DeviceID        string
	LastServerError *api.ServerErrorCode
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Factors []Factor
}

// State derives the enrollment's externally visible state.
func (e *Enrollment) State() State {
	return StateFromServerError(e.LastServerError)
}

// PushFactor returns the enrollment's push factor, or nil when absent.
func (e *Enrollment) PushFactor() *Factor {
	for i := range e.Factors {
		if e.Factors[i].Type == MethodTypePush {
			return &e.Factors[i]
		}
	}
	return nil
}

// KeyTags lists every key-store tag the enrollment's factors reference.
func (e *Enrollment) KeyTags() []string {
	var tags []string
	for _, f := range e.Factors {
		if f.Push == nil {
			continue
		}
		if f.Push.ProofOfPossessionKeyTag != "" {
			tags = append(tags, f.Push.ProofOfPossessionKeyTag)
		}
		if f.Push.UserVerificationKeyTag != "" {
			tags = append(tags, f.Push.UserVerificationKeyTag)
		}
	}
	return tags
}
