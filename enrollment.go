package authenticator

import (
	"context"
	"log"
	"sync"

	endomain "push-authenticator/sdk/internal/enrollment/domain"
)

// State is the externally visible enrollment state, derived from the last
// server error the org reported for it.
type State string

const (
	StateActive    State = "active"
	StateSuspended State = "suspended"
	StateDeleted   State = "deleted"
	StateReset     State = "reset"
)

// Enrollment is a handle on one device registration. Methods may run
// concurrently (a token-refresh update racing a user-initiated delete); the
// record is guarded by a read/write lock.
type Enrollment struct {
	auth *Authenticator

	mu     sync.RWMutex
	record *endomain.Enrollment
}

// ID returns the server-assigned enrollment id.
func (e *Enrollment) ID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.record.EnrollmentID
}

// User returns the enrolled user's id and username. The username is empty
// when it could not be recovered from storage.
func (e *Enrollment) User() (id, username string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.record.UserID, e.record.Username
}

// Org returns the org's local key and URL.
func (e *Enrollment) Org() (orgID, orgURL string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.record.OrgID, e.record.OrgURL
}

// State derives the enrollment's current state from the last recorded
// server error.
func (e *Enrollment) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return State(e.record.State())
}

// HasUserVerification reports whether a biometric-gated key is enrolled.
func (e *Enrollment) HasUserVerification() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	f := e.record.PushFactor()
	return f != nil && f.Push != nil && f.Push.UserVerificationKeyTag != ""
}

// UpdateDeviceToken registers a fresh push delivery token with the server.
func (e *Enrollment) UpdateDeviceToken(ctx context.Context, auth AuthToken, deviceToken string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.auth.engine.UpdatePushToken(ctx, bridgeToken(auth), e.record, deviceToken)
}

// SetUserVerification enables or disables the biometric-gated user
// verification key. A failed attempt leaves the enrollment as it was.
func (e *Enrollment) SetUserVerification(ctx context.Context, auth AuthToken, enable bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.auth.engine.SetUserVerification(ctx, bridgeToken(auth), e.record, enable)
}

// EnableCIBATransactions advertises or withdraws CIBA capability.
func (e *Enrollment) EnableCIBATransactions(ctx context.Context, auth AuthToken, enable bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.auth.engine.SetCIBA(ctx, bridgeToken(auth), e.record, enable)
}

// DeleteFromDevice removes the enrollment server-side and locally. A server
// report that the resource is already gone still completes the local
// removal.
func (e *Enrollment) DeleteFromDevice(ctx context.Context, auth AuthToken) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.auth.engine.Delete(ctx, bridgeToken(auth), e.record)
}

// RetrievePushChallenges pulls the enrollment's pending challenges from the
// server. With a nil auth token the pull authenticates with a self-signed
// proof-of-possession assertion. Tokens that fail validation are dropped
// with a log line; the rest are returned.
func (e *Enrollment) RetrievePushChallenges(ctx context.Context, auth AuthToken) ([]*Challenge, error) {
	e.mu.RLock()
	record := e.record
	e.mu.RUnlock()

	raws, err := e.auth.engine.PullChallenges(ctx, bridgeToken(auth), record)
	if err != nil {
		return nil, err
	}
	var out []*Challenge
	for _, raw := range raws {
		ch, err := e.auth.parser.ParseToken(ctx, raw, e.auth.pushSkew)
		if err != nil {
			log.Printf("authenticator: dropping invalid pending challenge: %v", err)
			continue
		}
		out = append(out, &Challenge{auth: e.auth, ch: ch})
	}
	return out, nil
}
