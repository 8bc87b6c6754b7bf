package challenge

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"push-authenticator/sdk/internal/api"
	"push-authenticator/sdk/internal/security"
	"push-authenticator/sdk/internal/token"
)

// ConsentStep is the remediation step asking the device user to approve or
// deny a sign-in attempt. The host app renders it and reports the decision;
// NotProcessed hands the decision back to default handling.
type ConsentStep struct {
	Challenge *Challenge
	decision  chan UserResponse
}

func newConsentStep(ch *Challenge) *ConsentStep {
	return &ConsentStep{Challenge: ch, decision: make(chan UserResponse, 1)}
}

func (s *ConsentStep) Approve() { s.respond(UserResponseApproved) }

func (s *ConsentStep) Deny() { s.respond(UserResponseDenied) }

// NotProcessed reports that the host app did not handle the step.
func (s *ConsentStep) NotProcessed() { s.respond(UserResponseNotResponded) }

func (s *ConsentStep) respond(r UserResponse) {
	select {
	case s.decision <- r:
	default: // already decided; a step resolves once
	}
}

// RemediationFunc receives each remediation step during resolution. The
// engine never presents UI itself; this callback is how the host app does.
type RemediationFunc func(*ConsentStep)

// Resolver signs and submits challenge responses.
type Resolver struct {
	keys   security.KeyStore
	codec  *token.Codec
	client *api.Client
}

func NewResolver(keys security.KeyStore, client *api.Client) *Resolver {
	return &Resolver{keys: keys, codec: token.NewCodec(), client: client}
}

// Resolve drives the challenge to resolution. A challenge that already
// carries a decision (from a notification action) is submitted directly;
// otherwise onRemediation is invoked with a consent step and resolution
// waits for the decision. On submission failure the local disposition is
// not reverted; the caller may retry by resubmitting.
func (r *Resolver) Resolve(ctx context.Context, ch *Challenge, onRemediation RemediationFunc) error {
	if ch.enrollment == nil {
		return errors.New("challenge: cannot resolve without a local enrollment")
	}

	decision := ch.UserResponse
	if decision == UserResponseNotResponded {
		if onRemediation == nil {
			return ErrNotResponded
		}
		step := newConsentStep(ch)
		onRemediation(step)
		select {
		case decision = <-step.decision:
		case <-ctx.Done():
			return ctx.Err()
		}
		if decision == UserResponseNotResponded {
			return ErrNotResponded
		}
	}
	ch.UserResponse = decision

	signed, err := r.signResponse(ch, decision)
	if err != nil {
		return err
	}
	return r.client.VerifyChallenge(ctx, ch.VerificationURI, &api.ChallengeResponse{
		ChallengeResponse: signed,
		Method:            api.MethodTypePush,
	})
}

// signResponse builds the response token embedding the challenge's nonce and
// transaction id plus the decision. An approval under user verification
// signs with the biometric-gated key, proving local user presence; anything
// else signs with the proof-of-possession key.
func (r *Resolver) signResponse(ch *Challenge, decision UserResponse) (string, error) {
	f := ch.enrollment.PushFactor()
	if f == nil || f.Push == nil {
		return "", errors.New("challenge: enrollment has no push factor")
	}

	tag := f.Push.ProofOfPossessionKeyTag
	keyType := "proofOfPossession"
	allowInteraction := false
	if decision == UserResponseApproved && ch.UserVerificationRequested && f.Push.UserVerificationKeyTag != "" {
		tag = f.Push.UserVerificationKeyTag
		keyType = "userVerification"
		allowInteraction = true
	}

	key, err := r.keys.PrivateKey(tag, allowInteraction)
	if err != nil {
		return "", err
	}
	if key == nil {
		return "", errors.New("challenge: signing key lost, re-enroll")
	}

	now := time.Now().UTC()
	claims := map[string]any{
		"iss":                      ch.enrollment.EnrollmentID,
		"aud":                      ch.Issuer,
		"iat":                      now.Unix(),
		"exp":                      now.Add(5 * time.Minute).Unix(),
		"jti":                      uuid.NewString(),
		"nonce":                    ch.Nonce,
		"transactionId":            ch.TransactionID,
		token.ClaimUserResponse:    string(decision),
		token.ClaimMethod:          api.MethodTypePush,
		token.ClaimKeyTypes:        []string{keyType},
		token.ClaimEnrollmentID:    ch.enrollment.EnrollmentID,
		token.ClaimAppInstanceName: ch.AppInstanceName,
	}
	return r.codec.Generate(token.TypeChallengeResponse, tag, claims, key)
}
