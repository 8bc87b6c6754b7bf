package transaction

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"push-authenticator/sdk/internal/api"
	endomain "push-authenticator/sdk/internal/enrollment/domain"
	"push-authenticator/sdk/internal/security"
	"push-authenticator/sdk/internal/token"
)

// UpdatePushToken refreshes the push delivery token registered with the
// server. No local provisioning, so there is nothing to roll back.
func (t *Engine) UpdatePushToken(ctx context.Context, auth api.AuthToken, e *endomain.Enrollment, deviceToken string) (err error) {
	defer func() { t.finish(ctx, "update_push_token", e.EnrollmentID, err) }()

	f := e.PushFactor()
	if f == nil || f.Push == nil {
		return ErrNotEnrolled
	}

	req := &api.UpdateRequest{Methods: []api.MethodRequest{{
		Type:                    api.MethodTypePush,
		PushToken:               deviceToken,
		APSEnvironment:          t.cfg.APSEnvironment,
		SupportUserVerification: f.Push.UserVerificationKeyTag != "",
		Capabilities:            api.Capabilities{TransactionTypes: f.TransactionTypes.Wire()},
	}}}

	err = t.submitUpdate(ctx, auth, e, req)
	t.recordOutcome(ctx, e, err)
	return err
}

// SetUserVerification enables or disables the biometric-gated user
// verification key. Enabling provisions a fresh key and deletes the old tag
// only after the server has confirmed the new one; a failed attempt leaves
// the pre-existing factor state untouched.
func (t *Engine) SetUserVerification(ctx context.Context, auth api.AuthToken, e *endomain.Enrollment, enable bool) (err error) {
	defer func() { t.finish(ctx, "set_user_verification", e.EnrollmentID, err) }()

	f := e.PushFactor()
	if f == nil || f.Push == nil {
		return ErrNotEnrolled
	}

	popPub, err := t.keys.PublicKey(f.Push.ProofOfPossessionKeyTag)
	if err != nil {
		return err
	}
	if popPub == nil {
		return errors.New("transaction: proof-of-possession key lost, re-enroll")
	}
	popJWK, err := security.JWKFromPublicKey(popPub, f.Push.ProofOfPossessionKeyTag)
	if err != nil {
		return err
	}

	var newTag string
	var uvJWK json.RawMessage
	if enable {
		newTag = keyTag("factor.uv")
		uvPub, err2 := t.keys.GenerateKeyPair(newTag, security.KeyPairOptions{
			SecureHardware:  true,
			BiometricGate:   true,
			BiometricPolicy: "biometryAny",
		})
		if err2 != nil {
			err = err2
			return err
		}
		if uvJWK, err = security.JWKFromPublicKey(uvPub, newTag); err != nil {
			t.keys.DeleteKeyPair(newTag)
			return err
		}
	}

	req := &api.UpdateRequest{Methods: []api.MethodRequest{{
		Type:                    api.MethodTypePush,
		SupportUserVerification: enable,
		Keys:                    &api.MethodKeys{ProofOfPossession: popJWK, UserVerification: uvJWK},
		Capabilities:            api.Capabilities{TransactionTypes: f.TransactionTypes.Wire()},
	}}}

	err = t.submitUpdate(ctx, auth, e, req)
	t.recordOutcome(ctx, e, err)
	if err != nil {
		if newTag != "" {
			t.rollbackKeys([]string{newTag})
		}
		return err
	}

	oldTag := f.Push.UserVerificationKeyTag
	f.Push.UserVerificationKeyTag = newTag
	if err = t.enrollments.Save(ctx, e); err != nil {
		// keep the old key; the factor record still references it
		f.Push.UserVerificationKeyTag = oldTag
		if newTag != "" {
			t.rollbackKeys([]string{newTag})
		}
		return err
	}
	if oldTag != "" && oldTag != newTag {
		t.keys.DeleteKeyPair(oldTag)
	}
	return nil
}

// SetCIBA advertises or withdraws CIBA transaction capability for the push
// factor.
func (t *Engine) SetCIBA(ctx context.Context, auth api.AuthToken, e *endomain.Enrollment, enable bool) (err error) {
	defer func() { t.finish(ctx, "set_ciba", e.EnrollmentID, err) }()

	f := e.PushFactor()
	if f == nil || f.Push == nil {
		return ErrNotEnrolled
	}

	newTypes := f.TransactionTypes.Without(endomain.TransactionTypeCIBA)
	if enable {
		newTypes = f.TransactionTypes.With(endomain.TransactionTypeCIBA)
	}

	req := &api.UpdateRequest{Methods: []api.MethodRequest{{
		Type:                    api.MethodTypePush,
		SupportUserVerification: f.Push.UserVerificationKeyTag != "",
		Capabilities:            api.Capabilities{TransactionTypes: newTypes.Wire()},
	}}}

	err = t.submitUpdate(ctx, auth, e, req)
	t.recordOutcome(ctx, e, err)
	if err != nil {
		return err
	}

	f.TransactionTypes = newTypes
	return t.enrollments.Save(ctx, e)
}

func (t *Engine) submitUpdate(ctx context.Context, auth api.AuthToken, e *endomain.Enrollment, req *api.UpdateRequest) error {
	policy, err := t.policyFor(ctx, auth)
	if err != nil {
		return err
	}
	authz, err := api.Bearer(auth)
	if err != nil {
		return err
	}
	_, err = t.client.UpdateEnrollment(ctx, authz, policy.Metadata.ID, e.EnrollmentID, req)
	return err
}

// Delete removes the enrollment from the server, then from the device. A
// server answer that the resource is already deleted or suspended counts as
// success: the goal is that this enrollment no longer exists on this device,
// and that is satisfied either way. Any other server error aborts before
// local deletion so the operation can be retried.
func (t *Engine) Delete(ctx context.Context, auth api.AuthToken, e *endomain.Enrollment) (err error) {
	defer func() { t.finish(ctx, "delete", e.EnrollmentID, err) }()

	policy, err := t.policyFor(ctx, auth)
	if err != nil {
		return err
	}
	authz, err := api.Bearer(auth)
	if err != nil {
		return err
	}

	if err = t.client.DeleteEnrollment(ctx, authz, policy.Metadata.ID, e.EnrollmentID); err != nil {
		var serverErr *api.ServerError
		if errors.As(err, &serverErr) && (serverErr.Code.IsResourceDeleted() || serverErr.Code.IsResourceSuspended()) {
			// already gone server-side
			err = nil
		} else {
			t.recordOutcome(ctx, e, err)
			return err
		}
	}

	device, devErr := t.devices.GetByOrg(ctx, e.OrgID)
	if devErr != nil {
		return devErr
	}
	lastInOrg, err := t.enrollments.Delete(ctx, e.OrgID, e.EnrollmentID)
	if err != nil {
		return err
	}
	t.rollbackKeys(e.KeyTags())
	if lastInOrg && device != nil && device.ClientInstanceKeyTag != "" {
		t.keys.DeleteKeyPair(device.ClientInstanceKeyTag)
	}
	return nil
}

// PullChallenges retrieves the enrollment's pending challenge tokens. A
// read-style transaction: nothing is provisioned, nothing rolls back. When
// auth is nil the call authenticates with a self-signed assertion from the
// proof-of-possession key.
func (t *Engine) PullChallenges(ctx context.Context, auth api.AuthToken, e *endomain.Enrollment) (tokens []string, err error) {
	defer func() { t.finish(ctx, "pull_challenges", e.EnrollmentID, err) }()

	policy, err := t.policyFor(ctx, auth)
	if err != nil {
		return nil, err
	}

	var authz string
	if auth != nil {
		if authz, err = api.Bearer(auth); err != nil {
			return nil, err
		}
	} else {
		if authz, err = t.selfSignedAssertion(e); err != nil {
			return nil, err
		}
	}

	pending, err := t.client.PendingChallenges(ctx, authz, policy.Metadata.ID, e.EnrollmentID)
	t.recordOutcome(ctx, e, err)
	if err != nil {
		return nil, err
	}
	for _, p := range pending {
		tokens = append(tokens, p.Challenge)
	}
	return tokens, nil
}

// selfSignedAssertion mints a short-lived proof-of-possession JWT for
// unprompted server calls.
func (t *Engine) selfSignedAssertion(e *endomain.Enrollment) (string, error) {
	f := e.PushFactor()
	if f == nil || f.Push == nil {
		return "", ErrNotEnrolled
	}
	key, err := t.keys.PrivateKey(f.Push.ProofOfPossessionKeyTag, false)
	if err != nil {
		return "", err
	}
	if key == nil {
		return "", errors.New("transaction: proof-of-possession key lost, re-enroll")
	}
	now := time.Now().UTC()
	claims := map[string]any{
		"iss": e.EnrollmentID,
		"sub": e.UserID,
		"aud": t.client.OrgURL(),
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
		"jti": uuid.NewString(),
	}
	jwt, err := t.codec.Generate(token.TypeDeviceBind, f.Push.ProofOfPossessionKeyTag, claims, key)
	if err != nil {
		return "", err
	}
	return api.Assertion(jwt), nil
}
