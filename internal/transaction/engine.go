// Package transaction orchestrates the enroll/update/delete workflows
// against the authorization server. Every operation follows the same shape:
// provision local artifacts, submit one server call, then commit locally or
// roll the provisioned artifacts back. Rollback is unconditional and
// best-effort; a rollback failure never masks the server error.
package transaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"push-authenticator/sdk/internal/api"
	"push-authenticator/sdk/internal/audit"
	"push-authenticator/sdk/internal/config"
	devdomain "push-authenticator/sdk/internal/device/domain"
	endomain "push-authenticator/sdk/internal/enrollment/domain"
	poldomain "push-authenticator/sdk/internal/policy/domain"
	"push-authenticator/sdk/internal/security"
	"push-authenticator/sdk/internal/telemetry"
	"push-authenticator/sdk/internal/token"
)

var (
	// ErrNoVerificationMethods is returned when the org's policy offers no
	// method this SDK can enroll.
	ErrNoVerificationMethods = errors.New("transaction: no verification methods to enroll")
	// ErrUserVerificationRequired is returned when the policy demands user
	// verification but the caller did not enable it.
	ErrUserVerificationRequired = errors.New("transaction: policy requires user verification")
	// ErrNotEnrolled is returned for operations on an enrollment that has
	// no push factor.
	ErrNotEnrolled = errors.New("transaction: enrollment has no push factor")
)

// EnrollmentStore is the slice of the enrollment repository the engine uses.
type EnrollmentStore interface {
	Get(ctx context.Context, orgID, enrollmentID string) (*endomain.Enrollment, error)
	Save(ctx context.Context, e *endomain.Enrollment) error
	UpdateServerError(ctx context.Context, orgID, enrollmentID string, code *api.ServerErrorCode) error
	Delete(ctx context.Context, orgID, enrollmentID string) (lastInOrg bool, err error)
}

// PolicyStore caches the org's downloaded authenticator policy.
type PolicyStore interface {
	Get(ctx context.Context, orgID string) (*poldomain.AuthenticatorPolicy, error)
	Save(ctx context.Context, p *poldomain.AuthenticatorPolicy) error
}

// DeviceStore holds the per-org device binding.
type DeviceStore interface {
	GetByOrg(ctx context.Context, orgID string) (*devdomain.DeviceEnrollment, error)
	Save(ctx context.Context, d *devdomain.DeviceEnrollment) error
}

// Engine runs enrollment transactions. Safe for concurrent use; each attempt
// provisions keys under freshly minted tags so concurrent transactions never
// share a tag.
type Engine struct {
	cfg         *config.Config
	keys        security.KeyStore
	client      *api.Client
	codec       *token.Codec
	enrollments EnrollmentStore
	policies    PolicyStore
	devices     DeviceStore
	metrics     *telemetry.Metrics
	auditor     *audit.Recorder
}

func NewEngine(
	cfg *config.Config,
	keys security.KeyStore,
	client *api.Client,
	enrollments EnrollmentStore,
	policies PolicyStore,
	devices DeviceStore,
	metrics *telemetry.Metrics,
	auditor *audit.Recorder,
) *Engine {
	return &Engine{
		cfg:         cfg,
		keys:        keys,
		client:      client,
		codec:       token.NewCodec(),
		enrollments: enrollments,
		policies:    policies,
		devices:     devices,
		metrics:     metrics,
		auditor:     auditor,
	}
}

// OrgKey derives the local storage key for an org from its URL. Server-side
// org ids are not known before the first challenge arrives, so local rows
// are keyed by host.
func OrgKey(orgURL string) string {
	if u, err := url.Parse(orgURL); err == nil && u.Host != "" {
		return u.Host
	}
	return strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(orgURL, "https://"), "http://"), "/")
}

// orgKey is the engine's own org storage key.
func (t *Engine) orgKey() string { return OrgKey(t.client.OrgURL()) }

func keyTag(kind string) string {
	return kind + "." + uuid.NewString()
}

// rollbackKeys deletes every key provisioned for a failed attempt.
// Best-effort: a key already gone is fine.
func (t *Engine) rollbackKeys(tags []string) {
	for _, tag := range tags {
		t.keys.DeleteKeyPair(tag)
	}
}

// finish records the transaction outcome in metrics and the audit trail.
func (t *Engine) finish(ctx context.Context, action, enrollmentID string, err error) {
	outcome := audit.OutcomeSuccess
	detail := ""
	if err != nil {
		outcome = audit.OutcomeError
		detail = err.Error()
	}
	t.metrics.RecordTransaction(ctx, action, outcome)
	t.auditor.Record(ctx, t.orgKey(), enrollmentID, action, outcome, detail)
}

// recordOutcome persists the server error code (or clears it on success) on
// an existing enrollment. The recorded code is what derives the enrollment's
// externally visible state. Persistence failures here are logged, not
// returned: they must not mask the transaction's own result.
func (t *Engine) recordOutcome(ctx context.Context, e *endomain.Enrollment, opErr error) {
	var code *api.ServerErrorCode
	if opErr != nil {
		var serverErr *api.ServerError
		if !errors.As(opErr, &serverErr) || serverErr.Code.IsZero() {
			return // transport errors carry no server code
		}
		code = &serverErr.Code
	}
	e.LastServerError = code
	if err := t.enrollments.UpdateServerError(ctx, e.OrgID, e.EnrollmentID, code); err != nil {
		log.Printf("transaction: recording outcome for enrollment %s: %v", e.EnrollmentID, err)
	}
}

// policyFor returns the org's cached policy, downloading and caching it when
// absent.
func (t *Engine) policyFor(ctx context.Context, auth api.AuthToken) (*poldomain.AuthenticatorPolicy, error) {
	p, err := t.policies.Get(ctx, t.orgKey())
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}
	if auth == nil {
		// Unprompted flows have no bearer to download with; the policy
		// must already be cached by a prior authenticated call.
		return nil, fmt.Errorf("transaction: policy not cached: %w", api.ErrNoAuthToken)
	}
	return t.DownloadPolicy(ctx, auth)
}

// DownloadPolicy fetches the org's authenticator metadata and caches it as
// the local policy record.
func (t *Engine) DownloadPolicy(ctx context.Context, auth api.AuthToken) (*poldomain.AuthenticatorPolicy, error) {
	authz, err := api.Bearer(auth)
	if err != nil {
		return nil, err
	}
	md, err := t.client.DownloadAuthenticatorMetadata(ctx, authz, t.cfg.OIDCClientID)
	if err != nil {
		return nil, err
	}
	p := poldomain.FromMetadata(t.orgKey(), *md)
	if err := t.policies.Save(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// EnrollParameters configure one Enroll transaction.
type EnrollParameters struct {
	// DeviceToken is the push delivery token registered with the server.
	DeviceToken string
	// EnableUserVerification provisions a biometric-gated key alongside
	// the proof-of-possession key.
	EnableUserVerification bool
	// EnableCIBA advertises CIBA transaction capability.
	EnableCIBA bool
}

// Enroll registers this device as a push factor for the token's user.
// Provisioned keys are rolled back when the server rejects the registration;
// nothing is persisted until the server has accepted it.
func (t *Engine) Enroll(ctx context.Context, auth api.AuthToken, params EnrollParameters) (e *endomain.Enrollment, err error) {
	defer func() {
		var id string
		if e != nil {
			id = e.EnrollmentID
		}
		t.finish(ctx, "enroll", id, err)
	}()

	policy, err := t.policyFor(ctx, auth)
	if err != nil {
		return nil, err
	}
	if !policy.HasActiveMethod(api.MethodTypePush) {
		return nil, ErrNoVerificationMethods
	}
	if policy.UserVerification.IsRequired() && !params.EnableUserVerification {
		return nil, ErrUserVerificationRequired
	}

	device, err := t.devices.GetByOrg(ctx, t.orgKey())
	if err != nil {
		return nil, err
	}

	// LOCAL_PROVISION: every key generated here must be deleted if the
	// server rejects the submission.
	var provisioned []string
	defer func() {
		if err != nil {
			t.rollbackKeys(provisioned)
		}
	}()

	popTag := keyTag("factor.pop")
	popPub, err := t.keys.GenerateKeyPair(popTag, security.KeyPairOptions{SecureHardware: true})
	if err != nil {
		return nil, err
	}
	provisioned = append(provisioned, popTag)
	popJWK, err := security.JWKFromPublicKey(popPub, popTag)
	if err != nil {
		return nil, err
	}

	var uvTag string
	var uvJWK json.RawMessage
	if params.EnableUserVerification {
		uvTag = keyTag("factor.uv")
		uvPub, err2 := t.keys.GenerateKeyPair(uvTag, security.KeyPairOptions{
			SecureHardware:  true,
			BiometricGate:   true,
			BiometricPolicy: "biometryAny",
		})
		if err2 != nil {
			err = err2
			return nil, err
		}
		provisioned = append(provisioned, uvTag)
		if uvJWK, err = security.JWKFromPublicKey(uvPub, uvTag); err != nil {
			return nil, err
		}
	}

	var clientInstanceJWK json.RawMessage
	clientInstanceTag := ""
	if device == nil {
		clientInstanceTag = keyTag("device.client-instance")
		cikPub, err2 := t.keys.GenerateKeyPair(clientInstanceTag, security.KeyPairOptions{SecureHardware: true})
		if err2 != nil {
			err = err2
			return nil, err
		}
		provisioned = append(provisioned, clientInstanceTag)
		if clientInstanceJWK, err = security.JWKFromPublicKey(cikPub, clientInstanceTag); err != nil {
			return nil, err
		}
	}

	txTypes := endomain.TransactionTypeLogin
	if params.EnableCIBA {
		txTypes = txTypes.With(endomain.TransactionTypeCIBA)
	}

	req := &api.EnrollRequest{
		AuthenticatorID: policy.Metadata.ID,
		Key:             policy.Metadata.Key,
		Device: api.DeviceSignals{
			DisplayName:       t.cfg.AppInstanceName,
			Platform:          runtime.GOOS,
			ClientInstanceKey: clientInstanceJWK,
		},
		Methods: []api.MethodRequest{{
			Type:                    api.MethodTypePush,
			PushToken:               params.DeviceToken,
			APSEnvironment:          t.cfg.APSEnvironment,
			SupportUserVerification: params.EnableUserVerification,
			Keys:                    &api.MethodKeys{ProofOfPossession: popJWK, UserVerification: uvJWK},
			Capabilities:            api.Capabilities{TransactionTypes: txTypes.Wire()},
		}},
	}

	authz, err := api.Bearer(auth)
	if err != nil {
		return nil, err
	}

	// SERVER_SUBMIT
	resp, err := t.client.Enroll(ctx, authz, req)
	if err != nil {
		return nil, err
	}

	// COMMIT_LOCAL
	e, err = t.enrollmentFromResponse(resp, popTag, uvTag, txTypes)
	if err != nil {
		return nil, err
	}
	if err = t.enrollments.Save(ctx, e); err != nil {
		e = nil
		return nil, err
	}
	if device == nil {
		device = &devdomain.DeviceEnrollment{
			DeviceID:             resp.DeviceID,
			OrgID:                t.orgKey(),
			ClientInstanceID:     resp.ClientInstanceID,
			ClientInstanceKeyTag: clientInstanceTag,
		}
		if err = t.devices.Save(ctx, device); err != nil {
			e = nil
			return nil, err
		}
	}
	return e, nil
}

func (t *Engine) enrollmentFromResponse(resp *api.EnrollmentResponse, popTag, uvTag string, txTypes endomain.TransactionTypes) (*endomain.Enrollment, error) {
	var method *api.MethodResponse
	for i := range resp.Methods {
		if resp.Methods[i].Type == api.MethodTypePush {
			method = &resp.Methods[i]
			break
		}
	}
	if method == nil {
		return nil, fmt.Errorf("transaction: server response carries no push method")
	}
	links := ""
	if len(method.Links) > 0 {
		raw, err := json.Marshal(method.Links)
		if err != nil {
			return nil, fmt.Errorf("transaction: encoding method links: %w", err)
		}
		links = string(raw)
	}
	created := time.Now().UTC()
	if ts, err := time.Parse(time.RFC3339, resp.CreationDate); err == nil {
		created = ts
	}
	return &endomain.Enrollment{
		EnrollmentID: resp.ID,
		OrgID:        t.orgKey(),
		OrgURL:       t.client.OrgURL(),
		UserID:       resp.User.ID,
		Username:     resp.User.Username,
		DeviceID:     resp.DeviceID,
		CreatedAt:    created,
		Factors: []endomain.Factor{{
			ID:               method.ID,
			Type:             endomain.MethodTypePush,
			TransactionTypes: txTypes,
			Push: &endomain.PushFactor{
				ProofOfPossessionKeyTag: popTag,
				UserVerificationKeyTag:  uvTag,
				Links:                   links,
			},
		}},
	}, nil
}
