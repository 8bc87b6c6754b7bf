package api

import "encoding/json"

// MethodTypePush is the only verification method this SDK enrolls.
const MethodTypePush = "push"

// Transaction type capability strings on the wire.
const (
	TransactionTypeLogin = "LOGIN"
	TransactionTypeCIBA  = "CIBA"
)

// Link is one entry of a _links object.
type Link struct {
	Href string `json:"href"`
}

// AuthenticatorMetadata is the server's authenticator configuration document.
type AuthenticatorMetadata struct {
	ID       string           `json:"id"`
	Key      string           `json:"key"`
	Status   string           `json:"status"`
	Settings MetadataSettings `json:"settings"`
	Methods  []MetadataMethod `json:"methods"`
	Links    map[string]Link  `json:"_links"`
}

// MetadataSettings carries org-level authenticator settings.
type MetadataSettings struct {
	// UserVerification is "preferred", "required", or a value this build
	// does not recognize; unknown values are carried through.
	UserVerification string `json:"userVerification"`
}

// MetadataMethod describes one supported verification method.
type MetadataMethod struct {
	Type     string          `json:"type"`
	Status   string          `json:"status"`
	Settings json.RawMessage `json:"settings,omitempty"`
}

// DeviceSignals is the device block of the enroll request body.
type DeviceSignals struct {
	DisplayName       string          `json:"displayName,omitempty"`
	Platform          string          `json:"platform,omitempty"`
	OSVersion         string          `json:"osVersion,omitempty"`
	Manufacturer      string          `json:"manufacturer,omitempty"`
	Model             string          `json:"model,omitempty"`
	ClientInstanceKey json.RawMessage `json:"clientInstanceKey,omitempty"`
}

// MethodKeys carries the JWK-encoded public keys registered for a method.
// UserVerification is null when user verification is disabled.
type MethodKeys struct {
	ProofOfPossession json.RawMessage `json:"proofOfPossession"`
	UserVerification  json.RawMessage `json:"userVerification"`
}

// Capabilities declares which transaction types the method will handle.
type Capabilities struct {
	TransactionTypes []string `json:"transactionTypes"`
}

// MethodRequest is one method entry of the enroll/update request body.
type MethodRequest struct {
	Type                    string       `json:"type"`
	PushToken               string       `json:"pushToken,omitempty"`
	APSEnvironment          string       `json:"apsEnvironment,omitempty"`
	SupportUserVerification bool         `json:"supportUserVerification"`
	Keys                    *MethodKeys  `json:"keys,omitempty"`
	Capabilities            Capabilities `json:"capabilities"`
}

// EnrollRequest is the enroll request body.
type EnrollRequest struct {
	AuthenticatorID string            `json:"authenticatorId"`
	Key             string            `json:"key"`
	Device          DeviceSignals     `json:"device"`
	AppSignals      map[string]string `json:"appSignals,omitempty"`
	Methods         []MethodRequest   `json:"methods"`
}

// UpdateRequest is the update request body (push token refresh, user
// verification toggle, CIBA capability toggle). Shape matches EnrollRequest
// methods; the server applies it to the existing enrollment.
type UpdateRequest struct {
	Methods []MethodRequest `json:"methods"`
}

// EnrolledUser identifies the user on the enrollment response.
type EnrolledUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// MethodResponse is one method entry of the enrollment response.
type MethodResponse struct {
	ID    string          `json:"id"`
	Type  string          `json:"type"`
	Links map[string]Link `json:"_links,omitempty"`
}

// EnrollmentResponse is the server's record of a created or updated enrollment.
type EnrollmentResponse struct {
	ID               string           `json:"id"`
	DeviceID         string           `json:"deviceId"`
	ClientInstanceID string           `json:"clientInstanceId"`
	User             EnrolledUser     `json:"user"`
	CreationDate     string           `json:"created"`
	Methods          []MethodResponse `json:"methods"`
	Links            map[string]Link  `json:"_links,omitempty"`
}

// PendingChallenge is one item of the pending-challenge list; Challenge is
// the signed challenge token, opaque at this layer.
type PendingChallenge struct {
	Challenge string `json:"challenge"`
}

type pendingChallengesResponse struct {
	Challenges []PendingChallenge `json:"challenges"`
}

// ChallengeResponse is the body submitted to a challenge's verification URI.
type ChallengeResponse struct {
	ChallengeResponse string `json:"challengeResponse"`
	Method            string `json:"method"`
}
