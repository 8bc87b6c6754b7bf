// Package token builds and verifies the compact signed tokens (ES256 JWTs)
// exchanged with the authorization server: inbound challenge tokens and
// outbound device-bind and challenge-response tokens.
package token

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token typ header values.
const (
	// TypeChallenge is the typ of inbound signed challenge tokens.
	TypeChallenge = "authenticator-challenge+jwt"
	// TypeDeviceBind is the typ of self-signed device-bind assertion tokens.
	TypeDeviceBind = "authenticator-devicebind+jwt"
	// TypeChallengeResponse is the typ of outbound challenge resolution tokens.
	TypeChallengeResponse = "authenticator-response+jwt"
)

// AudienceAuthenticator is the aud value the server stamps on challenge
// tokens addressed to this authenticator.
const AudienceAuthenticator = "authenticator"

// Clock-skew defaults: device-bind validation is tight, push challenge
// retrieval tolerates out-of-band delivery delay.
const (
	DefaultSkew     = 60 * time.Second
	DefaultPushSkew = 300 * time.Second
)

// Validation errors. Structural failures (ErrInvalidStructure, MissingClaimError,
// ErrUnexpectedType) are reported before any cryptographic verification.
var (
	ErrInvalidStructure = errors.New("token: invalid JWT structure")
	ErrUnexpectedType   = errors.New("token: unexpected token type")
	ErrSignature        = errors.New("token: signature verification failed")
	ErrExpired          = errors.New("token: expired beyond allowed clock skew")
	ErrNotYetValid      = errors.New("token: issued in the future beyond allowed clock skew")
	ErrIssuerMismatch   = errors.New("token: issuer mismatch")
	ErrAudienceMismatch = errors.New("token: audience mismatch")
)

// MissingClaimError names the required claim absent from a token.
type MissingClaimError struct {
	Claim string
}

func (e *MissingClaimError) Error() string {
	return fmt.Sprintf("token: missing required claim %q", e.Claim)
}

// Codec builds and verifies three-part signed tokens. The zero value is not
// usable; construct with NewCodec.
type Codec struct {
	nowFn func() time.Time
}

// NewCodec returns a Codec using the wall clock.
func NewCodec() *Codec {
	return &Codec{nowFn: time.Now}
}

// WithNow returns a copy of the codec using nowFn as its clock. For tests.
func (c *Codec) WithNow(nowFn func() time.Time) *Codec {
	return &Codec{nowFn: nowFn}
}

// Generate signs claims with key as an ES256 JWT carrying typ and optional
// kid headers. golang-jwt emits the raw fixed-length r‖s JOSE signature form,
// not ASN.1/DER, which is what the server's verifier expects.
func (c *Codec) Generate(typ, kid string, claims map[string]any, key *ecdsa.PrivateKey) (string, error) {
	if key == nil {
		return "", errors.New("token: nil signing key")
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims(claims))
	tok.Header["typ"] = typ
	if kid != "" {
		tok.Header["kid"] = kid
	}
	return tok.SignedString(key)
}

// Parse decodes raw without verifying the signature and checks structure:
// three base64url segments, the expected typ header, and the presence of all
// required claims. This runs before any cryptographic verification so
// malformed tokens fail fast and cheaply. expectedType "" skips the typ check.
func (c *Codec) Parse(raw string, expectedType string) (*Claims, error) {
	tok, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStructure, err)
	}
	if expectedType != "" {
		typ, _ := tok.Header["typ"].(string)
		if typ != expectedType {
			return nil, fmt.Errorf("%w: got %q, want %q", ErrUnexpectedType, typ, expectedType)
		}
	}
	m, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidStructure
	}
	return claimsFromMap(m)
}

// ValidateOptions configure Validate.
type ValidateOptions struct {
	// ExpectedType is the required typ header; "" skips the check.
	ExpectedType string
	// Issuer is the required iss claim value.
	Issuer string
	// Audience, when non-empty, must appear in the aud claim.
	Audience string
	// Skew is the allowed clock skew for exp and iat.
	Skew time.Duration
	// Keyfunc resolves the verification key, typically from the org's JWKS.
	Keyfunc jwt.Keyfunc
}

// Validate parses raw, verifies its signature with opts.Keyfunc, and checks
// issuer, audience, and time claims within opts.Skew. A token whose exp is
// exactly Skew
// in the past still validates; one second further fails.
func (c *Codec) Validate(raw string, opts ValidateOptions) (*Claims, error) {
	claims, err := c.Parse(raw, opts.ExpectedType)
	if err != nil {
		return nil, err
	}

	if _, err := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		jwt.WithoutClaimsValidation(),
	).Parse(raw, opts.Keyfunc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignature, err)
	}

	// iss/exp/iat checked by hand so the skew boundary is exact.
	if opts.Issuer != "" && claims.Issuer != opts.Issuer {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrIssuerMismatch, claims.Issuer, opts.Issuer)
	}
	if opts.Audience != "" {
		if err := ValidateAudience(claims, opts.Audience); err != nil {
			return nil, err
		}
	}
	now := c.nowFn().UTC()
	if now.Sub(claims.Expiry) > opts.Skew {
		return nil, ErrExpired
	}
	if claims.IssuedAt.Sub(now) > opts.Skew {
		return nil, ErrNotYetValid
	}
	return claims, nil
}

// ValidateAudience checks that aud contains the expected audience.
// Separate from Validate because not every token type pins an audience.
func ValidateAudience(claims *Claims, audience string) error {
	for _, a := range claims.Audience {
		if a == audience {
			return nil
		}
	}
	return fmt.Errorf("%w: want %q", ErrAudienceMismatch, audience)
}
