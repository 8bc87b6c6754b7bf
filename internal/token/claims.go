package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claim names used on the wire.
const (
	claimIssuer          = "iss"
	claimAudience        = "aud"
	claimIssuedAt        = "iat"
	claimExpiry          = "exp"
	claimOrgID           = "orgId"
	claimNonce           = "nonce"
	claimVerificationURI = "verificationUri"
	claimTransactionID   = "transactionId"

	// Optional claims; absent or malformed values resolve to zero values.
	ClaimEnrollmentID     = "authenticatorEnrollmentId"
	ClaimMethod           = "method"
	ClaimKeyTypes         = "keyTypes"
	ClaimUserVerification = "userVerification"
	ClaimLoginHint        = "loginHint"
	ClaimRequestReferrer  = "requestReferrer"
	ClaimAppInstanceName  = "appInstanceName"
	ClaimClientLocation   = "clientLocation"
	ClaimClientOS         = "clientOS"
	ClaimUserResponse     = "userResponse"
	ClaimTransactionType  = "transactionType"
	ClaimOriginURL        = "originUrl"
	ClaimTransactionTime  = "transactionTime"
	ClaimSignals          = "signals"
	ClaimIntegrations     = "integrations"
)

// Claims is the typed view of a parsed token. Required claims are always set;
// optional claims carry zero values when absent or malformed.
type Claims struct {
	Issuer          string
	Audience        []string
	IssuedAt        time.Time
	Expiry          time.Time
	OrgID           string
	Nonce           string
	VerificationURI string
	TransactionID   string

	EnrollmentID     string
	Method           string
	KeyTypes         []string
	UserVerification string
	LoginHint        string
	RequestReferrer  string
	AppInstanceName  string
	ClientLocation   string
	ClientOS         string
	UserResponse     string
	TransactionType  string
	OriginURL        string
	TransactionTime  time.Time
	Signals          []string
	Integrations     []string

	// Raw is the full claim set for callers needing claims not lifted here.
	Raw jwt.MapClaims
}

// claimsFromMap extracts Claims from a decoded claim map. Required claims
// missing or empty produce a MissingClaimError naming the claim; optional
// claims are extracted permissively.
func claimsFromMap(m jwt.MapClaims) (*Claims, error) {
	c := &Claims{Raw: m}

	var err error
	if c.Issuer, err = requiredString(m, claimIssuer); err != nil {
		return nil, err
	}
	if c.Audience, err = requiredStrings(m, claimAudience); err != nil {
		return nil, err
	}
	if c.IssuedAt, err = requiredTime(m, claimIssuedAt); err != nil {
		return nil, err
	}
	if c.Expiry, err = requiredTime(m, claimExpiry); err != nil {
		return nil, err
	}
	if c.OrgID, err = requiredString(m, claimOrgID); err != nil {
		return nil, err
	}
	if c.Nonce, err = requiredString(m, claimNonce); err != nil {
		return nil, err
	}
	if c.VerificationURI, err = requiredString(m, claimVerificationURI); err != nil {
		return nil, err
	}
	if c.TransactionID, err = requiredString(m, claimTransactionID); err != nil {
		return nil, err
	}

	c.EnrollmentID = optionalString(m, ClaimEnrollmentID)
	c.Method = optionalString(m, ClaimMethod)
	c.KeyTypes = optionalStrings(m, ClaimKeyTypes)
	c.UserVerification = optionalString(m, ClaimUserVerification)
	c.LoginHint = optionalString(m, ClaimLoginHint)
	c.RequestReferrer = optionalString(m, ClaimRequestReferrer)
	c.AppInstanceName = optionalString(m, ClaimAppInstanceName)
	c.ClientLocation = optionalString(m, ClaimClientLocation)
	c.ClientOS = optionalString(m, ClaimClientOS)
	c.UserResponse = optionalString(m, ClaimUserResponse)
	c.TransactionType = optionalString(m, ClaimTransactionType)
	c.OriginURL = optionalString(m, ClaimOriginURL)
	c.TransactionTime = optionalTime(m, ClaimTransactionTime)
	c.Signals = optionalStrings(m, ClaimSignals)
	c.Integrations = optionalStrings(m, ClaimIntegrations)

	return c, nil
}

func requiredString(m jwt.MapClaims, name string) (string, error) {
	s, _ := m[name].(string)
	if s == "" {
		return "", &MissingClaimError{Claim: name}
	}
	return s, nil
}

func requiredStrings(m jwt.MapClaims, name string) ([]string, error) {
	out := optionalStrings(m, name)
	if len(out) == 0 {
		return nil, &MissingClaimError{Claim: name}
	}
	return out, nil
}

func requiredTime(m jwt.MapClaims, name string) (time.Time, error) {
	t := optionalTime(m, name)
	if t.IsZero() {
		return time.Time{}, &MissingClaimError{Claim: name}
	}
	return t, nil
}

func optionalString(m jwt.MapClaims, name string) string {
	s, _ := m[name].(string)
	return s
}

// optionalStrings accepts a single string or an array of strings; anything
// else resolves to nil.
func optionalStrings(m jwt.MapClaims, name string) []string {
	switch v := m[name].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// optionalTime accepts a NumericDate-style float or integer claim.
func optionalTime(m jwt.MapClaims, name string) time.Time {
	switch v := m[name].(type) {
	case float64:
		if v <= 0 {
			return time.Time{}
		}
		return time.Unix(int64(v), 0).UTC()
	case int64:
		if v <= 0 {
			return time.Time{}
		}
		return time.Unix(v, 0).UTC()
	default:
		return time.Time{}
	}
}
