// Package domain holds the cached authenticator policy record.
package domain

import (
	"encoding/json"
	"time"

	"push-authenticator/sdk/internal/api"
)

// UserVerificationSetting is the org-declared user verification mode. Values
// the server may add later are carried through unmodified rather than
// collapsed into a catch-all.
type UserVerificationSetting struct {
	raw string
}

var (
	UserVerificationPreferred = UserVerificationSetting{raw: "preferred"}
	UserVerificationRequired  = UserVerificationSetting{raw: "required"}
)

// ParseUserVerification wraps a wire value. Unknown values round-trip intact.
func ParseUserVerification(raw string) UserVerificationSetting {
	return UserVerificationSetting{raw: raw}
}

func (s UserVerificationSetting) Raw() string { return s.raw }

func (s UserVerificationSetting) IsRequired() bool { return s == UserVerificationRequired }

func (s UserVerificationSetting) IsKnown() bool {
	return s == UserVerificationPreferred || s == UserVerificationRequired
}

func (s UserVerificationSetting) String() string {
	if s.raw == "" {
		return "unknown"
	}
	return s.raw
}

// AuthenticatorPolicy is the server-declared authenticator configuration,
// cached per org. A policy requiring user verification forbids producing an
// enrollment without a user verification key.
type AuthenticatorPolicy struct {
	PolicyID         string
	OrgID            string
	ActiveMethods    []string
	UserVerification UserVerificationSetting
	Metadata         api.AuthenticatorMetadata
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasActiveMethod reports whether the org allows enrolling the method type.
func (p *AuthenticatorPolicy) HasActiveMethod(methodType string) bool {
	for _, m := range p.ActiveMethods {
		if m == methodType {
			return true
		}
	}
	return false
}

// FromMetadata builds the cached policy record from a downloaded metadata
// document. The user verification setting comes from the push method's
// settings block when present, otherwise the top-level settings.
func FromMetadata(orgID string, md api.AuthenticatorMetadata) *AuthenticatorPolicy {
	p := &AuthenticatorPolicy{
		PolicyID:         md.ID,
		OrgID:            orgID,
		UserVerification: ParseUserVerification(md.Settings.UserVerification),
		Metadata:         md,
	}
	for _, m := range md.Methods {
		if m.Status == "ACTIVE" {
			p.ActiveMethods = append(p.ActiveMethods, m.Type)
		}
		if m.Type != api.MethodTypePush || len(m.Settings) == 0 {
			continue
		}
		var s struct {
			UserVerification string `json:"userVerification"`
		}
		if err := json.Unmarshal(m.Settings, &s); err == nil && s.UserVerification != "" {
			p.UserVerification = ParseUserVerification(s.UserVerification)
		}
	}
	return p
}
