package challenge

import (
	"context"
	"time"

	"push-authenticator/sdk/internal/api"
	endomain "push-authenticator/sdk/internal/enrollment/domain"
	"push-authenticator/sdk/internal/token"
)

// EnrollmentStore is the slice of the enrollment repository the parser uses.
type EnrollmentStore interface {
	GetByEnrollmentID(ctx context.Context, enrollmentID string) (*endomain.Enrollment, error)
}

// Parser turns raw push payloads into validated Challenge values.
type Parser struct {
	codec       *token.Codec
	enrollments EnrollmentStore
	resolver    *token.KeySetResolver

	// insecureSkipVerify bypasses signature verification. Unexported;
	// settable only from this package's tests.
	insecureSkipVerify bool
}

func NewParser(enrollments EnrollmentStore, resolver *token.KeySetResolver) *Parser {
	return &Parser{
		codec:       token.NewCodec(),
		enrollments: enrollments,
		resolver:    resolver,
	}
}

// ParsePush extracts and validates the challenge token from a push payload.
// skew 0 means the 300s push default. A payload without the challenge field
// is a foreign notification (ErrPushNotRecognized); a present-but-invalid
// token surfaces the structural or signature validation error; a valid token
// naming an unknown enrollment yields AccountNotFoundError carrying the
// parsed challenge.
func (p *Parser) ParsePush(ctx context.Context, payload map[string]any, skew time.Duration) (*Challenge, error) {
	raw, ok := payload[PayloadChallengeKey].(string)
	if !ok || raw == "" {
		return nil, ErrPushNotRecognized
	}
	return p.ParseToken(ctx, raw, skew)
}

// ParseToken validates a challenge token pulled over the wire rather than
// delivered by push.
func (p *Parser) ParseToken(ctx context.Context, raw string, skew time.Duration) (*Challenge, error) {
	if skew <= 0 {
		skew = token.DefaultPushSkew
	}

	claims, err := p.codec.Parse(raw, token.TypeChallenge)
	if err != nil {
		return nil, err
	}

	enrollment, err := p.enrollments.GetByEnrollmentID(ctx, claims.EnrollmentID)
	if err != nil {
		return nil, err
	}
	if enrollment == nil {
		return nil, &AccountNotFoundError{Challenge: fromClaims(claims, raw)}
	}

	// The issuer is the enrollment's own org; its JWKS endpoint verifies
	// the signature.
	if !p.insecureSkipVerify {
		claims, err = p.codec.Validate(raw, token.ValidateOptions{
			ExpectedType: token.TypeChallenge,
			Issuer:       enrollment.OrgURL,
			Skew:         skew,
			Audience:     token.AudienceAuthenticator,
			Keyfunc:      p.resolver.Keyfunc(ctx, api.JWKSEndpoint(enrollment.OrgURL)),
		})
		if err != nil {
			return nil, err
		}
	}

	ch := fromClaims(claims, raw)
	ch.enrollment = enrollment
	if claims.UserResponse != "" {
		ch.UserResponse = MapActionIdentifier(claims.UserResponse)
	}
	return ch, nil
}
