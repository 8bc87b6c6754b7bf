// Package api is the REST client for the authorization server's authenticator
// endpoints. It performs no retries; retry policy belongs to the transaction
// engine, and every call is idempotent from the caller's perspective.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// AuthToken supplies a bearer-style credential for one request. Sourced from
// the host app's OAuth client; the SDK never refreshes it.
type AuthToken interface {
	TokenValue() (string, error)
}

// StaticToken is an AuthToken wrapping a fixed string. For CLIs and tests.
type StaticToken string

// TokenValue returns the wrapped token.
func (t StaticToken) TokenValue() (string, error) { return string(t), nil }

// Bearer builds an Authorization header value from an AuthToken. A nil token
// is ErrNoAuthToken, not a panic: callers pass nil to request assertion-based
// auth, and that nil must fail cleanly on any path that needs a bearer.
func Bearer(t AuthToken) (string, error) {
	if t == nil {
		return "", ErrNoAuthToken
	}
	v, err := t.TokenValue()
	if err != nil {
		return "", fmt.Errorf("api: token source: %w", err)
	}
	if v == "" {
		return "", fmt.Errorf("api: token source returned empty token")
	}
	return "Bearer " + v, nil
}

// Assertion builds an Authorization header value from a self-signed
// device-bind JWT.
func Assertion(signedJWT string) string {
	return "PoP-JWT " + signedJWT
}

// Client calls the authorization server. One method per server operation.
type Client struct {
	orgURL string
	http   *http.Client
}

// NewClient returns a Client for the org at orgURL. httpClient may be nil,
// in which case a client with a 30s timeout is used.
func NewClient(orgURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{orgURL: strings.TrimRight(orgURL, "/"), http: httpClient}
}

// OrgURL returns the client's org base URL.
func (c *Client) OrgURL() string { return c.orgURL }

// JWKSEndpoint returns the JWKS URL for the org at orgURL, used for challenge
// verification. Package-level because challenge parsing verifies against the
// enrollment's own org, which is not always the org this client was built for.
func JWKSEndpoint(orgURL string) string {
	return strings.TrimRight(orgURL, "/") + "/oauth2/v1/keys"
}

// JWKSEndpoint returns the client org's JWKS URL.
func (c *Client) JWKSEndpoint() string {
	return JWKSEndpoint(c.orgURL)
}

// DownloadAuthenticatorMetadata fetches the org's authenticator configuration
// for the authenticator registered under oauthClientID.
func (c *Client) DownloadAuthenticatorMetadata(ctx context.Context, auth string, oauthClientID string) (*AuthenticatorMetadata, error) {
	u := fmt.Sprintf("%s/api/v1/authenticators/metadata?oauthClientId=%s", c.orgURL, url.QueryEscape(oauthClientID))
	var out AuthenticatorMetadata
	if err := c.do(ctx, http.MethodGet, u, auth, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Enroll registers the provisioned key material as a new enrollment.
func (c *Client) Enroll(ctx context.Context, auth string, req *EnrollRequest) (*EnrollmentResponse, error) {
	u := fmt.Sprintf("%s/api/v1/authenticators/%s/enrollments", c.orgURL, url.PathEscape(req.AuthenticatorID))
	var out EnrollmentResponse
	if err := c.do(ctx, http.MethodPost, u, auth, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateEnrollment applies a method update (push token, user verification,
// CIBA capability) to an existing enrollment.
func (c *Client) UpdateEnrollment(ctx context.Context, auth, authenticatorID, enrollmentID string, req *UpdateRequest) (*EnrollmentResponse, error) {
	u := fmt.Sprintf("%s/api/v1/authenticators/%s/enrollments/%s", c.orgURL, url.PathEscape(authenticatorID), url.PathEscape(enrollmentID))
	var out EnrollmentResponse
	if err := c.do(ctx, http.MethodPut, u, auth, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteEnrollment removes the enrollment server-side.
func (c *Client) DeleteEnrollment(ctx context.Context, auth, authenticatorID, enrollmentID string) error {
	u := fmt.Sprintf("%s/api/v1/authenticators/%s/enrollments/%s", c.orgURL, url.PathEscape(authenticatorID), url.PathEscape(enrollmentID))
	return c.do(ctx, http.MethodDelete, u, auth, nil, nil)
}

// PendingChallenges lists undelivered challenges for the enrollment. Items
// are opaque signed tokens; parsing and validation happen in the challenge
// engine.
func (c *Client) PendingChallenges(ctx context.Context, auth, authenticatorID, enrollmentID string) ([]PendingChallenge, error) {
	u := fmt.Sprintf("%s/api/v1/authenticators/%s/enrollments/%s/challenges", c.orgURL, url.PathEscape(authenticatorID), url.PathEscape(enrollmentID))
	var out pendingChallengesResponse
	if err := c.do(ctx, http.MethodGet, u, auth, nil, &out); err != nil {
		return nil, err
	}
	return out.Challenges, nil
}

// VerifyChallenge submits a signed challenge resolution to the challenge's
// verification URI. The response token authenticates itself; no bearer
// header is sent.
func (c *Client) VerifyChallenge(ctx context.Context, verificationURI string, resp *ChallengeResponse) error {
	return c.do(ctx, http.MethodPost, verificationURI, "", resp, nil)
}

// do runs one request. Non-2xx responses are decoded into *ServerError; a
// body that is not the server's error shape still yields a ServerError with
// the HTTP status. Transport failures wrap ErrNetwork.
func (c *Client) do(ctx context.Context, method, u, auth string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("api: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("api: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return serverErrorFrom(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode response: %w", err)
	}
	return nil
}

func serverErrorFrom(resp *http.Response) *ServerError {
	se := &ServerError{HTTPStatus: resp.StatusCode}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return se
	}
	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err != nil {
		return se
	}
	se.Code = ParseServerErrorCode(eb.ErrorCode)
	se.Summary = eb.ErrorSummary
	se.Link = eb.ErrorLink
	se.ErrorID = eb.ErrorID
	se.Causes = eb.ErrorCauses
	return se
}
