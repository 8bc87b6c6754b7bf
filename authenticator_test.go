package authenticator

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"push-authenticator/sdk/internal/api"
	"push-authenticator/sdk/internal/security"
	"push-authenticator/sdk/internal/token"
)

// sdkTestServer fakes the whole authorization server surface the SDK talks
// to: metadata, enrollment CRUD, pending challenges, JWKS, and challenge
// verification.
type sdkTestServer struct {
	*httptest.Server
	key *ecdsa.PrivateKey

	mu            sync.Mutex
	deleteGone    bool
	pending       []string
	lastSubmitted *api.ChallengeResponse
}

func newSDKTestServer(t *testing.T) *sdkTestServer {
	t.Helper()
	s := &sdkTestServer{}
	var err error
	if s.key, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader); err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/authenticators/metadata", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "aut-1", "key": "custom_app", "status": "ACTIVE",
			"settings": {"userVerification": "preferred"},
			"methods": [{"type": "push", "status": "ACTIVE"}]
		}`))
	})
	mux.HandleFunc("POST /api/v1/authenticators/aut-1/enrollments", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "aen-1", "deviceId": "dev-1", "clientInstanceId": "cli-1",
			"user": {"id": "usr-1", "username": "user@example.com"},
			"created": "2026-08-30T10:00:00.000Z",
			"methods": [{"id": "pfd-1", "type": "push"}]
		}`))
	})
	mux.HandleFunc("DELETE /api/v1/authenticators/aut-1/enrollments/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		gone := s.deleteGone
		s.mu.Unlock()
		if gone {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"errorCode": "authenticator.enrollment.deleted", "errorSummary": "gone"}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/v1/authenticators/aut-1/enrollments/{id}/challenges", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		pending := s.pending
		s.mu.Unlock()
		items := make([]map[string]string, 0, len(pending))
		for _, p := range pending {
			items = append(items, map[string]string{"challenge": p})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"challenges": items})
	})
	mux.HandleFunc("GET /oauth2/v1/keys", func(w http.ResponseWriter, r *http.Request) {
		jwkKey, err := security.JWKFromPublicKey(&s.key.PublicKey, "server-k1")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"keys":[` + string(jwkKey) + `]}`))
	})
	mux.HandleFunc("POST /idp/challenge/verify", func(w http.ResponseWriter, r *http.Request) {
		var body api.ChallengeResponse
		json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.lastSubmitted = &body
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *sdkTestServer) challengeToken(t *testing.T) string {
	t.Helper()
	now := time.Now().UTC()
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss":                       s.URL,
		"aud":                       "authenticator",
		"iat":                       now.Unix(),
		"exp":                       now.Add(2 * time.Minute).Unix(),
		"orgId":                     "00o-org",
		"nonce":                     "nonce-1",
		"verificationUri":           s.URL + "/idp/challenge/verify",
		"transactionId":             "txn-1",
		"authenticatorEnrollmentId": "aen-1",
		"originUrl":                 s.URL,
		"clientOS":                  "macOS",
	})
	tok.Header["typ"] = token.TypeChallenge
	tok.Header["kid"] = "server-k1"
	signed, err := tok.SignedString(s.key)
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func newTestAuthenticator(t *testing.T, srv *sdkTestServer) *Authenticator {
	t.Helper()
	dir := t.TempDir()
	a, err := New(Config{
		OrgURL:          srv.URL,
		OIDCClientID:    "client-1",
		DBPath:          filepath.Join(dir, "authenticator.db"),
		KeyStoreDir:     filepath.Join(dir, "keys"),
		APSEnvironment:  "development",
		AppInstanceName: "Example App",
	})
	if err != nil {
		t.Fatalf("building authenticator: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestEnrollResolveDeleteLifecycle(t *testing.T) {
	srv := newSDKTestServer(t)
	a := newTestAuthenticator(t, srv)
	ctx := context.Background()

	policy, err := a.DownloadPolicy(ctx, StaticToken("bearer"))
	if err != nil {
		t.Fatalf("downloading policy: %v", err)
	}
	if policy.AuthenticatorID != "aut-1" || policy.UserVerification != "preferred" {
		t.Errorf("policy = %+v", policy)
	}

	e, err := a.Enroll(ctx, StaticToken("bearer"), EnrollParameters{
		DeviceToken:            "apns-token",
		EnableUserVerification: true,
	})
	if err != nil {
		t.Fatalf("enrolling: %v", err)
	}
	if e.ID() != "aen-1" || e.State() != StateActive || !e.HasUserVerification() {
		t.Errorf("enrollment handle: id=%q state=%q uv=%v", e.ID(), e.State(), e.HasUserVerification())
	}
	userID, username := e.User()
	if userID != "usr-1" || username != "user@example.com" {
		t.Errorf("user = %q/%q", userID, username)
	}

	all, err := a.AllEnrollments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("enrollments = %d", len(all))
	}

	// inbound challenge over push
	ch, err := a.ParsePushNotification(ctx, map[string]any{"challenge": srv.challengeToken(t)}, 0)
	if err != nil {
		t.Fatalf("parsing push: %v", err)
	}
	if ch.TransactionID() != "txn-1" || ch.ClientOS() != "macOS" {
		t.Errorf("challenge = %q/%q", ch.TransactionID(), ch.ClientOS())
	}
	if err := ch.Resolve(ctx, func(step *ConsentStep) { step.Approve() }); err != nil {
		t.Fatalf("resolving: %v", err)
	}
	if srv.lastSubmitted == nil || srv.lastSubmitted.Method != "push" {
		t.Errorf("submitted = %+v", srv.lastSubmitted)
	}

	// pulled challenges go through the same validation
	srv.mu.Lock()
	srv.pending = []string{srv.challengeToken(t), "garbage"}
	srv.mu.Unlock()
	pulled, err := e.RetrievePushChallenges(ctx, StaticToken("bearer"))
	if err != nil {
		t.Fatalf("pulling challenges: %v", err)
	}
	if len(pulled) != 1 {
		t.Fatalf("pulled = %d valid challenges, want 1", len(pulled))
	}

	// delete with the server already reporting the enrollment gone
	srv.deleteGone = true
	if err := e.DeleteFromDevice(ctx, StaticToken("bearer")); err != nil {
		t.Fatalf("deleting: %v", err)
	}
	all, err = a.AllEnrollments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("enrollments after delete = %d", len(all))
	}
}

func TestParsePushNotificationForeign(t *testing.T) {
	srv := newSDKTestServer(t)
	a := newTestAuthenticator(t, srv)

	_, err := a.ParsePushNotification(context.Background(), map[string]any{"aps": map[string]any{"alert": "hi"}}, 0)
	if !errors.Is(err, ErrPushNotRecognized) {
		t.Fatalf("err = %v, want ErrPushNotRecognized", err)
	}
}

func TestParsePushNotificationUnknownAccount(t *testing.T) {
	srv := newSDKTestServer(t)
	a := newTestAuthenticator(t, srv)

	// no enrollment stored
	_, err := a.ParsePushNotification(context.Background(), map[string]any{"challenge": srv.challengeToken(t)}, 0)
	var notFound *AccountNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want AccountNotFoundError", err)
	}
	if notFound.Challenge.TransactionID != "txn-1" {
		t.Errorf("carried challenge = %+v", notFound.Challenge)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for empty config")
	}
	if _, err := New(Config{OrgURL: "https://acme.example.com"}); err == nil {
		t.Error("expected error for missing client id")
	}
}
