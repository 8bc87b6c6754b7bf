package challenge

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
	"push-authenticator/sdk/internal/db"
	"push-authenticator/sdk/internal/db/migrate"
	endomain "push-authenticator/sdk/internal/enrollment/domain"
	enrollrepo "push-authenticator/sdk/internal/enrollment/repository"
	"push-authenticator/sdk/internal/security"
	"push-authenticator/sdk/internal/token"
)

type testEnv struct {
	parser   *Parser
	resolver *Resolver
	keys     *security.FileKeyStore
	store    *enrollrepo.SQLiteRepository
	server   *httptest.Server

	serverKey *ecdsa.PrivateKey

	mu            sync.Mutex
	verifyCalls   int
	verifyStatus  int
	lastSubmitted *api.ChallengeResponse
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{}

	var err error
	env.serverKey, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /oauth2/v1/keys", func(w http.ResponseWriter, r *http.Request) {
		key, err := security.JWKFromPublicKey(&env.serverKey.PublicKey, "server-k1")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"keys":[` + string(key) + `]}`))
	})
	mux.HandleFunc("POST /idp/challenge/verify", func(w http.ResponseWriter, r *http.Request) {
		env.mu.Lock()
		defer env.mu.Unlock()
		env.verifyCalls++
		var body api.ChallengeResponse
		json.NewDecoder(r.Body).Decode(&body)
		env.lastSubmitted = &body
		if env.verifyStatus != 0 {
			w.WriteHeader(env.verifyStatus)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	env.server = httptest.NewServer(mux)
	t.Cleanup(env.server.Close)

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "authenticator.db")
	if err := migrate.Run(dbPath, migrate.Target); err != nil {
		t.Fatal(err)
	}
	d, err := db.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })

	env.keys, err = security.NewFileKeyStore(filepath.Join(dir, "keys"))
	if err != nil {
		t.Fatal(err)
	}
	env.store = enrollrepo.NewSQLiteRepository(d, nil)
	env.parser = NewParser(env.store, token.NewKeySetResolver(env.server.Client()))
	env.resolver = NewResolver(env.keys, api.NewClient(env.server.URL, env.server.Client()))
	return env
}

// seedEnrollment provisions the key pairs and persists an enrollment the
// challenge can resolve to.
func (env *testEnv) seedEnrollment(t *testing.T, withUV bool) *endomain.Enrollment {
	t.Helper()
	if _, err := env.keys.GenerateKeyPair("pop-1", security.KeyPairOptions{}); err != nil {
		t.Fatal(err)
	}
	uvTag := ""
	if withUV {
		uvTag = "uv-1"
		if _, err := env.keys.GenerateKeyPair(uvTag, security.KeyPairOptions{BiometricGate: true}); err != nil {
			t.Fatal(err)
		}
	}
	e := &endomain.Enrollment{
		EnrollmentID: "aen-1",
		OrgID:        "org-1",
		OrgURL:       env.server.URL,
		UserID:       "usr-1",
		DeviceID:     "dev-1",
		Factors: []endomain.Factor{{
			ID:               "pfd-1",
			Type:             endomain.MethodTypePush,
			TransactionTypes: endomain.TransactionTypeLogin,
			Push: &endomain.PushFactor{
				ProofOfPossessionKeyTag: "pop-1",
				UserVerificationKeyTag:  uvTag,
			},
		}},
	}
	if err := env.store.Save(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	return e
}

func (env *testEnv) challengeToken(t *testing.T, mutate func(map[string]any)) string {
	t.Helper()
	now := time.Now().UTC()
	claims := map[string]any{
		"iss":                       env.server.URL,
		"aud":                       "authenticator",
		"iat":                       now.Unix(),
		"exp":                       now.Add(2 * time.Minute).Unix(),
		"orgId":                     "00o-org",
		"nonce":                     "nonce-1",
		"verificationUri":           env.server.URL + "/idp/challenge/verify",
		"transactionId":             "txn-1",
		"authenticatorEnrollmentId": "aen-1",
		"originUrl":                 env.server.URL,
		"clientOS":                  "macOS",
		"clientLocation":            "Toronto, Canada",
		"userVerification":          "preferred",
	}
	if mutate != nil {
		mutate(claims)
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims(claims))
	tok.Header["typ"] = token.TypeChallenge
	tok.Header["kid"] = "server-k1"
	signed, err := tok.SignedString(env.serverKey)
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func TestParsePushForeignNotification(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.parser.ParsePush(context.Background(), map[string]any{"aps": "whatever"}, 0)
	if !errors.Is(err, ErrPushNotRecognized) {
		t.Fatalf("err = %v, want ErrPushNotRecognized", err)
	}
}

func TestParsePushCorruptTokenIsNotForeign(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.parser.ParsePush(context.Background(), map[string]any{PayloadChallengeKey: "not.a.token"}, 0)
	if err == nil || errors.Is(err, ErrPushNotRecognized) {
		t.Fatalf("err = %v, want a validation error distinct from ErrPushNotRecognized", err)
	}
	if !errors.Is(err, token.ErrInvalidStructure) {
		t.Errorf("err = %v, want ErrInvalidStructure", err)
	}
}

func TestParsePushValid(t *testing.T) {
	env := newTestEnv(t)
	env.seedEnrollment(t, true)

	ch, err := env.parser.ParsePush(context.Background(), map[string]any{
		PayloadChallengeKey: env.challengeToken(t, nil),
	}, 0)
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if ch.TransactionID != "txn-1" || ch.Nonce != "nonce-1" || ch.EnrollmentID != "aen-1" {
		t.Errorf("challenge = %+v", ch)
	}
	if ch.ClientOS != "macOS" || ch.ClientLocation != "Toronto, Canada" {
		t.Errorf("signals = %q / %q", ch.ClientOS, ch.ClientLocation)
	}
	if !ch.UserVerificationRequested {
		t.Error("user verification request not carried")
	}
	if ch.Enrollment() == nil || ch.Enrollment().EnrollmentID != "aen-1" {
		t.Error("enrollment not resolved")
	}
	if ch.UserResponse != UserResponseNotResponded {
		t.Errorf("initial response = %q", ch.UserResponse)
	}
}

func TestParsePushUnknownEnrollment(t *testing.T) {
	env := newTestEnv(t)
	// no enrollment seeded

	_, err := env.parser.ParsePush(context.Background(), map[string]any{
		PayloadChallengeKey: env.challengeToken(t, nil),
	}, 0)
	var notFound *AccountNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want AccountNotFoundError", err)
	}
	if notFound.Challenge == nil || notFound.Challenge.TransactionID != "txn-1" {
		t.Errorf("carried challenge = %+v", notFound.Challenge)
	}
}

func TestParsePushWrongSignature(t *testing.T) {
	env := newTestEnv(t)
	env.seedEnrollment(t, false)

	otherKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	saved := env.serverKey
	env.serverKey = otherKey
	raw := env.challengeToken(t, nil)
	env.serverKey = saved

	_, err = env.parser.ParsePush(context.Background(), map[string]any{PayloadChallengeKey: raw}, 0)
	if !errors.Is(err, token.ErrSignature) {
		t.Fatalf("err = %v, want ErrSignature", err)
	}

	// the insecure hook skips verification; only this package can set it
	env.parser.insecureSkipVerify = true
	if _, err := env.parser.ParsePush(context.Background(), map[string]any{PayloadChallengeKey: raw}, 0); err != nil {
		t.Fatalf("skip-verify parse: %v", err)
	}
}

func TestParsePushWrongAudience(t *testing.T) {
	env := newTestEnv(t)
	env.seedEnrollment(t, false)

	raw := env.challengeToken(t, func(c map[string]any) { c["aud"] = "some-other-app" })
	_, err := env.parser.ParsePush(context.Background(), map[string]any{PayloadChallengeKey: raw}, 0)
	if !errors.Is(err, token.ErrAudienceMismatch) {
		t.Fatalf("err = %v, want ErrAudienceMismatch", err)
	}
}

func TestParsePushExpiredBeyondSkew(t *testing.T) {
	env := newTestEnv(t)
	env.seedEnrollment(t, false)

	raw := env.challengeToken(t, func(claims map[string]any) {
		claims["exp"] = time.Now().UTC().Add(-10 * time.Minute).Unix()
	})
	_, err := env.parser.ParsePush(context.Background(), map[string]any{PayloadChallengeKey: raw}, 5*time.Minute)
	if !errors.Is(err, token.ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
}

func TestResolveApproveSignsWithUserVerificationKey(t *testing.T) {
	env := newTestEnv(t)
	env.seedEnrollment(t, true)

	ch, err := env.parser.ParseToken(context.Background(), env.challengeToken(t, nil), 0)
	if err != nil {
		t.Fatal(err)
	}

	err = env.resolver.Resolve(context.Background(), ch, func(step *ConsentStep) {
		if step.Challenge.OriginURL == "" {
			t.Error("consent step missing challenge details")
		}
		step.Approve()
	})
	if err != nil {
		t.Fatalf("resolving: %v", err)
	}
	if env.verifyCalls != 1 {
		t.Fatalf("verify calls = %d", env.verifyCalls)
	}
	if env.lastSubmitted.Method != api.MethodTypePush {
		t.Errorf("method = %q", env.lastSubmitted.Method)
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(env.lastSubmitted.ChallengeResponse, jwt.MapClaims{})
	if err != nil {
		t.Fatal(err)
	}
	claims := parsed.Claims.(jwt.MapClaims)
	if claims["nonce"] != "nonce-1" || claims["transactionId"] != "txn-1" {
		t.Errorf("response claims = %v", claims)
	}
	if claims["userResponse"] != string(UserResponseApproved) {
		t.Errorf("userResponse = %v", claims["userResponse"])
	}
	if kid, _ := parsed.Header["kid"].(string); kid != "uv-1" {
		t.Errorf("approval under user verification must sign with the gated key, kid = %q", kid)
	}
	if typ, _ := parsed.Header["typ"].(string); typ != token.TypeChallengeResponse {
		t.Errorf("typ = %q", typ)
	}
}

func TestResolveDenySignsWithProofOfPossessionKey(t *testing.T) {
	env := newTestEnv(t)
	env.seedEnrollment(t, true)

	ch, err := env.parser.ParseToken(context.Background(), env.challengeToken(t, nil), 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.resolver.Resolve(context.Background(), ch, func(step *ConsentStep) { step.Deny() }); err != nil {
		t.Fatal(err)
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(env.lastSubmitted.ChallengeResponse, jwt.MapClaims{})
	if err != nil {
		t.Fatal(err)
	}
	if kid, _ := parsed.Header["kid"].(string); kid != "pop-1" {
		t.Errorf("denial must sign with the proof-of-possession key, kid = %q", kid)
	}
	claims := parsed.Claims.(jwt.MapClaims)
	if claims["userResponse"] != string(UserResponseDenied) {
		t.Errorf("userResponse = %v", claims["userResponse"])
	}
}

func TestResolveNotProcessed(t *testing.T) {
	env := newTestEnv(t)
	env.seedEnrollment(t, false)

	ch, err := env.parser.ParseToken(context.Background(), env.challengeToken(t, nil), 0)
	if err != nil {
		t.Fatal(err)
	}
	err = env.resolver.Resolve(context.Background(), ch, func(step *ConsentStep) { step.NotProcessed() })
	if !errors.Is(err, ErrNotResponded) {
		t.Fatalf("err = %v, want ErrNotResponded", err)
	}
	if env.verifyCalls != 0 {
		t.Error("nothing should be submitted without a decision")
	}
}

func TestResolveSubmissionFailureKeepsDisposition(t *testing.T) {
	env := newTestEnv(t)
	env.seedEnrollment(t, false)
	env.verifyStatus = http.StatusInternalServerError

	ch, err := env.parser.ParseToken(context.Background(), env.challengeToken(t, nil), 0)
	if err != nil {
		t.Fatal(err)
	}
	err = env.resolver.Resolve(context.Background(), ch, func(step *ConsentStep) { step.Approve() })
	if err == nil {
		t.Fatal("expected submission error")
	}
	if ch.UserResponse != UserResponseApproved {
		t.Errorf("disposition reverted to %q", ch.UserResponse)
	}

	// retry-by-resubmission: the decided challenge submits without a callback
	env.verifyStatus = 0
	if err := env.resolver.Resolve(context.Background(), ch, nil); err != nil {
		t.Fatalf("resubmission: %v", err)
	}
}

func TestMapActionIdentifier(t *testing.T) {
	cases := map[string]UserResponse{
		ActionApprove: UserResponseApproved,
		ActionDeny:    UserResponseDenied,
		"":            UserResponseNotResponded,
		"snooze":      UserResponseNotResponded,
	}
	for action, want := range cases {
		if got := MapActionIdentifier(action); got != want {
			t.Errorf("MapActionIdentifier(%q) = %q, want %q", action, got, want)
		}
	}
}
