package authenticator

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"push-authenticator/sdk/internal/api"
	"push-authenticator/sdk/internal/audit"
	auditrepo "push-authenticator/sdk/internal/audit/repository"
	"push-authenticator/sdk/internal/challenge"
	"push-authenticator/sdk/internal/config"
	"push-authenticator/sdk/internal/db"
	"push-authenticator/sdk/internal/db/migrate"
	devicerepo "push-authenticator/sdk/internal/device/repository"
	enrollrepo "push-authenticator/sdk/internal/enrollment/repository"
	policyrepo "push-authenticator/sdk/internal/policy/repository"
	"push-authenticator/sdk/internal/security"
	"push-authenticator/sdk/internal/telemetry"
	"push-authenticator/sdk/internal/token"
	"push-authenticator/sdk/internal/transaction"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// AuthToken supplies the bearer credential for server calls. The SDK never
// refreshes it; that is the host app's OAuth client's job.
type AuthToken interface {
	TokenValue() (string, error)
}

// StaticToken is an AuthToken wrapping a fixed string.
type StaticToken string

func (t StaticToken) TokenValue() (string, error) { return string(t), nil }

// Config configures an Authenticator.
type Config struct {
	// OrgURL is the base URL of the authorization server org.
	OrgURL string
	// OIDCClientID is the OAuth client id the host app authenticates with.
	OIDCClientID string
	// DBPath is the sqlite file holding enrollment state. Defaults to
	// "authenticator.db".
	DBPath string
	// KeyStoreDir is where the software key store keeps key material.
	// Defaults to ".authenticator-keys".
	KeyStoreDir string
	// APSEnvironment is "development" or "production"; default production.
	APSEnvironment string
	// AppInstanceName is the device display name sent in device signals.
	AppInstanceName string
	// HTTPTimeout bounds every server call. Default 30s.
	HTTPTimeout time.Duration
	// PushClockSkew is the allowed clock skew for challenge validation.
	// Default 300s.
	PushClockSkew time.Duration
	// MeterProvider receives transaction metrics. Optional.
	MeterProvider *sdkmetric.MeterProvider
}

// Authenticator is the SDK entry point. Safe for concurrent use.
type Authenticator struct {
	cfg      *config.Config
	db       *sql.DB
	keys     *security.FileKeyStore
	store    *enrollrepo.SQLiteRepository
	engine   *transaction.Engine
	parser   *challenge.Parser
	resolver *challenge.Resolver
	pushSkew time.Duration
}

// New builds an Authenticator: runs schema migration, opens the store, and
// wires the engines.
func New(cfg Config) (*Authenticator, error) {
	if cfg.OrgURL == "" {
		return nil, errors.New("authenticator: OrgURL must be set")
	}
	if cfg.OIDCClientID == "" {
		return nil, errors.New("authenticator: OIDCClientID must be set")
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "authenticator.db"
	}
	if cfg.KeyStoreDir == "" {
		cfg.KeyStoreDir = ".authenticator-keys"
	}
	if cfg.APSEnvironment == "" {
		cfg.APSEnvironment = "production"
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.PushClockSkew <= 0 {
		cfg.PushClockSkew = token.DefaultPushSkew
	}
	internal := &config.Config{
		OrgURL:          cfg.OrgURL,
		OIDCClientID:    cfg.OIDCClientID,
		DBPath:          cfg.DBPath,
		KeyStoreDir:     cfg.KeyStoreDir,
		APSEnvironment:  cfg.APSEnvironment,
		AppInstanceName: cfg.AppInstanceName,
		HTTPTimeout:     cfg.HTTPTimeout.String(),
		PushClockSkew:   cfg.PushClockSkew.String(),
	}
	return build(internal, cfg.MeterProvider)
}

// NewFromEnv builds an Authenticator from AUTHN_* environment variables and
// an optional .env file.
func NewFromEnv() (*Authenticator, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return build(cfg, nil)
}

func build(cfg *config.Config, provider *sdkmetric.MeterProvider) (*Authenticator, error) {
	if err := migrate.Run(cfg.DBPath, migrate.Target); err != nil {
		return nil, err
	}
	d, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	keys, err := security.NewFileKeyStore(cfg.KeyStoreDir)
	if err != nil {
		d.Close()
		return nil, err
	}
	cipher, err := security.NewColumnCipher(keys)
	if err != nil {
		d.Close()
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.Timeout()}
	client := api.NewClient(cfg.OrgURL, httpClient)

	store := enrollrepo.NewSQLiteRepository(d, cipher)
	engine := transaction.NewEngine(
		cfg,
		keys,
		client,
		store,
		policyrepo.NewSQLiteRepository(d),
		devicerepo.NewSQLiteRepository(d),
		telemetry.NewMetrics(provider),
		audit.NewRecorder(auditrepo.NewSQLiteRepository(d)),
	)

	return &Authenticator{
		cfg:      cfg,
		db:       d,
		keys:     keys,
		store:    store,
		engine:   engine,
		parser:   challenge.NewParser(store, token.NewKeySetResolver(httpClient)),
		resolver: challenge.NewResolver(keys, client),
		pushSkew: cfg.PushSkew(),
	}, nil
}

// Close releases the underlying store.
func (a *Authenticator) Close() error {
	return a.db.Close()
}

// Policy is the org's authenticator configuration as seen by callers.
type Policy struct {
	AuthenticatorID  string
	ActiveMethods    []string
	UserVerification string
}

// DownloadPolicy fetches and caches the org's authenticator policy.
func (a *Authenticator) DownloadPolicy(ctx context.Context, auth AuthToken) (*Policy, error) {
	p, err := a.engine.DownloadPolicy(ctx, bridgeToken(auth))
	if err != nil {
		return nil, err
	}
	return &Policy{
		AuthenticatorID:  p.PolicyID,
		ActiveMethods:    p.ActiveMethods,
		UserVerification: p.UserVerification.String(),
	}, nil
}

// EnrollParameters configure Enroll.
type EnrollParameters struct {
	// DeviceToken is the push delivery token from the platform.
	DeviceToken string
	// EnableUserVerification additionally provisions a biometric-gated key.
	EnableUserVerification bool
	// EnableCIBA advertises CIBA transaction support.
	EnableCIBA bool
}

// Enroll registers this device as a push factor for the token's user and
// returns the durable enrollment handle.
func (a *Authenticator) Enroll(ctx context.Context, auth AuthToken, params EnrollParameters) (*Enrollment, error) {
	record, err := a.engine.Enroll(ctx, bridgeToken(auth), transaction.EnrollParameters{
		DeviceToken:            params.DeviceToken,
		EnableUserVerification: params.EnableUserVerification,
		EnableCIBA:             params.EnableCIBA,
	})
	if err != nil {
		return nil, err
	}
	return &Enrollment{auth: a, record: record}, nil
}

// AllEnrollments lists every enrollment stored on this device.
func (a *Authenticator) AllEnrollments(ctx context.Context) ([]*Enrollment, error) {
	records, err := a.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Enrollment, 0, len(records))
	for _, r := range records {
		out = append(out, &Enrollment{auth: a, record: r})
	}
	return out, nil
}

// Delete removes the enrollment from the server and this device.
func (a *Authenticator) Delete(ctx context.Context, auth AuthToken, e *Enrollment) error {
	return e.DeleteFromDevice(ctx, auth)
}

// ParsePushNotification validates the challenge token inside a push payload.
// skew 0 uses the configured push clock skew. A payload without a challenge
// token returns ErrPushNotRecognized; a challenge for an enrollment this
// device no longer holds returns *AccountNotFoundError.
func (a *Authenticator) ParsePushNotification(ctx context.Context, payload map[string]any, skew time.Duration) (*Challenge, error) {
	if skew <= 0 {
		skew = a.pushSkew
	}
	ch, err := a.parser.ParsePush(ctx, payload, skew)
	if err != nil {
		return nil, err
	}
	return &Challenge{auth: a, ch: ch}, nil
}

// bridgeToken adapts the public AuthToken to the transport layer. A nil
// token stays nil so unprompted flows can self-sign.
func bridgeToken(auth AuthToken) api.AuthToken {
	if auth == nil {
		return nil
	}
	return auth
}
