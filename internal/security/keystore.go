// Package security provides the device key store, column encryption, and key
// material encoding used by enrollments and challenge signing.
package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// KeyState is the result of a non-interactive availability probe for a stored private key.
type KeyState int

const (
	// KeyStateAvailable means the private key exists and can be used,
	// possibly after user interaction.
	KeyStateAvailable KeyState = iota
	// KeyStateLockedOut means the key exists but its biometric gate is
	// locked out after repeated failures.
	KeyStateLockedOut
	// KeyStateLost means the key is missing or unreadable; the enrollment
	// that references it is non-functional and must be re-enrolled.
	KeyStateLost
)

// String returns the state name for logging.
func (s KeyState) String() string {
	switch s {
	case KeyStateAvailable:
		return "available"
	case KeyStateLockedOut:
		return "lockedOut"
	default:
		return "lost"
	}
}

// Sentinel errors for gated key use; Availability classifies on these.
var (
	// ErrInteractionRequired is returned when a biometric-gated key is used
	// without allowing user interaction. The key itself is intact.
	ErrInteractionRequired = errors.New("security: user interaction required")
	// ErrBiometryLockedOut is returned when the key's biometric gate is
	// locked out after repeated failed attempts.
	ErrBiometryLockedOut = errors.New("security: biometry locked out")
)

// KeyError carries the keystore status code and a human-readable reason for a
// failed key operation. Callers must not retry generation without deleting the
// stale tag first.
type KeyError struct {
	Op     string
	Tag    string
	Status int
	Reason string
	Err    error
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("security: %s tag=%s status=%d: %s", e.Op, e.Tag, e.Status, e.Reason)
}

func (e *KeyError) Unwrap() error { return e.Err }

// Keystore status codes surfaced through KeyError.
const (
	StatusIO        = 1
	StatusCorrupt   = 2
	StatusDuplicate = 3
)

// KeyPairOptions control how a generated key pair is protected.
type KeyPairOptions struct {
	// SecureHardware requests hardware-backed protection for the private key.
	SecureHardware bool
	// BiometricGate gates private-key use behind biometric/passcode policy;
	// non-interactive use fails with ErrInteractionRequired.
	BiometricGate bool
	// CrossDeviceAccessible selects the accessibility class: synced across
	// the user's devices rather than this-device-only.
	CrossDeviceAccessible bool
	// BiometricPolicy names the local-authentication policy for gated keys
	// (e.g. "biometryAny", "biometryCurrentSet").
	BiometricPolicy string
}

// KeyStore stores asymmetric key pairs addressed by tag. Implementations are
// safe for concurrent use, but callers must not concurrently generate and
// delete under the same tag; transactions mint a fresh tag per attempt.
type KeyStore interface {
	// GenerateKeyPair creates a P-256 key pair under tag, deleting any
	// pre-existing pair under the same tag first.
	GenerateKeyPair(tag string, opts KeyPairOptions) (*ecdsa.PublicKey, error)
	// DeleteKeyPair removes the pair under tag; true iff a key existed.
	DeleteKeyPair(tag string) bool
	// PrivateKey looks up the private key under tag. Absence is a normal
	// nil result, not an error. Gated keys require allowInteraction.
	PrivateKey(tag string, allowInteraction bool) (*ecdsa.PrivateKey, error)
	// PublicKey looks up the public key under tag; nil when absent.
	PublicKey(tag string) (*ecdsa.PublicKey, error)
	// Sign signs payload with the key under tag, returning the raw
	// fixed-length r‖s JOSE signature form the server's verifier expects.
	Sign(tag string, payload []byte, allowInteraction bool) ([]byte, error)
	// Availability probes the key under tag without prompting the user.
	Availability(tag string) (KeyState, error)
	// MarkLockedOut records a biometry lockout reported by the platform.
	MarkLockedOut(tag string, locked bool) error
}

type keyRecord struct {
	Tag       string         `json:"tag"`
	KeyDER    string         `json:"keyDer"`
	Options   KeyPairOptions `json:"options"`
	LockedOut bool           `json:"lockedOut"`
	CreatedAt time.Time      `json:"createdAt"`
}

// FileKeyStore is a software KeyStore persisting PKCS#8 key material in
// per-tag files under a directory. It stands in for the platform keystore;
// the gating options are recorded with the key and enforced on use so the
// availability-probe semantics match a hardware-backed store.
type FileKeyStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileKeyStore returns a FileKeyStore rooted at dir, creating it if needed.
func NewFileKeyStore(dir string) (*FileKeyStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, &KeyError{Op: "open", Tag: "", Status: StatusIO, Reason: err.Error(), Err: err}
	}
	return &FileKeyStore{dir: dir}, nil
}

func (s *FileKeyStore) path(tag string) string {
	sum := sha256.Sum256([]byte(tag))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:16])+".json")
}

// GenerateKeyPair creates a new P-256 pair under tag. Any pre-existing pair
// under tag is deleted first, so re-provisioning is idempotent: the second
// call's result supersedes the first.
func (s *FileKeyStore) GenerateKeyPair(tag string, opts KeyPairOptions) (*ecdsa.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_ = os.Remove(s.path(tag))

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, &KeyError{Op: "generate", Tag: tag, Status: StatusIO, Reason: err.Error(), Err: err}
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, &KeyError{Op: "generate", Tag: tag, Status: StatusCorrupt, Reason: err.Error(), Err: err}
	}
	rec := keyRecord{
		Tag:       tag,
		KeyDER:    base64.StdEncoding.EncodeToString(der),
		Options:   opts,
		CreatedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, &KeyError{Op: "generate", Tag: tag, Status: StatusCorrupt, Reason: err.Error(), Err: err}
	}
	if err := os.WriteFile(s.path(tag), raw, 0o600); err != nil {
		return nil, &KeyError{Op: "generate", Tag: tag, Status: StatusIO, Reason: err.Error(), Err: err}
	}
	return &priv.PublicKey, nil
}

// DeleteKeyPair removes the key pair under tag. Returns true iff a key
// existed and was removed.
func (s *FileKeyStore) DeleteKeyPair(tag string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(tag))
	return err == nil
}

func (s *FileKeyStore) load(tag string) (*keyRecord, error) {
	raw, err := os.ReadFile(s.path(tag))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &KeyError{Op: "load", Tag: tag, Status: StatusIO, Reason: err.Error(), Err: err}
	}
	var rec keyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, &KeyError{Op: "load", Tag: tag, Status: StatusCorrupt, Reason: err.Error(), Err: err}
	}
	return &rec, nil
}

func (rec *keyRecord) privateKey() (*ecdsa.PrivateKey, error) {
	der, err := base64.StdEncoding.DecodeString(rec.KeyDER)
	if err != nil {
		return nil, &KeyError{Op: "load", Tag: rec.Tag, Status: StatusCorrupt, Reason: err.Error(), Err: err}
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, &KeyError{Op: "load", Tag: rec.Tag, Status: StatusCorrupt, Reason: err.Error(), Err: err}
	}
	ec, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, &KeyError{Op: "load", Tag: rec.Tag, Status: StatusCorrupt, Reason: "not an EC key"}
	}
	return ec, nil
}

// PrivateKey returns the private key under tag, or nil when absent.
// A biometric-gated key requires allowInteraction; lockout wins over gating.
func (s *FileKeyStore) PrivateKey(tag string, allowInteraction bool) (*ecdsa.PrivateKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.load(tag)
	if err != nil || rec == nil {
		return nil, err
	}
	if rec.LockedOut {
		return nil, ErrBiometryLockedOut
	}
	if rec.Options.BiometricGate && !allowInteraction {
		return nil, ErrInteractionRequired
	}
	return rec.privateKey()
}

// PublicKey returns the public key under tag, or nil when absent. Gating does
// not apply to public halves.
func (s *FileKeyStore) PublicKey(tag string) (*ecdsa.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.load(tag)
	if err != nil || rec == nil {
		return nil, err
	}
	priv, err := rec.privateKey()
	if err != nil {
		return nil, err
	}
	return &priv.PublicKey, nil
}

// Sign signs payload with the private key under tag. The platform signer
// emits ASN.1/DER; the result is converted to the raw r‖s JOSE form before it
// is returned. A missing key is a KeyError, not a nil result, because a
// caller asking for a signature needs the key to exist.
func (s *FileKeyStore) Sign(tag string, payload []byte, allowInteraction bool) ([]byte, error) {
	priv, err := s.PrivateKey(tag, allowInteraction)
	if err != nil {
		return nil, err
	}
	if priv == nil {
		return nil, &KeyError{Op: "sign", Tag: tag, Status: StatusIO, Reason: "key not found"}
	}
	digest := sha256.Sum256(payload)
	der, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		return nil, &KeyError{Op: "sign", Tag: tag, Status: StatusIO, Reason: err.Error(), Err: err}
	}
	return JOSESignatureFromDER(der)
}

// Availability probes the key under tag by attempting a zero-length signature
// with interaction disabled. An interaction-required failure means the key
// exists and is merely gated, so it maps to Available; a lockout failure maps
// to LockedOut; any other failure means the key is lost. This is the only
// non-interactive way to learn the key exists without prompting the user.
func (s *FileKeyStore) Availability(tag string) (KeyState, error) {
	_, err := s.Sign(tag, nil, false)
	switch {
	case err == nil:
		return KeyStateAvailable, nil
	case errors.Is(err, ErrInteractionRequired):
		return KeyStateAvailable, nil
	case errors.Is(err, ErrBiometryLockedOut):
		return KeyStateLockedOut, err
	default:
		return KeyStateLost, err
	}
}

// MarkLockedOut records a biometry lockout (or clears it) for the key under
// tag. The host reports lockout when the platform's local-auth layer does.
func (s *FileKeyStore) MarkLockedOut(tag string, locked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.load(tag)
	if err != nil {
		return err
	}
	if rec == nil {
		return &KeyError{Op: "lockout", Tag: tag, Status: StatusIO, Reason: "key not found"}
	}
	rec.LockedOut = locked
	raw, err := json.Marshal(rec)
	if err != nil {
		return &KeyError{Op: "lockout", Tag: tag, Status: StatusCorrupt, Reason: err.Error(), Err: err}
	}
	return os.WriteFile(s.path(tag), raw, 0o600)
}
