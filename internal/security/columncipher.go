package security

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ColumnKeyTag is the dedicated key-store tag for the at-rest column
// encryption key pair. Distinct from any factor key.
const ColumnKeyTag = "storage.column-encryption"

// ErrColumnDecrypt is returned when a ciphertext column cannot be decrypted.
// The store degrades the field to empty instead of failing the row read.
var ErrColumnDecrypt = errors.New("security: column decryption failed")

var hkdfInfo = []byte("authenticator-column-v1")

// ColumnCipher encrypts sensitive text columns (username) at rest using an
// asymmetric scheme: ephemeral ECDH against the stored column key, HKDF-SHA256
// key derivation, ChaCha20-Poly1305 sealing. Encryption needs only the public
// half, so writes never prompt for key access.
type ColumnCipher struct {
	keys KeyStore
}

// NewColumnCipher returns a ColumnCipher over keys, generating the column key
// pair under ColumnKeyTag if it does not exist yet. Existing keys are reused;
// regenerating would orphan previously written ciphertext.
func NewColumnCipher(keys KeyStore) (*ColumnCipher, error) {
	pub, err := keys.PublicKey(ColumnKeyTag)
	if err != nil {
		return nil, err
	}
	if pub == nil {
		if _, err := keys.GenerateKeyPair(ColumnKeyTag, KeyPairOptions{}); err != nil {
			return nil, err
		}
	}
	return &ColumnCipher{keys: keys}, nil
}

// Encrypt seals plaintext and returns a base64 blob:
// ephemeral-public-key(65) || nonce || ciphertext.
func (c *ColumnCipher) Encrypt(plaintext []byte) (string, error) {
	pub, err := c.keys.PublicKey(ColumnKeyTag)
	if err != nil {
		return "", err
	}
	if pub == nil {
		return "", &KeyError{Op: "encrypt", Tag: ColumnKeyTag, Status: StatusIO, Reason: "column key not found"}
	}
	ecdhPub, err := pub.ECDH()
	if err != nil {
		return "", fmt.Errorf("security: column key: %w", err)
	}
	eph, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return "", err
	}
	shared, err := eph.ECDH(ecdhPub)
	if err != nil {
		return "", err
	}
	aead, err := aeadFromShared(shared)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nil, nonce, plaintext, nil)

	ephBytes := eph.PublicKey().Bytes()
	blob := make([]byte, 0, len(ephBytes)+len(nonce)+len(sealed))
	blob = append(blob, ephBytes...)
	blob = append(blob, nonce...)
	blob = append(blob, sealed...)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt opens a blob produced by Encrypt. Any structural or cryptographic
// failure is reported as ErrColumnDecrypt.
func (c *ColumnCipher) Decrypt(encoded string) ([]byte, error) {
	priv, err := c.keys.PrivateKey(ColumnKeyTag, false)
	if err != nil {
		return nil, err
	}
	if priv == nil {
		return nil, fmt.Errorf("%w: column key not found", ErrColumnDecrypt)
	}
	ecdhPriv, err := priv.ECDH()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrColumnDecrypt, err)
	}

	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrColumnDecrypt, err)
	}
	const ephLen = 65 // uncompressed P-256 point
	if len(blob) < ephLen+chacha20poly1305.NonceSize {
		return nil, fmt.Errorf("%w: blob too short", ErrColumnDecrypt)
	}
	ephPub, err := ecdh.P256().NewPublicKey(blob[:ephLen])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrColumnDecrypt, err)
	}
	shared, err := ecdhPriv.ECDH(ephPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrColumnDecrypt, err)
	}
	aead, err := aeadFromShared(shared)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrColumnDecrypt, err)
	}
	nonce := blob[ephLen : ephLen+aead.NonceSize()]
	plain, err := aead.Open(nil, nonce, blob[ephLen+aead.NonceSize():], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrColumnDecrypt, err)
	}
	return plain, nil
}

func aeadFromShared(shared []byte) (interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
}, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nil, hkdfInfo), key); err != nil {
		return nil, err
	}
	return chacha20poly1305.New(key)
}
