package security

import (
	"crypto/ecdsa"
	"encoding/asn1"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// JWKFromPublicKey serializes an ECDSA public key as a JWK object with the
// given kid, ES256 alg, and sig use, ready to embed in an enroll request body.
func JWKFromPublicKey(pub *ecdsa.PublicKey, kid string) (json.RawMessage, error) {
	key, err := jwk.Import(pub)
	if err != nil {
		return nil, fmt.Errorf("security: jwk import: %w", err)
	}
	if err := key.Set(jwk.KeyIDKey, kid); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.ES256()); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.KeyUsageKey, "sig"); err != nil {
		return nil, err
	}
	return json.Marshal(key)
}

// JOSESignatureFromDER converts a platform-native ASN.1/DER ECDSA signature
// into the raw fixed-length r‖s form (32+32 bytes for P-256) that JOSE
// verifiers expect. The conversion is mandatory for interoperability with the
// server's token verifier.
func JOSESignatureFromDER(der []byte) ([]byte, error) {
	var sig struct {
		R, S *big.Int
	}
	if _, err := asn1.Unmarshal(der, &sig); err != nil {
		return nil, fmt.Errorf("security: malformed DER signature: %w", err)
	}
	const keyBytes = 32
	out := make([]byte, 2*keyBytes)
	sig.R.FillBytes(out[:keyBytes])
	sig.S.FillBytes(out[keyBytes:])
	return out, nil
}
