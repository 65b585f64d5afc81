package cryptox

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
)

// CanonicalJSON serializes v with encoding/json. Map keys are emitted in
// sorted order, which makes the output stable for map payloads.
func CanonicalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// VerifyDetached checks a base64 signature over the canonical JSON of payload
// using a base64 DER (PKIX) public key. RSA (PKCS#1 v1.5), ECDSA and Ed25519
// keys are accepted. Every failure, including a panic inside a verifier, is
// reported as false.
func VerifyDetached(payload any, signatureB64 string, publicKeyB64 string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	data, err := CanonicalJSON(payload)
	if err != nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil || len(sig) == 0 {
		return false
	}
	der, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil {
		return false
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return false
	}

	digest := sha256.Sum256(data)

	switch key := pub.(type) {
	case *rsa.PublicKey:
		return rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], sig) == nil
	case *ecdsa.PublicKey:
		return ecdsa.VerifyASN1(key, digest[:], sig)
	case ed25519.PublicKey:
		return ed25519.Verify(key, data, sig)
	default:
		return false
	}
}
