// Package cryptox holds the cryptographic primitives of the token vault and
// the certificate pipeline: authenticated sealing of provider tokens,
// key material handling, hashing and constant-time comparison.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/nikilm-offx/TNEA-Insight/internal/common"
)

const (
	nonceSize = 12
	tagSize   = 16
	keySize   = 32
)

var (
	ErrEmptyKeyMaterial = errors.New("empty key material")
	ErrMalformedSealed  = errors.New("malformed sealed token")
)

// DeriveKey stretches a passphrase into a 256-bit key with argon2id.
func DeriveKey(passphrase []byte, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, keySize)
}

// ParseKeyMaterial turns the configured key into an AES-256 key. A 64 char
// hex string is used as-is, anything else is treated as a passphrase and
// run through DeriveKey with the given salt.
func ParseKeyMaterial(material string, salt string) ([]byte, error) {
	material = strings.TrimSpace(material)
	if material == "" {
		return nil, ErrEmptyKeyMaterial
	}
	if len(material) == hex.EncodedLen(keySize) {
		if key, err := hex.DecodeString(material); err == nil {
			return key, nil
		}
	}
	passphrase := []byte(material)
	defer common.WipeByteArray(passphrase)
	return DeriveKey(passphrase, []byte(salt)), nil
}

// SealToken encrypts plaintext with AES-256-GCM under a fresh random nonce.
//
// The result has the form "<nonce>:<ciphertext>:<tag>", each part hex encoded,
// so the nonce and tag always travel with the ciphertext.
func SealToken(plaintext string, key []byte) (string, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := common.GenerateRandByteArray(nonceSize)
	pt := []byte(plaintext)
	defer common.WipeByteArray(pt)

	sealed := aesgcm.Seal(nil, nonce, pt, nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(ct) + ":" + hex.EncodeToString(tag), nil
}

// OpenToken reverses SealToken. Any malformed input or authentication
// failure is reported as an error; callers treat it as "no usable token".
func OpenToken(sealed string, key []byte) (string, error) {
	parts := strings.Split(sealed, ":")
	if len(parts) != 3 {
		return "", ErrMalformedSealed
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSize {
		return "", ErrMalformedSealed
	}
	ct, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", ErrMalformedSealed
	}
	tag, err := hex.DecodeString(parts[2])
	if err != nil || len(tag) != tagSize {
		return "", ErrMalformedSealed
	}

	aesgcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	plaintext, err := aesgcm.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("open sealed token: %w", err)
	}
	defer common.WipeByteArray(plaintext)
	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("invalid key size %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ConstantTimeEqual compares two secrets without leaking their content or
// length through timing: both sides are hashed to a fixed size first.
func ConstantTimeEqual(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	eq := subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
	return eq && subtle.ConstantTimeEq(int32(len(a)), int32(len(b))) == 1
}
