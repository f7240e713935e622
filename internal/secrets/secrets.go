// Package secrets encrypts broker/provider API keys at rest using a
// passphrase-derived key, so the on-disk config/cache directory never holds
// plaintext credentials outside of process memory.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/sha3"
)

const (
	pbkdf2Iterations = 100_000
	keySize          = 32
	saltSize         = 16
	nonceSize        = 24
)

// Box is a derived-key encryptor for small secret blobs (API keys, bearer
// tokens persisted for reuse across restarts).
type Box struct {
	key [keySize]byte
}

// NewBox derives an encryption key from passphrase and salt via PBKDF2.
// salt should be persisted alongside the ciphertext (it is not secret).
func NewBox(passphrase string, salt []byte) *Box {
	var key [keySize]byte
	derived := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keySize, sha3.New256)
	copy(key[:], derived)
	return &Box{key: key}
}

// NewSalt generates a fresh random salt for use with NewBox.
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

// Seal encrypts plaintext and returns a base64-encoded nonce||ciphertext
// blob suitable for storing in a config or cache file.
func (b *Box) Seal(plaintext []byte) (string, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &b.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a blob produced by Seal.
func (b *Box) Open(blob string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("decoding secret blob: %w", err)
	}
	if len(raw) < nonceSize {
		return nil, fmt.Errorf("secret blob too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plaintext, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &b.key)
	if !ok {
		return nil, fmt.Errorf("decrypting secret blob: authentication failed")
	}
	return plaintext, nil
}
