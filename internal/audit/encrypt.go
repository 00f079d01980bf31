package audit

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// NewEncryptFunc derives a 256-bit AES-GCM key from passphrase via HKDF and
// returns a function suitable for Logger's encrypt parameter, implementing
// the optional at-rest encryption of audit payloads (SPEC_FULL Part D.3).
// Disabled (encrypt unset) unless GATEWAY_AUDIT_ENCRYPT is true.
func NewEncryptFunc(passphrase string) (func([]byte) ([]byte, error), error) {
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(passphrase), nil, []byte("gateway-audit-at-rest"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("audit: derive encryption key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("audit: init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("audit: init gcm: %w", err)
	}

	return func(plaintext []byte) ([]byte, error) {
		nonce := make([]byte, gcm.NonceSize())
		if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
			return nil, fmt.Errorf("audit: generate nonce: %w", err)
		}
		return gcm.Seal(nonce, nonce, plaintext, nil), nil
	}, nil
}
