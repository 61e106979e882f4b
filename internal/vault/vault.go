// Package vault seals credentials at rest with a server-held master key.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/conorfennell/duedeck/internal/domain"
)

// Sealed is a (ciphertext, iv) pair, both hex encoded, as persisted on the user row.
type Sealed struct {
	Ciphertext string
	IV         string
}

// Vault encrypts and decrypts secrets. It never persists anything itself.
type Vault struct {
	aead cipher.AEAD
	rand io.Reader
}

// New builds a vault from a hex encoded 32 byte master key.
func New(masterKeyHex string) (*Vault, error) {
	if masterKeyHex == "" {
		return nil, domain.CryptoError("encryption key is not configured", nil)
	}
	key, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return nil, domain.CryptoError("encryption key is not valid hex", err)
	}
	if len(key) != 32 {
		return nil, domain.CryptoError(fmt.Sprintf("encryption key must be 32 bytes, got %d", len(key)), nil)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, domain.CryptoError("failed to create cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, domain.CryptoError("failed to create GCM", err)
	}
	return &Vault{aead: aead, rand: rand.Reader}, nil
}

// Encrypt seals plaintext under a fresh random IV.
func (v *Vault) Encrypt(plaintext string) (Sealed, error) {
	iv := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(v.rand, iv); err != nil {
		return Sealed{}, domain.CryptoError("failed to generate IV", err)
	}
	ciphertext := v.aead.Seal(nil, iv, []byte(plaintext), nil)
	return Sealed{
		Ciphertext: hex.EncodeToString(ciphertext),
		IV:         hex.EncodeToString(iv),
	}, nil
}

// Decrypt opens a pair produced by Encrypt. A mismatched IV or a tampered
// ciphertext fails the integrity check.
func (v *Vault) Decrypt(ciphertextHex, ivHex string) (string, error) {
	ciphertext, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return "", domain.CryptoError("stored ciphertext is not valid hex", err)
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return "", domain.CryptoError("stored IV is not valid hex", err)
	}
	if len(iv) != v.aead.NonceSize() {
		return "", domain.CryptoError("stored IV has the wrong length", nil)
	}

	plaintext, err := v.aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return "", domain.CryptoError("failed to decrypt stored secret", err)
	}
	return string(plaintext), nil
}
