// Package crypto provides AES-256-GCM encryption and decryption for tokens
// at rest. Provider access and refresh tokens are never persisted in
// plaintext; the storage layer holds only ciphertexts produced here.
//
// The package uses AES-256-GCM (Galois/Counter Mode) which provides both
// confidentiality and authenticity. Each encryption operation uses a unique
// random nonce, so encrypting the same token twice produces different
// ciphertexts.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"oauth-bridge/internal/common/errors"
)

// TokenEncryptor handles encryption and decryption of provider tokens using
// AES-256-GCM. It is safe for concurrent use by multiple goroutines.
type TokenEncryptor struct {
	key []byte // 32-byte AES-256 encryption key
}

// NewTokenEncryptor creates a new TokenEncryptor with the provided key.
//
// The key is processed with PBKDF2 key derivation so it is exactly 32 bytes
// for AES-256 regardless of input length. The key should come from the
// environment (TOKEN_ENCRYPTION_KEY) and never be hardcoded.
func NewTokenEncryptor(key string) (*TokenEncryptor, error) {
	if key == "" {
		return nil, errors.ValidationError("token encryption key cannot be empty")
	}

	// Static salt keeps derivation deterministic across restarts
	salt := []byte("oauth-bridge-token-salt")
	derivedKey := pbkdf2.Key([]byte(key), salt, 10000, 32, sha256.New)

	return &TokenEncryptor{key: derivedKey}, nil
}

// Encrypt encrypts a plaintext token and returns the result as a
// base64-encoded string suitable for storage. The random nonce is prepended
// to the ciphertext before encoding. Empty input returns an empty string.
func (e *TokenEncryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", errors.InternalError("failed to create cipher", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.InternalError("failed to create GCM", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.InternalError("failed to generate nonce", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts a base64-encoded ciphertext produced by Encrypt and
// returns the plaintext token. Empty input returns an empty string.
// Tampered or truncated ciphertexts fail authentication and return an error.
func (e *TokenEncryptor) Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", errors.InternalError("failed to decode ciphertext", err)
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", errors.InternalError("failed to create cipher", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.InternalError("failed to create GCM", err)
	}

	if len(data) < gcm.NonceSize() {
		return "", errors.InternalError("ciphertext too short", nil)
	}

	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", errors.InternalError("failed to decrypt token", err)
	}

	return string(plaintext), nil
}
