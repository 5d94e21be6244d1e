package domain

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	cipherVersion = "v1"
	kdfIterations = 64_000
	kdfSalt       = "wispbill/device-credentials"
)

// Cipher encrypts and decrypts stored device credentials with a key derived
// from the configured secret.
type Cipher struct {
	key []byte
}

// NewCipher derives an AES-256 key from secret. An empty secret yields a
// cipher whose operations fail with ErrEncryptionKeyMissing.
func NewCipher(secret string) *Cipher {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return &Cipher{}
	}
	key := pbkdf2.Key([]byte(secret), []byte(kdfSalt), kdfIterations, 32, sha256.New)
	return &Cipher{key: key}
}

func (c *Cipher) Encrypt(plaintext string) (string, error) {
	gcm, err := c.gcm()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return cipherVersion + ":" +
		base64.RawStdEncoding.EncodeToString(nonce) + ":" +
		base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Any malformed or unverifiable input maps to
// ErrCredentialDecrypt so callers can treat it as a fatal configuration error.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	gcm, err := c.gcm()
	if err != nil {
		return "", err
	}
	parts := strings.Split(encoded, ":")
	if len(parts) != 3 || parts[0] != cipherVersion {
		return "", ErrCredentialDecrypt
	}
	nonce, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", ErrCredentialDecrypt
	}
	sealed, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", ErrCredentialDecrypt
	}
	if len(nonce) != gcm.NonceSize() {
		return "", ErrCredentialDecrypt
	}
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrCredentialDecrypt
	}
	return string(plain), nil
}

func (c *Cipher) gcm() (cipher.AEAD, error) {
	if len(c.key) == 0 {
		return nil, ErrEncryptionKeyMissing
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
