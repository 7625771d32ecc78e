// Package crypto seals exchange credentials at rest with versioned AES-256-GCM keys.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32

	envelopeOpen = "ENC[v"
)

var (
	ErrInvalidKey        = errors.New("invalid encryption key: must be 32 bytes")
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	ErrDecryptionFailed  = errors.New("decryption failed")
)

// keyCipher seals values with one key version. Output format is
// ENC[vN]:base64(nonce || ciphertext || tag).
type keyCipher struct {
	aead    cipher.AEAD
	version int
}

func newKeyCipher(key []byte, version int) (*keyCipher, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &keyCipher{aead: aead, version: version}, nil
}

func (c *keyCipher) seal(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return fmt.Sprintf("%s%d]:%s", envelopeOpen, c.version, base64.StdEncoding.EncodeToString(sealed)), nil
}

func (c *keyCipher) open(payload string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	ns := c.aead.NonceSize()
	if len(data) < ns+c.aead.Overhead() {
		return "", ErrInvalidCiphertext
	}
	plain, err := c.aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

// splitEnvelope returns the key version and base64 payload of a sealed value.
func splitEnvelope(s string) (int, string, error) {
	rest, ok := strings.CutPrefix(s, envelopeOpen)
	if !ok {
		return 0, "", ErrInvalidCiphertext
	}
	ver, payload, ok := strings.Cut(rest, "]:")
	if !ok {
		return 0, "", ErrInvalidCiphertext
	}
	var version int
	if _, err := fmt.Sscanf(ver, "%d", &version); err != nil || version <= 0 || fmt.Sprint(version) != ver {
		return 0, "", ErrInvalidCiphertext
	}
	return version, payload, nil
}

// ParseVersion returns the key version of a sealed value, or 0 when malformed.
func ParseVersion(s string) int {
	v, _, err := splitEnvelope(s)
	if err != nil {
		return 0
	}
	return v
}
