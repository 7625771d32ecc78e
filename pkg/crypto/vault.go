package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sort"

	"golang.org/x/crypto/hkdf"
)

// EnvKeyPrefix names the master key variables: MASTER_ENCRYPTION_KEY is
// version 1, MASTER_ENCRYPTION_KEY_V2 version 2, and so on.
const EnvKeyPrefix = "MASTER_ENCRYPTION_KEY"

const maxKeyVersion = 10

var ErrKeyNotFound = errors.New("encryption key not found")

// Sealer encrypts and decrypts credential strings.
type Sealer interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Vault holds every configured key version. New values are sealed with the
// highest version; old values stay readable until re-encrypted.
type Vault struct {
	current int
	ciphers map[int]*keyCipher
}

var _ Sealer = (*Vault)(nil)

// NewVault builds a vault from raw 32-byte keys indexed by version.
func NewVault(keys map[int][]byte) (*Vault, error) {
	if len(keys) == 0 {
		return nil, ErrKeyNotFound
	}
	v := &Vault{ciphers: make(map[int]*keyCipher, len(keys))}
	for ver, key := range keys {
		if ver <= 0 {
			return nil, fmt.Errorf("key version %d must be positive", ver)
		}
		c, err := newKeyCipher(key, ver)
		if err != nil {
			return nil, fmt.Errorf("key v%d: %w", ver, err)
		}
		v.ciphers[ver] = c
		if ver > v.current {
			v.current = ver
		}
	}
	return v, nil
}

// VaultFromEnv loads base64 keys through lookup (os.LookupEnv in production).
// Version 1 is required.
func VaultFromEnv(lookup func(string) (string, bool)) (*Vault, error) {
	keys := make(map[int][]byte)
	for ver := 1; ver <= maxKeyVersion; ver++ {
		name := EnvKeyPrefix
		if ver > 1 {
			name = fmt.Sprintf("%s_V%d", EnvKeyPrefix, ver)
		}
		raw, ok := lookup(name)
		if !ok || raw == "" {
			if ver == 1 {
				return nil, fmt.Errorf("%s: %w", name, ErrKeyNotFound)
			}
			continue
		}
		key, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		keys[ver] = key
	}
	return NewVault(keys)
}

// DerivedVault derives a single version-1 key from secret with HKDF-SHA256.
// Intended for local development when no master key is configured.
func DerivedVault(secret string) (*Vault, error) {
	if secret == "" {
		return nil, ErrKeyNotFound
	}
	key := make([]byte, KeySize)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte("rebalancer-core credential vault"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return NewVault(map[int][]byte{1: key})
}

// Encrypt seals plaintext with the current key version.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	return v.ciphers[v.current].seal(plaintext)
}

// Decrypt opens a value sealed by any loaded key version.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	ver, payload, err := splitEnvelope(ciphertext)
	if err != nil {
		return "", err
	}
	c, ok := v.ciphers[ver]
	if !ok {
		return "", fmt.Errorf("key version %d not available: %w", ver, ErrKeyNotFound)
	}
	return c.open(payload)
}

// ReEncrypt moves a sealed value onto the current key version.
func (v *Vault) ReEncrypt(ciphertext string) (string, error) {
	if ParseVersion(ciphertext) == v.current {
		return ciphertext, nil
	}
	plain, err := v.Decrypt(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decrypt for re-encryption: %w", err)
	}
	return v.Encrypt(plain)
}

// CurrentVersion is the version used for new values.
func (v *Vault) CurrentVersion() int { return v.current }

// Versions lists loaded key versions in ascending order.
func (v *Vault) Versions() []int {
	out := make([]int, 0, len(v.ciphers))
	for ver := range v.ciphers {
		out = append(out, ver)
	}
	sort.Ints(out)
	return out
}

// GenerateKey returns a random base64-encoded AES-256 key.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate random key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
