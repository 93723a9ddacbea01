package hipaa

import (
	"encoding/hex"
	"fmt"
	"sync"
)

// AlgorithmAESGCM is the only algorithm the keyring produces. The constant
// is written into field metadata so stored records are self-describing.
const AlgorithmAESGCM = "aes-256-gcm"

// Keyring holds the active encryption key plus the legacy keys still needed
// to read older records. Every key has a stable identifier and a version;
// both are written into the metadata of each sealed record so decryption
// never has to guess which key was used.
type Keyring struct {
	mu       sync.RWMutex
	active   *PHIEncryptor
	activeID string
	activeV  int
	legacy   map[string]*PHIEncryptor // "keyID:version" -> encryptor
}

func legacyKey(keyID string, version int) string {
	return fmt.Sprintf("%s:%d", keyID, version)
}

// NewKeyring creates a keyring from a 64-hex-char AES-256 key.
func NewKeyring(hexKey, keyID string, version int) (*Keyring, error) {
	enc, err := encryptorFromHex(hexKey)
	if err != nil {
		return nil, fmt.Errorf("keyring: active key %q: %w", keyID, err)
	}
	return &Keyring{
		active:   enc,
		activeID: keyID,
		activeV:  version,
		legacy:   make(map[string]*PHIEncryptor),
	}, nil
}

// AddLegacyKey registers a retired key for decryption only.
func (k *Keyring) AddLegacyKey(hexKey, keyID string, version int) error {
	enc, err := encryptorFromHex(hexKey)
	if err != nil {
		return fmt.Errorf("keyring: legacy key %q v%d: %w", keyID, version, err)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.legacy[legacyKey(keyID, version)] = enc
	return nil
}

// ActiveKeyID returns the identifier and version records are sealed with.
func (k *Keyring) ActiveKeyID() (string, int) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.activeID, k.activeV
}

// Encrypt seals a value with the active key.
func (k *Keyring) Encrypt(plaintext string) (string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.active.Encrypt(plaintext)
}

// Decrypt opens a value sealed under the named key. The active key is tried
// when the identifiers match; otherwise the legacy set is consulted.
func (k *Keyring) Decrypt(ciphertext, keyID string, version int) (string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if keyID == k.activeID && version == k.activeV {
		return k.active.Decrypt(ciphertext)
	}
	enc, ok := k.legacy[legacyKey(keyID, version)]
	if !ok {
		return "", fmt.Errorf("keyring: no key %q v%d", keyID, version)
	}
	return enc.Decrypt(ciphertext)
}

// IsCurrent reports whether records sealed under the given key identifier
// still use the active key. Stale records are candidates for re-encryption.
func (k *Keyring) IsCurrent(keyID string, version int) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return keyID == k.activeID && version == k.activeV
}

func encryptorFromHex(hexKey string) (*PHIEncryptor, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("key is not valid hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes (64 hex chars), got %d bytes", len(raw))
	}
	return NewPHIEncryptor(raw)
}
