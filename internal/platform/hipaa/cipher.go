package hipaa

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// FieldMetadata is stored alongside each encrypted record and describes
// exactly how its fields were sealed. It is the source of truth on the read
// path: key selection comes from here, never from runtime configuration.
type FieldMetadata struct {
	KeyID      string   `json:"keyId"`
	KeyVersion int      `json:"keyVersion"`
	Algorithm  string   `json:"algorithm"`
	Fields     []string `json:"fields"`
}

// Covers reports whether the metadata marks the named field as encrypted.
func (m *FieldMetadata) Covers(field string) bool {
	if m == nil {
		return false
	}
	for _, f := range m.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// FieldCipher seals and reveals the PHI fields of a record around its
// storage boundary.
//
// With no keyring configured it is a passthrough: values are stored and
// returned as-is and no metadata is produced. With a keyring, a failure to
// seal is a hard error so plaintext PHI is never written where ciphertext
// was intended. Revealing is best-effort per field: a value that cannot be
// decrypted (missing legacy key, corrupt ciphertext) is returned as the
// stored ciphertext rather than failing the whole record.
type FieldCipher struct {
	keys *Keyring
	log  zerolog.Logger
}

// NewFieldCipher builds a cipher. keys may be nil to disable encryption.
func NewFieldCipher(keys *Keyring, log zerolog.Logger) *FieldCipher {
	if keys == nil {
		log.Warn().Msg("PHI field encryption disabled: no encryption key configured")
	}
	return &FieldCipher{keys: keys, log: log}
}

// Enabled reports whether a keyring is configured.
func (fc *FieldCipher) Enabled() bool {
	return fc != nil && fc.keys != nil
}

// Seal encrypts the named fields of values in place of their plaintext and
// returns the metadata describing what was sealed. Empty values are skipped
// and left out of the metadata. The input map is not modified.
func (fc *FieldCipher) Seal(values map[string]string, fields []string) (map[string]string, *FieldMetadata, error) {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}

	if !fc.Enabled() {
		return out, nil, nil
	}

	keyID, version := fc.keys.ActiveKeyID()
	meta := &FieldMetadata{
		KeyID:      keyID,
		KeyVersion: version,
		Algorithm:  AlgorithmAESGCM,
	}

	for _, field := range fields {
		plain, ok := out[field]
		if !ok || plain == "" {
			continue
		}
		sealed, err := fc.keys.Encrypt(plain)
		if err != nil {
			return nil, nil, fmt.Errorf("seal field %s: %w", field, err)
		}
		out[field] = sealed
		meta.Fields = append(meta.Fields, field)
	}
	sort.Strings(meta.Fields)

	if len(meta.Fields) == 0 {
		return out, nil, nil
	}
	return out, meta, nil
}

// Reveal decrypts the fields the metadata marks as sealed. Decryption
// failures are logged per field and the stored value is passed through
// unchanged, so one unreadable field never hides the rest of the record.
// Records without metadata are returned untouched (pre-encryption rows).
func (fc *FieldCipher) Reveal(values map[string]string, meta *FieldMetadata) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}

	if meta == nil || len(meta.Fields) == 0 || !fc.Enabled() {
		return out
	}

	for _, field := range meta.Fields {
		sealed, ok := out[field]
		if !ok || sealed == "" {
			continue
		}
		plain, err := fc.keys.Decrypt(sealed, meta.KeyID, meta.KeyVersion)
		if err != nil {
			fc.log.Warn().Err(err).
				Str("field", field).
				Str("key_id", meta.KeyID).
				Int("key_version", meta.KeyVersion).
				Msg("phi field could not be decrypted, returning stored value")
			continue
		}
		out[field] = plain
	}
	return out
}

// NeedsReseal reports whether a record's metadata references a key other
// than the active one, making it a candidate for re-encryption.
func (fc *FieldCipher) NeedsReseal(meta *FieldMetadata) bool {
	if !fc.Enabled() || meta == nil {
		return false
	}
	return !fc.keys.IsCurrent(meta.KeyID, meta.KeyVersion)
}
