package hipaa

import (
	"testing"

	"github.com/rs/zerolog"
)

func testCipher(t *testing.T) *FieldCipher {
	t.Helper()
	k, err := NewKeyring(hexKey(0x21), "key-2024", 1)
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	return NewFieldCipher(k, zerolog.Nop())
}

func patientValues() map[string]string {
	return map[string]string{
		"first_name": "Ada",
		"last_name":  "Nguyen",
		"ssn":        "123-45-6789",
		"mrn":        "MRN-1001",
		"email":      "",
	}
}

func TestFieldCipher_SealAndReveal(t *testing.T) {
	fc := testCipher(t)
	in := patientValues()

	sealed, meta, err := fc.Seal(in, PatientPHIFields)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if meta == nil {
		t.Fatal("no metadata produced")
	}
	if meta.KeyID != "key-2024" || meta.KeyVersion != 1 || meta.Algorithm != AlgorithmAESGCM {
		t.Errorf("metadata = %+v", meta)
	}

	// Covered fields are ciphertext, non-PHI and empty fields untouched.
	if sealed["first_name"] == "Ada" || sealed["ssn"] == "123-45-6789" {
		t.Error("phi fields stored in plaintext")
	}
	if sealed["mrn"] != "MRN-1001" {
		t.Error("mrn must stay queryable plaintext")
	}
	if sealed["email"] != "" {
		t.Error("empty field was sealed")
	}
	if meta.Covers("mrn") || meta.Covers("email") {
		t.Errorf("metadata covers uncovered fields: %v", meta.Fields)
	}
	if !meta.Covers("ssn") {
		t.Errorf("metadata misses ssn: %v", meta.Fields)
	}

	// Input map must not change.
	if in["first_name"] != "Ada" {
		t.Error("Seal modified its input")
	}

	revealed := fc.Reveal(sealed, meta)
	for _, field := range []string{"first_name", "last_name", "ssn"} {
		if revealed[field] != in[field] {
			t.Errorf("revealed %s = %q, want %q", field, revealed[field], in[field])
		}
	}
}

func TestFieldCipher_PassthroughWithoutKey(t *testing.T) {
	fc := NewFieldCipher(nil, zerolog.Nop())
	if fc.Enabled() {
		t.Fatal("cipher with nil keyring reports enabled")
	}

	in := patientValues()
	sealed, meta, err := fc.Seal(in, PatientPHIFields)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if meta != nil {
		t.Error("passthrough produced metadata")
	}
	if sealed["ssn"] != in["ssn"] {
		t.Error("passthrough altered a value")
	}
}

func TestFieldCipher_RevealWithoutMetadata(t *testing.T) {
	fc := testCipher(t)
	in := patientValues()
	out := fc.Reveal(in, nil)
	for k, v := range in {
		if out[k] != v {
			t.Errorf("pre-encryption row altered: %s", k)
		}
	}
}

func TestFieldCipher_RevealBestEffort(t *testing.T) {
	fc := testCipher(t)
	sealed, meta, err := fc.Seal(patientValues(), PatientPHIFields)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	// Corrupt one field; the others must still come back.
	sealed["ssn"] = "AAAA" + sealed["ssn"][4:]
	revealed := fc.Reveal(sealed, meta)

	if revealed["first_name"] != "Ada" || revealed["last_name"] != "Nguyen" {
		t.Error("one corrupt field hid the rest of the record")
	}
	if revealed["ssn"] != sealed["ssn"] {
		t.Error("undecryptable field was not returned as stored")
	}
}

func TestFieldCipher_RevealUnknownKeyKeepsCiphertext(t *testing.T) {
	fc := testCipher(t)
	sealed, meta, _ := fc.Seal(patientValues(), PatientPHIFields)

	meta.KeyID = "retired-key"
	revealed := fc.Reveal(sealed, meta)
	if revealed["first_name"] != sealed["first_name"] {
		t.Error("field sealed under a missing key must stay ciphertext")
	}
}

func TestFieldCipher_NeedsReseal(t *testing.T) {
	fc := testCipher(t)
	_, meta, _ := fc.Seal(patientValues(), PatientPHIFields)

	if fc.NeedsReseal(meta) {
		t.Error("record under the active key flagged for reseal")
	}
	meta.KeyVersion = 0
	if !fc.NeedsReseal(meta) {
		t.Error("record under an old key version not flagged")
	}
	if fc.NeedsReseal(nil) {
		t.Error("unencrypted record flagged for reseal")
	}
}
