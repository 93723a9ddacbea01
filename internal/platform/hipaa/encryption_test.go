package hipaa

import (
	"strings"
	"testing"
)

func testKey(b byte) []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = b
	}
	return key
}

func TestPHIEncryptor_RoundTrip(t *testing.T) {
	enc, err := NewPHIEncryptor(testKey(0x01))
	if err != nil {
		t.Fatalf("NewPHIEncryptor: %v", err)
	}

	for _, plaintext := range []string{"", "123-45-6789", "Maria de la Cruz", strings.Repeat("x", 4096)} {
		sealed, err := enc.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", plaintext, err)
		}
		if sealed == plaintext && plaintext != "" {
			t.Fatal("ciphertext equals plaintext")
		}
		got, err := enc.Decrypt(sealed)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if got != plaintext {
			t.Errorf("round trip = %q, want %q", got, plaintext)
		}
	}
}

func TestPHIEncryptor_NonceUniqueness(t *testing.T) {
	enc, _ := NewPHIEncryptor(testKey(0x01))
	a, _ := enc.Encrypt("same value")
	b, _ := enc.Encrypt("same value")
	if a == b {
		t.Fatal("two encryptions of the same value produced identical ciphertext")
	}
}

func TestPHIEncryptor_KeyValidation(t *testing.T) {
	for _, n := range []int{0, 16, 31, 33, 64} {
		if _, err := NewPHIEncryptor(make([]byte, n)); err == nil {
			t.Errorf("key of %d bytes accepted", n)
		}
	}
}

func TestPHIEncryptor_DecryptFailures(t *testing.T) {
	enc, _ := NewPHIEncryptor(testKey(0x01))
	other, _ := NewPHIEncryptor(testKey(0x02))

	sealed, _ := enc.Encrypt("secret")

	if _, err := other.Decrypt(sealed); err == nil {
		t.Error("wrong key decrypted successfully")
	}
	if _, err := enc.Decrypt("not base64!!"); err == nil {
		t.Error("invalid base64 accepted")
	}
	if _, err := enc.Decrypt("c2hvcnQ="); err == nil {
		t.Error("truncated ciphertext accepted")
	}

	// Flip one ciphertext byte: the GCM tag must catch it.
	tampered := []byte(sealed)
	tampered[len(tampered)-5] ^= 'x'
	if _, err := enc.Decrypt(string(tampered)); err == nil {
		t.Error("tampered ciphertext accepted")
	}
}
