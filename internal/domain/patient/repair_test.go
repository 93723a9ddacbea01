package patient

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carevault/carevault/internal/platform/hipaa"
)

const (
	repairKeyA = "ab" // sealed historical rows
	repairKeyB = "cd" // active key
	repairKeyC = "ef" // key that was lost
)

func repairCipher(t *testing.T, hexByte, keyID string, version int) *hipaa.FieldCipher {
	t.Helper()
	ring, err := hipaa.NewKeyring(strings.Repeat(hexByte, 32), keyID, version)
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	return hipaa.NewFieldCipher(ring, zerolog.Nop())
}

// sealWith encrypts a patient's PHI in place the way the repository would
// store it.
func sealWith(t *testing.T, cipher *hipaa.FieldCipher, p *Patient) {
	t.Helper()
	sealed, meta, err := cipher.Seal(p.phiValues(), hipaa.PatientPHIFields)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	p.applyPHIValues(sealed)
	p.EncryptionMeta = meta
}

type fakeSealedStore struct {
	rows    []*Patient
	updated []*Patient
}

func (s *fakeSealedStore) listSealed(context.Context) ([]*Patient, error) {
	return s.rows, nil
}

func (s *fakeSealedStore) Update(_ context.Context, p *Patient) error {
	cp := *p
	s.updated = append(s.updated, &cp)
	return nil
}

func TestRepair_SkipsHealthyRows(t *testing.T) {
	cipher := repairCipher(t, repairKeyB, "primary", 2)
	p := &Patient{ID: uuid.New(), MRN: "MRN-OK", FirstName: "Jane", LastName: "Smith"}
	sealWith(t, cipher, p)

	store := &fakeSealedStore{rows: []*Patient{p}}
	svc := &RepairService{store: store, cipher: cipher, log: zerolog.Nop()}

	report, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Scanned != 1 || report.Skipped != 1 || report.Repaired != 0 || report.Resealed != 0 {
		t.Errorf("report = %+v, want 1 scanned 1 skipped", report)
	}
	if len(store.updated) != 0 {
		t.Errorf("healthy row was rewritten")
	}
}

func TestRepair_ResealsLegacyKeyRows(t *testing.T) {
	oldCipher := repairCipher(t, repairKeyA, "primary", 1)
	p := &Patient{ID: uuid.New(), MRN: "MRN-OLD", FirstName: "Jane", LastName: "Smith", SSN: "123-45-6789"}
	sealWith(t, oldCipher, p)

	ring, err := hipaa.NewKeyring(strings.Repeat(repairKeyB, 32), "primary", 2)
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	if err := ring.AddLegacyKey(strings.Repeat(repairKeyA, 32), "primary", 1); err != nil {
		t.Fatalf("AddLegacyKey: %v", err)
	}
	cipher := hipaa.NewFieldCipher(ring, zerolog.Nop())

	store := &fakeSealedStore{rows: []*Patient{p}}
	svc := &RepairService{store: store, cipher: cipher, log: zerolog.Nop()}

	report, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Resealed != 1 || report.Repaired != 0 {
		t.Fatalf("report = %+v, want 1 resealed", report)
	}
	if len(store.updated) != 1 {
		t.Fatalf("updated %d rows, want 1", len(store.updated))
	}
	got := store.updated[0]
	if got.FirstName != "Jane" || got.LastName != "Smith" || got.SSN != "123-45-6789" {
		t.Errorf("resealed row lost plaintext: %+v", got)
	}
}

func TestRepair_PlaceholdersForLostKey(t *testing.T) {
	lostCipher := repairCipher(t, repairKeyC, "lost", 1)
	p := &Patient{
		ID: uuid.New(), MRN: "MRN-GONE",
		FirstName: "Jane", LastName: "Smith",
		SSN: "123-45-6789", Phone: "555-0100",
	}
	sealWith(t, lostCipher, p)

	cipher := repairCipher(t, repairKeyB, "primary", 2)
	store := &fakeSealedStore{rows: []*Patient{p}}
	audit := &captureAuditor{}
	svc := &RepairService{store: store, cipher: cipher, audit: audit, log: zerolog.Nop()}

	report, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Repaired != 1 {
		t.Fatalf("report = %+v, want 1 repaired", report)
	}
	if got := audit.actions(); len(got) != 1 || got[0] != "patient.phi_repaired" {
		t.Errorf("audit actions = %v, want [patient.phi_repaired]", got)
	}
	if len(store.updated) != 1 {
		t.Fatalf("updated %d rows, want 1", len(store.updated))
	}
	got := store.updated[0]
	if got.FirstName != "Patient" {
		t.Errorf("FirstName = %q, want placeholder", got.FirstName)
	}
	if got.LastName != "MRN-GONE" {
		t.Errorf("LastName = %q, want the record's MRN as placeholder", got.LastName)
	}
	if got.SSN != "" || got.Phone != "" {
		t.Errorf("unrecoverable fields not cleared: ssn=%q phone=%q", got.SSN, got.Phone)
	}
	if got.MRN != "MRN-GONE" {
		t.Errorf("MRN changed to %q", got.MRN)
	}
}

func TestRepair_NoKeyConfigured(t *testing.T) {
	cipher := hipaa.NewFieldCipher(nil, zerolog.Nop())
	svc := &RepairService{store: &fakeSealedStore{}, cipher: cipher, log: zerolog.Nop()}
	if _, err := svc.Run(context.Background()); err == nil {
		t.Fatal("Run with no key succeeded, want error")
	}
}
