package patient

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/carevault/carevault/internal/platform/hipaa"
)

// RepairReport summarizes one pass of the PHI repair job.
type RepairReport struct {
	Scanned  int
	Repaired int
	Resealed int
	Skipped  int
}

// RepairService walks every encrypted patient row and fixes two classes of
// damage: rows whose ciphertext can no longer be decrypted (lost key,
// corrupted value) get placeholder demographics derived from the MRN, and
// rows sealed under a retired key are re-sealed with the active one.
type RepairService struct {
	store  sealedStore
	cipher *hipaa.FieldCipher
	audit  Auditor
	log    zerolog.Logger
}

// sealedStore is the slice of the Postgres repository the repair pass
// touches: raw sealed rows in, repaired plaintext out (Update re-seals).
type sealedStore interface {
	listSealed(ctx context.Context) ([]*Patient, error)
	Update(ctx context.Context, p *Patient) error
}

func NewRepairService(repo *RepoPG, cipher *hipaa.FieldCipher, audit Auditor, log zerolog.Logger) *RepairService {
	return &RepairService{store: repo, cipher: cipher, audit: audit, log: log}
}

func (s *RepairService) Run(ctx context.Context) (RepairReport, error) {
	var report RepairReport
	if !s.cipher.Enabled() {
		return report, fmt.Errorf("phi repair: no encryption key configured")
	}

	patients, err := s.store.listSealed(ctx)
	if err != nil {
		return report, err
	}

	for _, p := range patients {
		report.Scanned++
		sealed := p.phiValues()
		revealed := s.cipher.Reveal(sealed, p.EncryptionMeta)

		failed := failedFields(sealed, revealed, p.EncryptionMeta)
		switch {
		case len(failed) > 0:
			s.log.Warn().
				Str("patient_id", p.ID.String()).
				Strs("fields", failed).
				Msg("undecryptable fields, applying placeholders")
			applyPlaceholders(revealed, failed, p.MRN)
			report.Repaired++
			if s.audit != nil {
				s.audit.Enqueue(&hipaa.Event{
					Action:     "patient.phi_repaired",
					EntityType: "patient",
					EntityID:   p.ID.String(),
					Detail:     map[string]any{"mrn": p.MRN, "fields": failed},
				})
			}
		case s.cipher.NeedsReseal(p.EncryptionMeta):
			report.Resealed++
		default:
			report.Skipped++
			continue
		}

		p.applyPHIValues(revealed)
		if err := s.store.Update(ctx, p); err != nil {
			return report, fmt.Errorf("phi repair: patient %s: %w", p.ID, err)
		}
	}
	return report, nil
}

// failedFields returns the covered fields whose ciphertext survived Reveal
// unchanged, which means no key on the ring could open them.
func failedFields(sealed, revealed map[string]string, meta *hipaa.FieldMetadata) []string {
	if meta == nil {
		return nil
	}
	var failed []string
	for _, f := range hipaa.PatientPHIFields {
		if meta.Covers(f) && sealed[f] != "" && revealed[f] == sealed[f] {
			failed = append(failed, f)
		}
	}
	return failed
}

// applyPlaceholders replaces unrecoverable values. Names get a generic
// placeholder keyed to the MRN so staff can still look the chart up; other
// unrecoverable fields are cleared rather than left as ciphertext.
func applyPlaceholders(revealed map[string]string, failed []string, mrn string) {
	for _, f := range failed {
		switch f {
		case "first_name":
			revealed[f] = "Patient"
		case "last_name":
			// The stored MRN already carries its prefix.
			revealed[f] = mrn
		default:
			revealed[f] = ""
		}
	}
}
