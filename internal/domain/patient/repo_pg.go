package patient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carevault/carevault/internal/platform/db"
	"github.com/carevault/carevault/internal/platform/hipaa"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// RepoPG stores patients in Postgres with PHI sealed at the row boundary.
type RepoPG struct {
	pool   *pgxpool.Pool
	cipher *hipaa.FieldCipher
}

func NewRepoPG(pool *pgxpool.Pool, cipher *hipaa.FieldCipher) *RepoPG {
	return &RepoPG{pool: pool, cipher: cipher}
}

func (r *RepoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const patientCols = `id, mrn, first_name, middle_name, last_name, preferred_name,
	date_of_birth, gender, ssn, phone, email,
	address, address_line2, city, state, zip,
	insurance_id, insurance_subscriber,
	emergency_contact_name, emergency_contact_phone,
	status, assigned_provider_id,
	encryption_metadata, created_at, updated_at`

func (r *RepoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	sealed, meta, err := r.cipher.Seal(p.phiValues(), hipaa.PatientPHIFields)
	if err != nil {
		return fmt.Errorf("patient create: %w", err)
	}
	metaJSON, err := marshalMeta(meta)
	if err != nil {
		return fmt.Errorf("patient create: %w", err)
	}

	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (
			id, mrn, first_name, middle_name, last_name, preferred_name,
			date_of_birth, gender, ssn, phone, email,
			address, address_line2, city, state, zip,
			insurance_id, insurance_subscriber,
			emergency_contact_name, emergency_contact_phone,
			status, assigned_provider_id, encryption_metadata
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
		RETURNING created_at, updated_at`,
		p.ID, p.MRN, sealed["first_name"], sealed["middle_name"], sealed["last_name"],
		sealed["preferred_name"], sealed["date_of_birth"], p.Gender, sealed["ssn"],
		sealed["phone"], sealed["email"], sealed["address"], sealed["address_line2"],
		sealed["city"], p.State, sealed["zip"], sealed["insurance_id"],
		sealed["insurance_subscriber"], sealed["emergency_contact_name"],
		sealed["emergency_contact_phone"], p.Status, p.AssignedProviderID, metaJSON,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("patient create: %w", err)
	}
	p.EncryptionMeta = meta
	return nil
}

func (r *RepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE id = $1`, id)
	return r.scanRevealed(row)
}

func (r *RepoPG) GetByMRN(ctx context.Context, mrn string) (*Patient, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE mrn = $1`, mrn)
	return r.scanRevealed(row)
}

func (r *RepoPG) Update(ctx context.Context, p *Patient) error {
	sealed, meta, err := r.cipher.Seal(p.phiValues(), hipaa.PatientPHIFields)
	if err != nil {
		return fmt.Errorf("patient update: %w", err)
	}
	metaJSON, err := marshalMeta(meta)
	if err != nil {
		return fmt.Errorf("patient update: %w", err)
	}

	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patients SET
			first_name = $2, middle_name = $3, last_name = $4, preferred_name = $5,
			date_of_birth = $6, gender = $7, ssn = $8, phone = $9, email = $10,
			address = $11, address_line2 = $12, city = $13, state = $14, zip = $15,
			insurance_id = $16, insurance_subscriber = $17,
			emergency_contact_name = $18, emergency_contact_phone = $19,
			status = $20, assigned_provider_id = $21, encryption_metadata = $22,
			updated_at = NOW()
		WHERE id = $1`,
		p.ID, sealed["first_name"], sealed["middle_name"], sealed["last_name"],
		sealed["preferred_name"], sealed["date_of_birth"], p.Gender, sealed["ssn"],
		sealed["phone"], sealed["email"], sealed["address"], sealed["address_line2"],
		sealed["city"], p.State, sealed["zip"], sealed["insurance_id"],
		sealed["insurance_subscriber"], sealed["emergency_contact_name"],
		sealed["emergency_contact_phone"], p.Status, p.AssignedProviderID, metaJSON)
	if err != nil {
		return fmt.Errorf("patient update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	p.EncryptionMeta = meta
	return nil
}

func (r *RepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("patient delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns one page of patients. Search matches the MRN exactly; name
// search is not offered against encrypted columns. Decryption is best-effort
// per record so one bad row never empties a roster page.
func (r *RepoPG) List(ctx context.Context, filter ListFilter) ([]*Patient, int, error) {
	where := []string{"1=1"}
	args := []any{}
	n := 1

	if filter.Search != "" {
		where = append(where, fmt.Sprintf("mrn = $%d", n))
		args = append(args, filter.Search)
		n++
	}
	if filter.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", n))
		args = append(args, filter.Status)
		n++
	}
	if filter.AssignedTo != nil {
		where = append(where, fmt.Sprintf("assigned_provider_id = $%d", n))
		args = append(args, *filter.AssignedTo)
		n++
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM patients WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("patient count: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM patients WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		patientCols, cond, n, n+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("patient list: %w", err)
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		p, err := r.scanRowRevealed(rows)
		if err != nil {
			return nil, 0, err
		}
		patients = append(patients, p)
	}
	return patients, total, rows.Err()
}

// listSealed returns every encrypted record without revealing it; the
// repair pass works on the stored form.
func (r *RepoPG) listSealed(ctx context.Context) ([]*Patient, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+patientCols+` FROM patients WHERE encryption_metadata IS NOT NULL ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("patient list sealed: %w", err)
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		patients = append(patients, p)
	}
	return patients, rows.Err()
}

func (r *RepoPG) scanRevealed(row pgx.Row) (*Patient, error) {
	p, err := scanPatient(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.applyPHIValues(r.cipher.Reveal(p.phiValues(), p.EncryptionMeta))
	return p, nil
}

func (r *RepoPG) scanRowRevealed(rows pgx.Rows) (*Patient, error) {
	p, err := scanPatient(rows)
	if err != nil {
		return nil, err
	}
	p.applyPHIValues(r.cipher.Reveal(p.phiValues(), p.EncryptionMeta))
	return p, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var (
		p        Patient
		metaJSON []byte
	)
	err := row.Scan(&p.ID, &p.MRN, &p.FirstName, &p.MiddleName, &p.LastName,
		&p.PreferredName, &p.DateOfBirth, &p.Gender, &p.SSN, &p.Phone, &p.Email,
		&p.Address, &p.AddressLine2, &p.City, &p.State, &p.Zip,
		&p.InsuranceID, &p.InsuranceSubscriber,
		&p.EmergencyContactName, &p.EmergencyContactPhone,
		&p.Status, &p.AssignedProviderID, &metaJSON, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(metaJSON) > 0 {
		meta := &hipaa.FieldMetadata{}
		if err := json.Unmarshal(metaJSON, meta); err != nil {
			return nil, fmt.Errorf("patient scan metadata: %w", err)
		}
		p.EncryptionMeta = meta
	}
	return &p, nil
}

func marshalMeta(meta *hipaa.FieldMetadata) ([]byte, error) {
	if meta == nil {
		return nil, nil
	}
	out, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal encryption metadata: %w", err)
	}
	return out, nil
}
