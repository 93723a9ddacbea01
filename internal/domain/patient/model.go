package patient

import (
	"time"

	"github.com/google/uuid"

	"github.com/carevault/carevault/internal/platform/hipaa"
)

// Patient is one demographic record. The PHI fields (names, birth date,
// SSN, contact details, address, insurance, emergency contact) are
// encrypted at rest; EncryptionMeta records which key sealed them. MRN
// stays plaintext as the lookup key.
type Patient struct {
	ID            uuid.UUID `json:"id"`
	MRN           string    `json:"mrn"`
	FirstName     string    `json:"first_name"`
	MiddleName    string    `json:"middle_name,omitempty"`
	LastName      string    `json:"last_name"`
	PreferredName string    `json:"preferred_name,omitempty"`
	DateOfBirth   string    `json:"date_of_birth,omitempty"` // YYYY-MM-DD
	Gender        string    `json:"gender,omitempty"`
	SSN           string    `json:"ssn,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	Email         string    `json:"email,omitempty"`
	Address       string    `json:"address,omitempty"`
	AddressLine2  string    `json:"address_line2,omitempty"`
	City          string    `json:"city,omitempty"`
	State         string    `json:"state,omitempty"`
	Zip           string    `json:"zip,omitempty"`

	InsuranceID         string `json:"insurance_id,omitempty"`
	InsuranceSubscriber string `json:"insurance_subscriber,omitempty"`

	EmergencyContactName  string `json:"emergency_contact_name,omitempty"`
	EmergencyContactPhone string `json:"emergency_contact_phone,omitempty"`

	Status string `json:"status"`

	// AssignedProviderID scopes visibility for clinicians with ASSIGNED
	// patient scope.
	AssignedProviderID *uuid.UUID `json:"assigned_provider_id,omitempty"`

	EncryptionMeta *hipaa.FieldMetadata `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// phiValues collects the encryptable fields into the map form the field
// cipher works on.
func (p *Patient) phiValues() map[string]string {
	return map[string]string{
		"first_name":              p.FirstName,
		"middle_name":             p.MiddleName,
		"last_name":               p.LastName,
		"preferred_name":          p.PreferredName,
		"date_of_birth":           p.DateOfBirth,
		"ssn":                     p.SSN,
		"phone":                   p.Phone,
		"email":                   p.Email,
		"address":                 p.Address,
		"address_line2":           p.AddressLine2,
		"city":                    p.City,
		"zip":                     p.Zip,
		"insurance_id":            p.InsuranceID,
		"insurance_subscriber":    p.InsuranceSubscriber,
		"emergency_contact_name":  p.EmergencyContactName,
		"emergency_contact_phone": p.EmergencyContactPhone,
	}
}

// applyPHIValues writes cipher output back onto the record.
func (p *Patient) applyPHIValues(values map[string]string) {
	p.FirstName = values["first_name"]
	p.MiddleName = values["middle_name"]
	p.LastName = values["last_name"]
	p.PreferredName = values["preferred_name"]
	p.DateOfBirth = values["date_of_birth"]
	p.SSN = values["ssn"]
	p.Phone = values["phone"]
	p.Email = values["email"]
	p.Address = values["address"]
	p.AddressLine2 = values["address_line2"]
	p.City = values["city"]
	p.Zip = values["zip"]
	p.InsuranceID = values["insurance_id"]
	p.InsuranceSubscriber = values["insurance_subscriber"]
	p.EmergencyContactName = values["emergency_contact_name"]
	p.EmergencyContactPhone = values["emergency_contact_phone"]
}

// ListFilter narrows List queries.
type ListFilter struct {
	Search     string // matches MRN exactly or names when unencrypted
	Status     string
	AssignedTo *uuid.UUID // restrict to one provider's panel
	Limit      int
	Offset     int
}
