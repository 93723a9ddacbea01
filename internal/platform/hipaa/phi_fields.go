package hipaa

// PatientPHIFields lists the patient columns that are encrypted at rest.
// The demographic identifiers here cover the Safe Harbor categories a
// clinic record actually stores: names, birth date, SSN, contact details,
// address, insurance and emergency contact. MRN is deliberately excluded;
// it is the lookup key and must stay queryable. State is coarse enough to
// stay plaintext.
var PatientPHIFields = []string{
	"first_name",
	"middle_name",
	"last_name",
	"preferred_name",
	"date_of_birth",
	"ssn",
	"phone",
	"email",
	"address",
	"address_line2",
	"city",
	"zip",
	"insurance_id",
	"insurance_subscriber",
	"emergency_contact_name",
	"emergency_contact_phone",
}

// phiDetailKeys are the payload keys scrubbed from audit detail before it is
// persisted. Matching is case-insensitive and ignores underscores, so
// "firstName", "first_name" and "FIRSTNAME" all hit the same entry. The set
// covers demographic identifiers, credentials, and the clinical narrative
// keys (notes, diagnoses, medications) that a chart payload carries; MRN is
// a direct identifier in an audit row even though the column itself stays
// queryable.
var phiDetailKeys = map[string]struct{}{
	"name":                  {},
	"fullname":              {},
	"firstname":             {},
	"lastname":              {},
	"middlename":            {},
	"maidenname":            {},
	"preferredname":         {},
	"dateofbirth":           {},
	"dob":                   {},
	"birthdate":             {},
	"ssn":                   {},
	"socialsecuritynumber":  {},
	"mrn":                   {},
	"phone":                 {},
	"phonenumber":           {},
	"mobile":                {},
	"email":                 {},
	"address":               {},
	"addressline1":          {},
	"addressline2":          {},
	"street":                {},
	"city":                  {},
	"state":                 {},
	"zip":                   {},
	"zipcode":               {},
	"password":              {},
	"passwordhash":          {},
	"token":                 {},
	"secret":                {},
	"insuranceid":           {},
	"insurancesubscriber":   {},
	"policynumber":          {},
	"emergencycontactname":  {},
	"emergencycontactphone": {},
	"note":                  {},
	"notes":                 {},
	"diagnosis":             {},
	"assessment":            {},
	"plan":                  {},
	"medication":            {},
	"allergy":               {},
	"problem":               {},
}
