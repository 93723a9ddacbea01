package patient

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/carevault/carevault/internal/platform/auth"
	"github.com/carevault/carevault/internal/platform/hipaa"
)

type memRepo struct {
	mu       sync.Mutex
	patients map[uuid.UUID]*Patient
}

func newMemRepo() *memRepo {
	return &memRepo{patients: map[uuid.UUID]*Patient{}}
}

func (r *memRepo) Create(_ context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.patients[p.ID] = &cp
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memRepo) GetByMRN(_ context.Context, mrn string) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.patients {
		if p.MRN == mrn {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memRepo) Update(_ context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.patients[p.ID]; !ok {
		return ErrNotFound
	}
	cp := *p
	r.patients[p.ID] = &cp
	return nil
}

func (r *memRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.patients[id]; !ok {
		return ErrNotFound
	}
	delete(r.patients, id)
	return nil
}

func (r *memRepo) List(_ context.Context, filter ListFilter) ([]*Patient, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Patient
	for _, p := range r.patients {
		if filter.AssignedTo != nil {
			if p.AssignedProviderID == nil || *p.AssignedProviderID != *filter.AssignedTo {
				continue
			}
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, len(out), nil
}

type captureAuditor struct {
	mu     sync.Mutex
	events []*hipaa.Event
}

func (a *captureAuditor) Enqueue(e *hipaa.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func (a *captureAuditor) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.events))
	for i, e := range a.events {
		out[i] = e.Action
	}
	return out
}

func adminPrincipal() *auth.Principal {
	return auth.NewPrincipal(uuid.New(), "admin@clinic.test", "Admin", nil, "admin", true, nil)
}

func clinicianPrincipal() *auth.Principal {
	return auth.NewPrincipal(uuid.New(), "doc@clinic.test", "Dr Doe", nil, "clinician", false,
		auth.DefaultPrivileges(auth.RoleClinician))
}

func TestService_Create_GeneratesMRNAndDefaults(t *testing.T) {
	repo := newMemRepo()
	audit := &captureAuditor{}
	svc := NewService(repo, audit)

	p := &Patient{FirstName: "Jane", LastName: "Smith"}
	if err := svc.Create(context.Background(), adminPrincipal(), p); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !strings.HasPrefix(p.MRN, "MRN-") {
		t.Errorf("MRN = %q, want MRN- prefix", p.MRN)
	}
	if p.Status != "active" {
		t.Errorf("Status = %q, want active", p.Status)
	}
	if got := audit.actions(); len(got) != 1 || got[0] != "patient.created" {
		t.Errorf("audit actions = %v, want [patient.created]", got)
	}
}

func TestService_Create_RequiresName(t *testing.T) {
	svc := NewService(newMemRepo(), &captureAuditor{})
	for _, p := range []*Patient{
		{LastName: "Smith"},
		{FirstName: "Jane"},
		{FirstName: "  ", LastName: "Smith"},
	} {
		if err := svc.Create(context.Background(), adminPrincipal(), p); err == nil {
			t.Errorf("Create(%+v) succeeded, want error", p)
		}
	}
}

func TestService_Create_KeepsProvidedMRN(t *testing.T) {
	svc := NewService(newMemRepo(), &captureAuditor{})
	p := &Patient{FirstName: "Jane", LastName: "Smith", MRN: "MRN-CUSTOM01"}
	if err := svc.Create(context.Background(), adminPrincipal(), p); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.MRN != "MRN-CUSTOM01" {
		t.Errorf("MRN = %q, want MRN-CUSTOM01", p.MRN)
	}
}

func TestService_Get_AssignedScope(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, &captureAuditor{})
	doc := clinicianPrincipal()

	docID := doc.ID
	mine := &Patient{ID: uuid.New(), MRN: "MRN-A", FirstName: "A", LastName: "A", AssignedProviderID: &docID}
	other := &Patient{ID: uuid.New(), MRN: "MRN-B", FirstName: "B", LastName: "B"}
	repo.Create(context.Background(), mine)
	repo.Create(context.Background(), other)

	if _, err := svc.Get(context.Background(), doc, mine.ID); err != nil {
		t.Errorf("Get assigned patient: %v", err)
	}
	if _, err := svc.Get(context.Background(), doc, other.ID); err != ErrDenied {
		t.Errorf("Get unassigned patient err = %v, want ErrDenied", err)
	}
	// Admins see everything.
	if _, err := svc.Get(context.Background(), adminPrincipal(), other.ID); err != nil {
		t.Errorf("Get as admin: %v", err)
	}
}

func TestService_List_ForcesPanelFilter(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, &captureAuditor{})
	doc := clinicianPrincipal()

	docID := doc.ID
	otherID := uuid.New()
	repo.Create(context.Background(), &Patient{ID: uuid.New(), MRN: "MRN-1", FirstName: "A", LastName: "A", AssignedProviderID: &docID})
	repo.Create(context.Background(), &Patient{ID: uuid.New(), MRN: "MRN-2", FirstName: "B", LastName: "B", AssignedProviderID: &otherID})
	repo.Create(context.Background(), &Patient{ID: uuid.New(), MRN: "MRN-3", FirstName: "C", LastName: "C"})

	// Even asking for someone else's panel comes back as your own.
	patients, total, err := svc.List(context.Background(), doc, ListFilter{AssignedTo: &otherID})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 || len(patients) != 1 || patients[0].MRN != "MRN-1" {
		t.Errorf("List for clinician = %d rows, want only own panel", len(patients))
	}

	_, total, err = svc.List(context.Background(), adminPrincipal(), ListFilter{})
	if err != nil {
		t.Fatalf("List as admin: %v", err)
	}
	if total != 3 {
		t.Errorf("List as admin total = %d, want 3", total)
	}
}

func TestService_Update_ScopeAndAudit(t *testing.T) {
	repo := newMemRepo()
	audit := &captureAuditor{}
	svc := NewService(repo, audit)
	doc := clinicianPrincipal()

	other := &Patient{ID: uuid.New(), MRN: "MRN-X", FirstName: "X", LastName: "X"}
	repo.Create(context.Background(), other)

	upd := &Patient{ID: other.ID, FirstName: "Changed", LastName: "X"}
	if err := svc.Update(context.Background(), doc, upd); err != ErrDenied {
		t.Fatalf("Update out of scope err = %v, want ErrDenied", err)
	}
	if len(audit.actions()) != 0 {
		t.Errorf("denied update produced audit events: %v", audit.actions())
	}

	if err := svc.Update(context.Background(), adminPrincipal(), upd); err != nil {
		t.Fatalf("Update as admin: %v", err)
	}
	if upd.MRN != "MRN-X" {
		t.Errorf("Update dropped MRN, got %q", upd.MRN)
	}
	if got := audit.actions(); len(got) != 1 || got[0] != "patient.updated" {
		t.Errorf("audit actions = %v, want [patient.updated]", got)
	}
}

func TestService_Delete_Audits(t *testing.T) {
	repo := newMemRepo()
	audit := &captureAuditor{}
	svc := NewService(repo, audit)

	p := &Patient{ID: uuid.New(), MRN: "MRN-D", FirstName: "D", LastName: "D"}
	repo.Create(context.Background(), p)

	if err := svc.Delete(context.Background(), adminPrincipal(), p.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.GetByID(context.Background(), p.ID); err != ErrNotFound {
		t.Errorf("patient still present after delete")
	}
	if got := audit.actions(); len(got) != 1 || got[0] != "patient.deleted" {
		t.Errorf("audit actions = %v, want [patient.deleted]", got)
	}
}

func TestGenerateMRN(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	mrn := generateMRN(id)
	if mrn != "MRN-6BA7B8109D" {
		t.Errorf("generateMRN = %q", mrn)
	}
	if generateMRN(uuid.New()) == generateMRN(uuid.New()) {
		t.Error("distinct ids produced the same MRN")
	}
}
