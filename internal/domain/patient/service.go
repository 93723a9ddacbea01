package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/carevault/carevault/internal/platform/auth"
	"github.com/carevault/carevault/internal/platform/db"
	"github.com/carevault/carevault/internal/platform/hipaa"
)

// ErrDenied is returned when the principal's patient scope does not reach
// the requested record.
var ErrDenied = errors.New("access denied")

// Auditor is the slice of the audit recorder the service needs.
type Auditor interface {
	Enqueue(e *hipaa.Event)
}

type Service struct {
	repo  Repository
	audit Auditor
}

func NewService(repo Repository, audit Auditor) *Service {
	return &Service{repo: repo, audit: audit}
}

// Create registers a new patient. A missing MRN is generated from the
// record id so it is unique without a round trip.
func (s *Service) Create(ctx context.Context, actor *auth.Principal, p *Patient) error {
	if strings.TrimSpace(p.FirstName) == "" || strings.TrimSpace(p.LastName) == "" {
		return fmt.Errorf("first_name and last_name are required")
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.MRN == "" {
		p.MRN = generateMRN(p.ID)
	}
	if p.Status == "" {
		p.Status = "active"
	}

	if err := s.repo.Create(ctx, p); err != nil {
		return err
	}
	s.recordMutation(ctx, actor, "patient.created", p, map[string]any{"mrn": p.MRN})
	return nil
}

// Get fetches one patient, enforcing the actor's patient scope: a clinician
// with ASSIGNED scope only reaches their own panel.
func (s *Service) Get(ctx context.Context, actor *auth.Principal, id uuid.UUID) (*Patient, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !inScope(actor, p) {
		return nil, ErrDenied
	}
	return p, nil
}

// GetByMRN fetches one patient by medical record number under the same
// scope rules as Get.
func (s *Service) GetByMRN(ctx context.Context, actor *auth.Principal, mrn string) (*Patient, error) {
	p, err := s.repo.GetByMRN(ctx, mrn)
	if err != nil {
		return nil, err
	}
	if !inScope(actor, p) {
		return nil, ErrDenied
	}
	return p, nil
}

// List returns a roster page. ASSIGNED-scope actors are restricted to their
// own panel regardless of the requested filter.
func (s *Service) List(ctx context.Context, actor *auth.Principal, filter ListFilter) ([]*Patient, int, error) {
	if scopedToPanel(actor) {
		actorID := actor.ID
		filter.AssignedTo = &actorID
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	return s.repo.List(ctx, filter)
}

// Update modifies a patient within the actor's scope.
func (s *Service) Update(ctx context.Context, actor *auth.Principal, p *Patient) error {
	existing, err := s.repo.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}
	if !inScope(actor, existing) {
		return ErrDenied
	}
	if p.MRN == "" {
		p.MRN = existing.MRN
	}

	if err := s.repo.Update(ctx, p); err != nil {
		return err
	}
	s.recordMutation(ctx, actor, "patient.updated", p, map[string]any{"mrn": p.MRN})
	return nil
}

// Delete removes a patient record.
func (s *Service) Delete(ctx context.Context, actor *auth.Principal, id uuid.UUID) error {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !inScope(actor, existing) {
		return ErrDenied
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.recordMutation(ctx, actor, "patient.deleted", existing, map[string]any{"mrn": existing.MRN})
	return nil
}

func (s *Service) recordMutation(ctx context.Context, actor *auth.Principal, action string, p *Patient, detail map[string]any) {
	event := &hipaa.Event{
		Tenant:     db.TenantFromContext(ctx),
		Action:     action,
		EntityType: "patient",
		EntityID:   p.ID.String(),
		Detail:     detail,
	}
	if actor != nil {
		actorID := actor.ID
		event.ActorID = &actorID
		event.ActorName = actor.Name
		event.ActorRole = actor.Role
	}
	s.audit.Enqueue(event)
}

// scopedToPanel reports whether the actor only sees assigned patients.
func scopedToPanel(actor *auth.Principal) bool {
	return actor != nil && !actor.IsAdmin && actor.Scope.Patient == auth.ScopeAssigned
}

func inScope(actor *auth.Principal, p *Patient) bool {
	if !scopedToPanel(actor) {
		return true
	}
	return p.AssignedProviderID != nil && *p.AssignedProviderID == actor.ID
}

// generateMRN derives a stable human-usable record number from the id.
func generateMRN(id uuid.UUID) string {
	raw := strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))
	return "MRN-" + raw[:10]
}
