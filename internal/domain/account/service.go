package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carevault/carevault/internal/platform/auth"
	"github.com/carevault/carevault/internal/platform/db"
	"github.com/carevault/carevault/internal/platform/hipaa"
)

// ErrInvalidCredentials hides whether the email or the password was wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrAccountInactive is returned on login for suspended accounts.
var ErrAccountInactive = errors.New("account is suspended or inactive")

// Auditor is the slice of the audit recorder the service needs.
type Auditor interface {
	Enqueue(e *hipaa.Event)
}

type Service struct {
	repo     Repository
	audit    Auditor
	secret   []byte
	tokenTTL time.Duration
}

func NewService(repo Repository, audit Auditor, secret []byte, tokenTTL time.Duration) *Service {
	return &Service{repo: repo, audit: audit, secret: secret, tokenTTL: tokenTTL}
}

// -- Accounts --

func (s *Service) CreateAccount(ctx context.Context, actor *auth.Principal, a *Account, password string) error {
	if !strings.Contains(a.Email, "@") {
		return fmt.Errorf("valid email is required")
	}
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("account create: %w", err)
	}
	a.PasswordHash = hash
	if a.Status == "" {
		a.Status = "active"
	}

	if err := s.repo.CreateAccount(ctx, a); err != nil {
		return err
	}
	s.record(ctx, actor, "account.created", "account", a.ID.String(),
		map[string]any{"email": a.Email, "role_id": a.RoleID})
	return nil
}

func (s *Service) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	return s.repo.GetAccount(ctx, id)
}

func (s *Service) ListAccounts(ctx context.Context, filter ListFilter) ([]*Account, int, error) {
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	return s.repo.ListAccounts(ctx, filter)
}

// UpdateAccount applies the mutable fields. An empty newPassword keeps the
// current hash.
func (s *Service) UpdateAccount(ctx context.Context, actor *auth.Principal, a *Account, newPassword string) error {
	existing, err := s.repo.GetAccount(ctx, a.ID)
	if err != nil {
		return err
	}
	if a.Email == "" {
		a.Email = existing.Email
	}
	if a.Status == "" {
		a.Status = existing.Status
	}
	a.PasswordHash = existing.PasswordHash
	if newPassword != "" {
		if len(newPassword) < 8 {
			return fmt.Errorf("password must be at least 8 characters")
		}
		hash, err := auth.HashPassword(newPassword)
		if err != nil {
			return fmt.Errorf("account update: %w", err)
		}
		a.PasswordHash = hash
	}

	if err := s.repo.UpdateAccount(ctx, a); err != nil {
		return err
	}
	s.record(ctx, actor, "account.updated", "account", a.ID.String(),
		map[string]any{"email": a.Email, "status": a.Status})
	return nil
}

func (s *Service) DeleteAccount(ctx context.Context, actor *auth.Principal, id uuid.UUID) error {
	if actor != nil && actor.ID == id {
		return fmt.Errorf("cannot delete your own account")
	}
	if err := s.repo.DeleteAccount(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, "account.deleted", "account", id.String(), nil)
	return nil
}

// -- Roles --

func (s *Service) CreateRole(ctx context.Context, actor *auth.Principal, r *Role) error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("role name is required")
	}
	if err := s.repo.CreateRole(ctx, r); err != nil {
		return err
	}
	s.record(ctx, actor, "role.created", "role", r.ID.String(),
		map[string]any{"name": r.Name})
	return nil
}

func (s *Service) GetRole(ctx context.Context, id uuid.UUID) (*Role, error) {
	return s.repo.GetRole(ctx, id)
}

func (s *Service) ListRoles(ctx context.Context) ([]*Role, error) {
	return s.repo.ListRoles(ctx)
}

// UpdateRole renames or redescribes a role. System roles may be edited, but
// the edit always leaves a dedicated trace in the audit trail.
func (s *Service) UpdateRole(ctx context.Context, actor *auth.Principal, r *Role) error {
	existing, err := s.repo.GetRole(ctx, r.ID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(r.Name) == "" {
		r.Name = existing.Name
	}
	if err := s.repo.UpdateRole(ctx, r); err != nil {
		return err
	}
	r.IsSystemRole = existing.IsSystemRole

	action := "role.updated"
	if existing.IsSystemRole {
		action = "role.system_modified"
	}
	s.record(ctx, actor, action, "role", r.ID.String(),
		map[string]any{"name": r.Name, "previous_name": existing.Name})
	return nil
}

// DeleteRole refuses system roles and roles that still have accounts.
func (s *Service) DeleteRole(ctx context.Context, actor *auth.Principal, id uuid.UUID) error {
	existing, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if existing.IsSystemRole {
		return ErrSystemRole
	}
	n, err := s.repo.CountRoleAccounts(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrRoleInUse
	}
	if err := s.repo.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, "role.deleted", "role", id.String(),
		map[string]any{"name": existing.Name})
	return nil
}

func (s *Service) ListPrivileges(ctx context.Context) ([]*Privilege, error) {
	return s.repo.ListPrivileges(ctx)
}

func (s *Service) RolePrivileges(ctx context.Context, roleID uuid.UUID) ([]*Privilege, error) {
	return s.repo.RolePrivileges(ctx, roleID)
}

// ReplacePrivileges swaps a role's grants in one transaction.
func (s *Service) ReplacePrivileges(ctx context.Context, actor *auth.Principal, roleID uuid.UUID, privilegeIDs []uuid.UUID) error {
	existing, err := s.repo.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if err := s.repo.ReplacePrivileges(ctx, roleID, privilegeIDs); err != nil {
		return err
	}

	action := "role.privileges_replaced"
	if existing.IsSystemRole {
		action = "role.system_modified"
	}
	s.record(ctx, actor, action, "role", roleID.String(),
		map[string]any{"name": existing.Name, "privilege_count": len(privilegeIDs)})
	return nil
}

// -- Login --

// Login verifies credentials and issues a signed token. Every outcome is
// audited; failures never reveal which part of the credential was wrong.
func (s *Service) Login(ctx context.Context, email, password string) (string, *Account, error) {
	a, err := s.repo.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.recordLogin(ctx, nil, email, false)
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if a.Status != "" && a.Status != "active" {
		s.recordLogin(ctx, a, email, false)
		return "", nil, ErrAccountInactive
	}
	if err := auth.VerifyPassword(password, a.PasswordHash); err != nil {
		s.recordLogin(ctx, a, email, false)
		return "", nil, ErrInvalidCredentials
	}

	token, err := auth.SignToken(s.secret, a.ID.String(), db.TenantFromContext(ctx), s.tokenTTL)
	if err != nil {
		return "", nil, fmt.Errorf("login: %w", err)
	}
	s.recordLogin(ctx, a, email, true)
	return token, a, nil
}

func (s *Service) recordLogin(ctx context.Context, a *Account, email string, ok bool) {
	action := "login.failed"
	event := &hipaa.Event{
		Tenant:     db.TenantFromContext(ctx),
		Action:     action,
		EntityType: "account",
		Detail:     map[string]any{"email": email},
	}
	if ok {
		event.Action = "login.success"
	}
	if a != nil {
		event.EntityID = a.ID.String()
		id := a.ID
		event.ActorID = &id
		event.ActorName = a.Name()
	}
	s.audit.Enqueue(event)
}

func (s *Service) record(ctx context.Context, actor *auth.Principal, action, entityType, entityID string, detail map[string]any) {
	event := &hipaa.Event{
		Tenant:     db.TenantFromContext(ctx),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
	}
	if actor != nil {
		id := actor.ID
		event.ActorID = &id
		event.ActorName = actor.Name
		event.ActorRole = actor.Role
	}
	s.audit.Enqueue(event)
}
