package account

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrEmailTaken = errors.New("email already registered")

	// ErrRoleInUse blocks deleting a role that still has accounts.
	ErrRoleInUse = errors.New("role has assigned accounts")

	// ErrSystemRole blocks deleting a platform-shipped role.
	ErrSystemRole = errors.New("system role cannot be deleted")
)

// Repository persists accounts, roles and the privilege catalog.
type Repository interface {
	CreateAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	UpdateAccount(ctx context.Context, a *Account) error
	DeleteAccount(ctx context.Context, id uuid.UUID) error
	ListAccounts(ctx context.Context, filter ListFilter) ([]*Account, int, error)

	CreateRole(ctx context.Context, r *Role) error
	GetRole(ctx context.Context, id uuid.UUID) (*Role, error)
	UpdateRole(ctx context.Context, r *Role) error
	DeleteRole(ctx context.Context, id uuid.UUID) error
	ListRoles(ctx context.Context) ([]*Role, error)
	CountRoleAccounts(ctx context.Context, roleID uuid.UUID) (int, error)

	ListPrivileges(ctx context.Context) ([]*Privilege, error)
	RolePrivileges(ctx context.Context, roleID uuid.UUID) ([]*Privilege, error)
	ReplacePrivileges(ctx context.Context, roleID uuid.UUID, privilegeIDs []uuid.UUID) error
}
