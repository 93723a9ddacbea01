package account

import (
	"time"

	"github.com/google/uuid"
)

// Account is a staff login. PasswordHash never leaves the server.
type Account struct {
	ID        uuid.UUID  `json:"id"`
	Email     string     `json:"email"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	Status    string     `json:"status"`
	RoleID    *uuid.UUID `json:"role_id,omitempty"`
	RoleName  string     `json:"role_name,omitempty"`

	// IsAdmin is an independent override, not derived from the role.
	IsAdmin bool `json:"is_admin"`

	PasswordHash string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *Account) Name() string {
	switch {
	case a.FirstName == "":
		return a.LastName
	case a.LastName == "":
		return a.FirstName
	default:
		return a.FirstName + " " + a.LastName
	}
}

// Role groups privileges. System roles ship with the platform and cannot
// be deleted.
type Role struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	IsSystemRole bool      `json:"is_system_role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Privilege is one entry of the catalog, keyed "resource:action".
type Privilege struct {
	ID          uuid.UUID `json:"id"`
	Key         string    `json:"key"`
	Description string    `json:"description,omitempty"`
}

// ListFilter narrows account listings.
type ListFilter struct {
	Search string // matches email
	Status string
	RoleID *uuid.UUID
	Limit  int
	Offset int
}
