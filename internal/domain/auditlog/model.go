package auditlog

import (
	"time"

	"github.com/google/uuid"
)

// Entry is the API shape of one audit row.
type Entry struct {
	ID         uuid.UUID      `json:"id"`
	Tenant     string         `json:"tenant,omitempty"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    *uuid.UUID     `json:"actor_id,omitempty"`
	ActorName  string         `json:"actor_name,omitempty"`
	ActorRole  string         `json:"actor_role,omitempty"`
	IPAddress  string         `json:"ip_address,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter narrows audit queries. Tenant is enforced by the service for
// non-compliance callers regardless of what the request asked for.
type Filter struct {
	Tenant     string
	Action     string
	EntityType string
	EntityID   string
	ActorID    *uuid.UUID
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}
