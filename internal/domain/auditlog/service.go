package auditlog

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/carevault/carevault/internal/platform/auth"
	"github.com/carevault/carevault/internal/platform/db"
	"github.com/carevault/carevault/internal/platform/hipaa"
)

// exportLimit caps one CSV export.
const exportLimit = 5000

// Reader is the query side of the audit store.
type Reader interface {
	List(ctx context.Context, filter Filter) ([]*Entry, int, error)
}

// SyncRecorder writes an audit row before the guarded operation proceeds.
// Exports are compliance-critical, so their own trace never rides the
// fire-and-forget queue.
type SyncRecorder interface {
	Record(ctx context.Context, e *hipaa.Event) error
}

type Service struct {
	reader   Reader
	recorder SyncRecorder
}

func NewService(reader Reader, recorder SyncRecorder) *Service {
	return &Service{reader: reader, recorder: recorder}
}

// Query lists audit entries for the caller. Non-compliance callers are
// pinned to their own tenant and get ip, user agent and detail redacted;
// compliance-tier callers (admin flag, admin, superadmin, compliance, him)
// see everything, across tenants if they ask.
func (s *Service) Query(ctx context.Context, actor *auth.Principal, filter Filter) ([]*Entry, int, error) {
	compliance := actor != nil && auth.IsComplianceTier(actor)
	if !compliance {
		filter.Tenant = db.TenantFromContext(ctx)
	}
	if filter.Limit <= 0 {
		filter.Limit = 50
	}

	entries, total, err := s.reader.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	if !compliance {
		for _, e := range entries {
			redactEntry(e)
		}
	}
	return entries, total, nil
}

// Export writes matching entries as CSV. The export itself is recorded,
// with the filters used, before any data leaves; if that write fails the
// export does not happen.
func (s *Service) Export(ctx context.Context, actor *auth.Principal, filter Filter, w io.Writer) (int, error) {
	compliance := actor != nil && auth.IsComplianceTier(actor)
	if !compliance {
		filter.Tenant = db.TenantFromContext(ctx)
	}
	filter.Limit = exportLimit
	filter.Offset = 0

	event := &hipaa.Event{
		Tenant:     db.TenantFromContext(ctx),
		Action:     "EXPORT_CREATED",
		EntityType: "audit_log",
		Detail:     exportDetail(filter),
	}
	if actor != nil {
		id := actor.ID
		event.ActorID = &id
		event.ActorName = actor.Name
		event.ActorRole = actor.Role
	}
	if err := s.recorder.Record(ctx, event); err != nil {
		return 0, fmt.Errorf("audit export: recording refused: %w", err)
	}

	entries, _, err := s.reader.List(ctx, filter)
	if err != nil {
		return 0, err
	}
	if !compliance {
		for _, e := range entries {
			redactEntry(e)
		}
	}

	cw := csv.NewWriter(w)
	header := []string{"Timestamp", "Action", "Entity", "Entity ID", "Actor", "Role", "IP", "User Agent", "Details"}
	if err := cw.Write(header); err != nil {
		return 0, fmt.Errorf("audit export: %w", err)
	}
	for _, e := range entries {
		detail := ""
		if e.Detail != nil {
			raw, err := json.Marshal(e.Detail)
			if err == nil {
				detail = string(raw)
			}
		}
		record := []string{
			e.CreatedAt.Format(time.RFC3339),
			e.Action,
			e.EntityType,
			e.EntityID,
			e.ActorName,
			e.ActorRole,
			e.IPAddress,
			e.UserAgent,
			detail,
		}
		if err := cw.Write(record); err != nil {
			return 0, fmt.Errorf("audit export: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("audit export: %w", err)
	}
	return len(entries), nil
}

func redactEntry(e *Entry) {
	if e.IPAddress != "" {
		e.IPAddress = hipaa.RedactedMarker
	}
	if e.UserAgent != "" {
		e.UserAgent = hipaa.RedactedMarker
	}
	if e.Detail != nil {
		e.Detail = map[string]any{"redacted": true}
	}
}

func exportDetail(filter Filter) map[string]any {
	detail := map[string]any{"limit": strconv.Itoa(filter.Limit)}
	if filter.Tenant != "" {
		detail["tenant"] = filter.Tenant
	}
	if filter.Action != "" {
		detail["filter_action"] = filter.Action
	}
	if filter.EntityType != "" {
		detail["entity_type"] = filter.EntityType
	}
	if filter.EntityID != "" {
		detail["entity_id"] = filter.EntityID
	}
	if filter.ActorID != nil {
		detail["filter_actor_id"] = filter.ActorID.String()
	}
	if !filter.From.IsZero() {
		detail["from"] = filter.From.Format(time.RFC3339)
	}
	if !filter.To.IsZero() {
		detail["to"] = filter.To.Format(time.RFC3339)
	}
	return detail
}
