package auditlog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carevault/carevault/internal/platform/hipaa"
)

// StorePG persists audit events. The table lives in the shared schema, not
// the per-tenant ones, so the recorder's background worker can write without
// a tenant-scoped connection; rows carry the tenant as a column instead.
type StorePG struct {
	pool *pgxpool.Pool
}

func NewStorePG(pool *pgxpool.Pool) *StorePG {
	return &StorePG{pool: pool}
}

// Insert satisfies hipaa.EventStore. Audit rows are append-only; there is no
// update or delete path anywhere in this package.
func (s *StorePG) Insert(ctx context.Context, e *hipaa.Event) error {
	detail, err := marshalDetail(e.Detail)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO public.audit_logs (
			id, tenant, action, entity_type, entity_id,
			actor_id, actor_name, actor_role, ip_address, user_agent,
			detail, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		e.ID, e.Tenant, e.Action, e.EntityType, e.EntityID,
		e.ActorID, e.ActorName, e.ActorRole, e.IPAddress, e.UserAgent,
		detail, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit insert: %w", err)
	}
	return nil
}

// List returns a page of audit rows matching the filter, newest first.
func (s *StorePG) List(ctx context.Context, filter Filter) ([]*Entry, int, error) {
	cond, args := buildWhere(filter)

	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM public.audit_logs WHERE `+cond, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("audit count: %w", err)
	}

	arg := len(args) + 1
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant, action, entity_type, entity_id,
			actor_id, COALESCE(actor_name, ''), COALESCE(actor_role, ''),
			COALESCE(ip_address, ''), COALESCE(user_agent, ''),
			detail, created_at
		FROM public.audit_logs WHERE `+cond+
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, arg, arg+1),
		append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("audit list: %w", err)
	}
	defer rows.Close()

	entries, err := collectEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func buildWhere(filter Filter) (string, []interface{}) {
	where := []string{"1=1"}
	args := []interface{}{}
	arg := 1
	add := func(cond string, val interface{}) {
		where = append(where, fmt.Sprintf(cond, arg))
		args = append(args, val)
		arg++
	}
	if filter.Tenant != "" {
		add("tenant = $%d", filter.Tenant)
	}
	if filter.Action != "" {
		add("action = $%d", filter.Action)
	}
	if filter.EntityType != "" {
		add("entity_type = $%d", filter.EntityType)
	}
	if filter.EntityID != "" {
		add("entity_id = $%d", filter.EntityID)
	}
	if filter.ActorID != nil {
		add("actor_id = $%d", *filter.ActorID)
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at <= $%d", filter.To)
	}
	return strings.Join(where, " AND "), args
}

func collectEntries(rows pgx.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var (
			e          Entry
			detailJSON []byte
		)
		err := rows.Scan(&e.ID, &e.Tenant, &e.Action, &e.EntityType, &e.EntityID,
			&e.ActorID, &e.ActorName, &e.ActorRole, &e.IPAddress, &e.UserAgent,
			&detailJSON, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("audit scan: %w", err)
		}
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("audit detail decode: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func marshalDetail(detail map[string]any) ([]byte, error) {
	if detail == nil {
		return nil, nil
	}
	out, err := json.Marshal(detail)
	if err != nil {
		return nil, fmt.Errorf("audit detail encode: %w", err)
	}
	return out, nil
}
