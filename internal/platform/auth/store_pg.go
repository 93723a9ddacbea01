package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carevault/carevault/internal/platform/db"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// StorePG resolves accounts and privileges from Postgres. It satisfies both
// AccountStore and PrivilegeStore.
type StorePG struct {
	pool *pgxpool.Pool
}

func NewStorePG(pool *pgxpool.Pool) *StorePG {
	return &StorePG{pool: pool}
}

func (s *StorePG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return s.pool
}

// tenantSchema returns the schema prefix for identity tables. Principal
// resolution runs before TenantMiddleware has pinned a connection, so its
// queries land on a bare pool connection whose search_path never reaches
// the tenant schema. Qualifying the table names with the tenant from
// context keeps the lookup inside the right clinic. With no tenant in
// context the names stay unqualified and resolve through the connection's
// search_path.
func tenantSchema(ctx context.Context) string {
	tid := db.TenantFromContext(ctx)
	if tid == "" || !db.ValidTenantID(tid) {
		return ""
	}
	return "tenant_" + tid + "."
}

// AccountByID loads one account row joined with its role. The is_admin
// column is scanned as text and normalized through ParseAdminFlag so legacy
// rows carrying "t", "1" or NULL resolve the same as proper booleans.
func (s *StorePG) AccountByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	row := s.conn(ctx).QueryRow(ctx, fmt.Sprintf(`
		SELECT u.id, u.email, u.first_name, u.last_name, COALESCE(u.status, ''),
			u.role_id, COALESCE(r.name, ''),
			COALESCE(u.is_admin::text, 'false')
		FROM %[1]susers u
		LEFT JOIN %[1]sroles r ON r.id = u.role_id
		WHERE u.id = $1`, tenantSchema(ctx)), id)

	var (
		a        Account
		rawAdmin string
	)
	if err := row.Scan(&a.ID, &a.Email, &a.FirstName, &a.LastName, &a.Status,
		&a.RoleID, &a.RoleName, &rawAdmin); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("account by id: %w", err)
	}
	a.IsAdmin = ParseAdminFlag(rawAdmin)
	return &a, nil
}

// AccountByEmail loads one account row by email for login.
func (s *StorePG) AccountByEmail(ctx context.Context, email string) (*Account, string, error) {
	row := s.conn(ctx).QueryRow(ctx, fmt.Sprintf(`
		SELECT u.id, u.email, u.first_name, u.last_name, COALESCE(u.status, ''),
			u.role_id, COALESCE(r.name, ''),
			COALESCE(u.is_admin::text, 'false'),
			u.password_hash
		FROM %[1]susers u
		LEFT JOIN %[1]sroles r ON r.id = u.role_id
		WHERE lower(u.email) = lower($1)`, tenantSchema(ctx)), email)

	var (
		a        Account
		rawAdmin string
		hash     string
	)
	if err := row.Scan(&a.ID, &a.Email, &a.FirstName, &a.LastName, &a.Status,
		&a.RoleID, &a.RoleName, &rawAdmin, &hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", ErrAccountNotFound
		}
		return nil, "", fmt.Errorf("account by email: %w", err)
	}
	a.IsAdmin = ParseAdminFlag(rawAdmin)
	return &a, hash, nil
}

// RolePrivileges returns the privilege keys granted to a role.
func (s *StorePG) RolePrivileges(ctx context.Context, roleID uuid.UUID) ([]string, error) {
	rows, err := s.conn(ctx).Query(ctx, fmt.Sprintf(`
		SELECT p.key
		FROM %[1]srole_privileges rp
		JOIN %[1]sprivileges p ON p.id = rp.privilege_id
		WHERE rp.role_id = $1
		ORDER BY p.key`, tenantSchema(ctx)), roleID)
	if err != nil {
		return nil, fmt.Errorf("role privileges: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("role privileges scan: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
