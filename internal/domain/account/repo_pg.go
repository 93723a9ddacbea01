package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carevault/carevault/internal/platform/auth"
	"github.com/carevault/carevault/internal/platform/db"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type RepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) *RepoPG {
	return &RepoPG{pool: pool}
}

func (r *RepoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const accountCols = `u.id, u.email, u.first_name, u.last_name, u.status,
	u.role_id, COALESCE(r.name, ''), COALESCE(u.is_admin::text, 'false'),
	u.password_hash, u.created_at, u.updated_at`

const accountFrom = ` FROM users u LEFT JOIN roles r ON r.id = u.role_id`

// -- Accounts --

func (r *RepoPG) CreateAccount(ctx context.Context, a *Account) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (id, email, first_name, last_name, status, role_id, is_admin, password_hash)
		VALUES ($1, lower($2), $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		a.ID, a.Email, a.FirstName, a.LastName, a.Status, a.RoleID, a.IsAdmin, a.PasswordHash,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("account create: %w", err)
	}
	a.Email = strings.ToLower(a.Email)
	return nil
}

func (r *RepoPG) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+accountCols+accountFrom+` WHERE u.id = $1`, id)
	return scanAccount(row)
}

func (r *RepoPG) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+accountCols+accountFrom+` WHERE lower(u.email) = lower($1)`, email)
	return scanAccount(row)
}

func (r *RepoPG) UpdateAccount(ctx context.Context, a *Account) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE users SET
			email = lower($2), first_name = $3, last_name = $4, status = $5,
			role_id = $6, is_admin = $7, password_hash = $8, updated_at = NOW()
		WHERE id = $1`,
		a.ID, a.Email, a.FirstName, a.LastName, a.Status, a.RoleID, a.IsAdmin, a.PasswordHash)
	if isUniqueViolation(err) {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("account update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RepoPG) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("account delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RepoPG) ListAccounts(ctx context.Context, filter ListFilter) ([]*Account, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	arg := 1
	if filter.Search != "" {
		where = append(where, fmt.Sprintf("u.email ILIKE $%d", arg))
		args = append(args, "%"+filter.Search+"%")
		arg++
	}
	if filter.Status != "" {
		where = append(where, fmt.Sprintf("u.status = $%d", arg))
		args = append(args, filter.Status)
		arg++
	}
	if filter.RoleID != nil {
		where = append(where, fmt.Sprintf("u.role_id = $%d", arg))
		args = append(args, *filter.RoleID)
		arg++
	}
	cond := strings.Join(where, " AND ")

	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM users u WHERE `+cond, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("account count: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+accountCols+accountFrom+` WHERE `+cond+
			fmt.Sprintf(` ORDER BY u.created_at DESC LIMIT $%d OFFSET $%d`, arg, arg+1),
		append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("account list: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		a, err := scanAccountRow(rows)
		if err != nil {
			return nil, 0, err
		}
		accounts = append(accounts, a)
	}
	return accounts, total, rows.Err()
}

// -- Roles --

func (r *RepoPG) CreateRole(ctx context.Context, role *Role) error {
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO roles (id, name, description, is_system_role)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		role.ID, role.Name, role.Description, role.IsSystemRole,
	).Scan(&role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return fmt.Errorf("role create: %w", err)
	}
	return nil
}

func (r *RepoPG) GetRole(ctx context.Context, id uuid.UUID) (*Role, error) {
	var role Role
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, name, description, is_system_role, created_at, updated_at
		FROM roles WHERE id = $1`, id,
	).Scan(&role.ID, &role.Name, &role.Description, &role.IsSystemRole,
		&role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("role get: %w", err)
	}
	return &role, nil
}

func (r *RepoPG) UpdateRole(ctx context.Context, role *Role) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE roles SET name = $2, description = $3, updated_at = NOW()
		WHERE id = $1`,
		role.ID, role.Name, role.Description)
	if err != nil {
		return fmt.Errorf("role update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RepoPG) DeleteRole(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("role delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RepoPG) ListRoles(ctx context.Context) ([]*Role, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, name, description, is_system_role, created_at, updated_at
		FROM roles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("role list: %w", err)
	}
	defer rows.Close()

	var roles []*Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description,
			&role.IsSystemRole, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, fmt.Errorf("role scan: %w", err)
		}
		roles = append(roles, &role)
	}
	return roles, rows.Err()
}

func (r *RepoPG) CountRoleAccounts(ctx context.Context, roleID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM users WHERE role_id = $1`, roleID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("role account count: %w", err)
	}
	return n, nil
}

// -- Privileges --

func (r *RepoPG) ListPrivileges(ctx context.Context) ([]*Privilege, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id, key, COALESCE(description, '') FROM privileges ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("privilege list: %w", err)
	}
	defer rows.Close()
	return collectPrivileges(rows)
}

func (r *RepoPG) RolePrivileges(ctx context.Context, roleID uuid.UUID) ([]*Privilege, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT p.id, p.key, COALESCE(p.description, '')
		FROM role_privileges rp
		JOIN privileges p ON p.id = rp.privilege_id
		WHERE rp.role_id = $1
		ORDER BY p.key`, roleID)
	if err != nil {
		return nil, fmt.Errorf("role privilege list: %w", err)
	}
	defer rows.Close()
	return collectPrivileges(rows)
}

// ReplacePrivileges swaps a role's privilege set atomically. Either the new
// set is fully in place or the old one is untouched.
func (r *RepoPG) ReplacePrivileges(ctx context.Context, roleID uuid.UUID, privilegeIDs []uuid.UUID) error {
	return db.RunInTx(ctx, func(ctx context.Context) error {
		q := r.conn(ctx)
		if _, err := q.Exec(ctx,
			`DELETE FROM role_privileges WHERE role_id = $1`, roleID); err != nil {
			return fmt.Errorf("privilege clear: %w", err)
		}
		for _, pid := range privilegeIDs {
			if _, err := q.Exec(ctx, `
				INSERT INTO role_privileges (role_id, privilege_id)
				VALUES ($1, $2)`, roleID, pid); err != nil {
				return fmt.Errorf("privilege grant: %w", err)
			}
		}
		return nil
	})
}

// -- helpers --

func scanAccount(row pgx.Row) (*Account, error) {
	a, err := scanAccountRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func scanAccountRow(row pgx.Row) (*Account, error) {
	var (
		a     Account
		admin string
	)
	err := row.Scan(&a.ID, &a.Email, &a.FirstName, &a.LastName, &a.Status,
		&a.RoleID, &a.RoleName, &admin, &a.PasswordHash, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.IsAdmin = auth.ParseAdminFlag(admin)
	return &a, nil
}

func collectPrivileges(rows pgx.Rows) ([]*Privilege, error) {
	var privs []*Privilege
	for rows.Next() {
		var p Privilege
		if err := rows.Scan(&p.ID, &p.Key, &p.Description); err != nil {
			return nil, fmt.Errorf("privilege scan: %w", err)
		}
		privs = append(privs, &p)
	}
	return privs, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
