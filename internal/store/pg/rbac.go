package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"opsdesk.org/internal/auth"
	"opsdesk.org/internal/ids"
)

type departmentStore struct {
	db *sql.DB
}

func (s *departmentStore) Create(ctx context.Context, d *auth.Department) error {
	row := s.db.QueryRowContext(ctx, `
		insert into departments (id, name, description)
		values ($1, $2, $3)
		returning created_at, updated_at
	`, d.ID, d.Name, nullIfEmpty(d.Description))
	if err := row.Scan(&d.CreatedAt, &d.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: department %s", auth.ErrConflict, d.Name)
		}
		return err
	}
	return nil
}

func (s *departmentStore) Find(ctx context.Context, id string) (*auth.Department, error) {
	var (
		d    auth.Department
		desc sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, name, description, created_at, updated_at
		from departments
		where id = $1
	`, id).Scan(&d.ID, &d.Name, &desc, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if desc.Valid {
		d.Description = desc.String
	}
	return &d, nil
}

func (s *departmentStore) List(ctx context.Context) ([]auth.Department, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, description, created_at, updated_at
		from departments
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.Department
	for rows.Next() {
		var (
			d    auth.Department
			desc sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.Name, &desc, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			d.Description = desc.String
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type roleStore struct {
	db *sql.DB
}

func (s *roleStore) Create(ctx context.Context, role *auth.Role) error {
	row := s.db.QueryRowContext(ctx, `
		insert into roles (id, name, description)
		values ($1, $2, $3)
		returning created_at, updated_at
	`, role.ID, role.Name, nullIfEmpty(role.Description))
	if err := row.Scan(&role.CreatedAt, &role.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: role %s", auth.ErrConflict, role.Name)
		}
		return err
	}
	return nil
}

func (s *roleStore) Find(ctx context.Context, roleID string) (*auth.Role, error) {
	return s.scanRole(s.db.QueryRowContext(ctx, `
		select id, name, description, created_at, updated_at
		from roles
		where id = $1
	`, roleID))
}

func (s *roleStore) FindByName(ctx context.Context, name string) (*auth.Role, error) {
	return s.scanRole(s.db.QueryRowContext(ctx, `
		select id, name, description, created_at, updated_at
		from roles
		where lower(name) = lower($1)
	`, name))
}

func (s *roleStore) scanRole(row *sql.Row) (*auth.Role, error) {
	var (
		role auth.Role
		desc sql.NullString
	)
	err := row.Scan(&role.ID, &role.Name, &desc, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if desc.Valid {
		role.Description = desc.String
	}
	return &role, nil
}

func (s *roleStore) Ensure(ctx context.Context, roles []auth.Role) error {
	for _, role := range roles {
		id := role.ID
		if id == "" {
			id = ids.New()
		}
		if _, err := s.db.ExecContext(ctx, `
			insert into roles (id, name, description)
			values ($1, $2, $3)
			on conflict (name) do nothing
		`, id, role.Name, nullIfEmpty(role.Description)); err != nil {
			return err
		}
	}
	return nil
}

func (s *roleStore) Assign(ctx context.Context, a auth.RoleAssignment) error {
	err := s.db.QueryRowContext(ctx, `
		insert into user_roles (user_id, role_id)
		values ($1, $2)
		returning created_at
	`, a.UserID, a.RoleID).Scan(&a.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return fmt.Errorf("%w: assignment exists", auth.ErrConflict)
			case pgErrForeignKeyViolation:
				return fmt.Errorf("%w: user or role missing", auth.ErrNotFound)
			}
		}
		return err
	}
	return nil
}

func (s *roleStore) Unassign(ctx context.Context, userID, roleID string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from user_roles
		where user_id = $1 and role_id = $2
	`, userID, roleID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *roleStore) RolesForUser(ctx context.Context, userID string) ([]auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.name, r.description, r.created_at, r.updated_at
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1
		order by r.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []auth.Role
	for rows.Next() {
		var (
			role auth.Role
			desc sql.NullString
		)
		if err := rows.Scan(&role.ID, &role.Name, &desc, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			role.Description = desc.String
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

type permissionStore struct {
	db *sql.DB
}

func (s *permissionStore) Ensure(ctx context.Context, perms []auth.Permission) error {
	for _, p := range perms {
		id := p.ID
		if id == "" {
			id = ids.New()
		}
		if _, err := s.db.ExecContext(ctx, `
			insert into permissions (id, key, description)
			values ($1, $2, $3)
			on conflict (key) do nothing
		`, id, p.Key, nullIfEmpty(p.Description)); err != nil {
			return err
		}
	}
	return nil
}

func (s *permissionStore) SetForRole(ctx context.Context, roleID string, keys []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `select 1 from roles where id = $1`, roleID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: role %s", auth.ErrNotFound, roleID)
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, key := range keys {
		var permID string
		err := tx.QueryRowContext(ctx, `select id from permissions where key = $1`, key).Scan(&permID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: permission %s", auth.ErrNotFound, key)
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id)
			values ($1, $2)
		`, roleID, permID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *permissionStore) PermissionsForRole(ctx context.Context, roleID string) ([]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.key, p.description, p.created_at
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by p.key
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []auth.Permission
	for rows.Next() {
		var (
			p    auth.Permission
			desc sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Key, &desc, &p.CreatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			p.Description = desc.String
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

func (s *permissionStore) PermissionsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select distinct p.key
		from user_roles ur
		join role_permissions rp on rp.role_id = ur.role_id
		join permissions p on p.id = rp.permission_id
		where ur.user_id = $1
		order by p.key
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		perms = append(perms, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}
