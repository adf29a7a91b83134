package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"opsdesk.org/internal/auth"
)

type userStore struct {
	db *sql.DB
}

func (s *userStore) CreateWithRoles(ctx context.Context, u *auth.User, roleIDs []string, audit *auth.AuditEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		insert into users (id, first_name, last_name, email, password_hash, department_id)
		values ($1, $2, $3, $4, $5, $6)
		returning created_at, updated_at
	`, u.ID, u.FirstName, u.LastName, u.Email, u.PasswordHash, nullIfEmpty(u.DepartmentID))
	if err := row.Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return fmt.Errorf("%w: email already registered", auth.ErrConflict)
			case pgErrForeignKeyViolation:
				return fmt.Errorf("%w: department %s", auth.ErrNotFound, u.DepartmentID)
			}
		}
		return err
	}

	for _, roleID := range roleIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into user_roles (user_id, role_id)
			values ($1, $2)
		`, u.ID, roleID); err != nil {
			if pgErr, ok := maybePgError(err); ok {
				switch pgErr.Code {
				case pgErrUniqueViolation:
					return fmt.Errorf("%w: assignment exists", auth.ErrConflict)
				case pgErrForeignKeyViolation:
					return fmt.Errorf("%w: role %s", auth.ErrNotFound, roleID)
				}
			}
			return err
		}
	}

	if audit != nil {
		if err := appendAuditTx(ctx, tx, audit); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		select id, first_name, last_name, email, password_hash, department_id, created_at, updated_at
		from users
		where id = $1
	`, id))
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		select id, first_name, last_name, email, password_hash, department_id, created_at, updated_at
		from users
		where lower(email) = lower($1)
	`, email))
}

func (s *userStore) UpdatePassword(ctx context.Context, userID, passwordHash string, audit *auth.AuditEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update users set password_hash = $2, updated_at = now()
		where id = $1
	`, userID, passwordHash)
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

	if audit != nil {
		if err := appendAuditTx(ctx, tx, audit); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func scanUser(row *sql.Row) (*auth.User, error) {
	var (
		u    auth.User
		dept sql.NullString
	)
	err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.PasswordHash, &dept, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if dept.Valid {
		u.DepartmentID = dept.String
	}
	return &u, nil
}

type auditStore struct {
	db *sql.DB
}

func (s *auditStore) Append(ctx context.Context, entry *auth.AuditEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := appendAuditTx(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func appendAuditTx(ctx context.Context, tx *sql.Tx, entry *auth.AuditEntry) error {
	metaJSON := []byte("{}")
	if len(entry.Metadata) > 0 {
		bytes, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metaJSON = bytes
	}
	_, err := tx.ExecContext(ctx, `
		insert into audit_log (id, occurred_at, actor_user_id, action, resource_type, resource_id, metadata)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.OccurredAt, nullIfEmpty(entry.ActorUserID), entry.Action, entry.ResourceType, entry.ResourceID, metaJSON)
	return err
}
