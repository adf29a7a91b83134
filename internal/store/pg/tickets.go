package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"opsdesk.org/internal/auth"
)

type ticketStore struct {
	db *sql.DB
}

func (s *ticketStore) Replace(ctx context.Context, t *auth.ResetTicket) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Superseding: older outstanding tickets become permanently invalid.
	if _, err := tx.ExecContext(ctx, `
		update reset_tickets set consumed = true
		where user_id = $1 and not consumed
	`, t.UserID); err != nil {
		return err
	}

	row := tx.QueryRowContext(ctx, `
		insert into reset_tickets (id, user_id, secret_hash, expires_at)
		values ($1, $2, $3, $4)
		returning created_at
	`, t.ID, t.UserID, t.SecretHash, t.ExpiresAt)
	if err := row.Scan(&t.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return fmt.Errorf("%w: user %s", auth.ErrNotFound, t.UserID)
		}
		return err
	}
	return tx.Commit()
}

func (s *ticketStore) Current(ctx context.Context, userID string) (*auth.ResetTicket, error) {
	var t auth.ResetTicket
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, secret_hash, expires_at, consumed, created_at
		from reset_tickets
		where user_id = $1 and not consumed
		order by created_at desc
		limit 1
	`, userID).Scan(&t.ID, &t.UserID, &t.SecretHash, &t.ExpiresAt, &t.Consumed, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *ticketStore) ConsumeAndSetPassword(ctx context.Context, ticketID, userID, passwordHash string, audit *auth.AuditEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update reset_tickets set consumed = true
		where id = $1 and user_id = $2 and not consumed
	`, ticketID, userID)
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

	if _, err := tx.ExecContext(ctx, `
		update users set password_hash = $2, updated_at = now()
		where id = $1
	`, userID, passwordHash); err != nil {
		return err
	}

	if audit != nil {
		if err := appendAuditTx(ctx, tx, audit); err != nil {
			return err
		}
	}
	return tx.Commit()
}
