package pg

import (
	"context"
	"database/sql"
	"errors"

	"userhub.org/internal/auth"
)

func (s *Store) CreateLifecycleToken(ctx context.Context, t *auth.LifecycleToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into lifecycle_tokens (id, user_id, purpose, token_hash, expires_at, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.UserID, t.Purpose, t.TokenHash, t.ExpiresAt, t.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return auth.ErrNotFound
		}
		return infra(err)
	}
	return nil
}

func (s *Store) GetLifecycleToken(ctx context.Context, purpose, tokenHash string) (*auth.LifecycleToken, error) {
	var (
		t      auth.LifecycleToken
		usedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, purpose, token_hash, expires_at, created_at, used_at
		from lifecycle_tokens
		where purpose = $1 and token_hash = $2
	`, purpose, tokenHash).Scan(&t.ID, &t.UserID, &t.Purpose, &t.TokenHash,
		&t.ExpiresAt, &t.CreatedAt, &usedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, infra(err)
	}
	t.UsedAt = timePtr(usedAt)
	return &t, nil
}

// ConsumeTokenResetPassword marks the token used, swaps the password hash and
// revokes all sessions in a single transaction. The conditional update on
// used_at guarantees at-most-once consumption under concurrency.
func (s *Store) ConsumeTokenResetPassword(ctx context.Context, tokenID, userID, passwordHash string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return infra(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := consumeToken(ctx, tx, tokenID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
		update users set password_hash = $2, updated_at = now()
		where id = $1 and deleted_at is null
	`, userID, passwordHash)
	if err != nil {
		return infra(err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		update sessions set status = 'revoked', revoked_at = now()
		where user_id = $1 and status = 'active'
	`, userID); err != nil {
		return infra(err)
	}
	if err := tx.Commit(); err != nil {
		return infra(err)
	}
	return nil
}

// ConsumeTokenVerifyEmail marks the token used and flags the account verified.
func (s *Store) ConsumeTokenVerifyEmail(ctx context.Context, tokenID, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return infra(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := consumeToken(ctx, tx, tokenID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
		update users set is_email_verified = true, updated_at = now()
		where id = $1 and deleted_at is null
	`, userID)
	if err != nil {
		return infra(err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return infra(err)
	}
	return nil
}

func consumeToken(ctx context.Context, tx *sql.Tx, tokenID string) error {
	res, err := tx.ExecContext(ctx, `
		update lifecycle_tokens set used_at = now()
		where id = $1 and used_at is null
	`, tokenID)
	if err != nil {
		return infra(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return infra(err)
	}
	if aff == 0 {
		return auth.ErrTokenAlreadyUsed
	}
	return nil
}
