package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"userhub.org/internal/auth"
)

func (s *Store) CreateSession(ctx context.Context, sess *auth.Session) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sessions (id, user_id, refresh_hash, ip_address, user_agent,
			status, refresh_expires_at, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, sess.ID, sess.UserID, sess.RefreshHash, nullIfEmpty(sess.IP),
		nullIfEmpty(sess.UserAgent), sess.Status, sess.RefreshExpiresAt, sess.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return auth.ErrNotFound
		}
		return infra(err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*auth.Session, error) {
	var (
		sess                 auth.Session
		ip, agent            sql.NullString
		rotatedAt, revokedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, refresh_hash, ip_address, user_agent, status,
			refresh_expires_at, created_at, rotated_at, revoked_at
		from sessions where id = $1
	`, id).Scan(&sess.ID, &sess.UserID, &sess.RefreshHash, &ip, &agent,
		&sess.Status, &sess.RefreshExpiresAt, &sess.CreatedAt, &rotatedAt, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, infra(err)
	}
	sess.IP = ip.String
	sess.UserAgent = agent.String
	sess.RotatedAt = timePtr(rotatedAt)
	sess.RevokedAt = timePtr(revokedAt)
	return &sess, nil
}

// RotateSession is the atomic step of refresh rotation: the update is keyed
// on the current refresh digest and active status, so two concurrent
// refreshes with the same token cannot both succeed.
func (s *Store) RotateSession(ctx context.Context, id, oldHash, newHash string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update sessions
		set refresh_hash = $3, refresh_expires_at = $4, rotated_at = now()
		where id = $1 and refresh_hash = $2 and status = 'active'
	`, id, oldHash, newHash, expiresAt)
	if err != nil {
		return infra(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return infra(err)
	}
	if aff == 0 {
		return auth.ErrConflict
	}
	return nil
}

func (s *Store) RevokeSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		update sessions set status = 'revoked', revoked_at = now()
		where id = $1 and status = 'active'
	`, id)
	if err != nil {
		return infra(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return infra(err)
	}
	if aff == 0 {
		// Revoking an already-revoked or unknown session is not an error for
		// the logout path; distinguish only unknown ids.
		var exists bool
		err := s.db.QueryRowContext(ctx, `select true from sessions where id = $1`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return auth.ErrNotFound
		}
		if err != nil {
			return infra(err)
		}
	}
	return nil
}

func (s *Store) RevokeUserSessions(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `
		update sessions set status = 'revoked', revoked_at = now()
		where user_id = $1 and status = 'active'
	`, userID); err != nil {
		return infra(err)
	}
	return nil
}

func (s *Store) ListUserSessions(ctx context.Context, userID string) ([]auth.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, refresh_hash, ip_address, user_agent, status,
			refresh_expires_at, created_at, rotated_at, revoked_at
		from sessions
		where user_id = $1
		order by created_at desc
	`, userID)
	if err != nil {
		return nil, infra(err)
	}
	defer rows.Close()

	var sessions []auth.Session
	for rows.Next() {
		var (
			sess                 auth.Session
			ip, agent            sql.NullString
			rotatedAt, revokedAt sql.NullTime
		)
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.RefreshHash, &ip, &agent,
			&sess.Status, &sess.RefreshExpiresAt, &sess.CreatedAt, &rotatedAt, &revokedAt); err != nil {
			return nil, infra(err)
		}
		sess.IP = ip.String
		sess.UserAgent = agent.String
		sess.RotatedAt = timePtr(rotatedAt)
		sess.RevokedAt = timePtr(revokedAt)
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, infra(err)
	}
	return sessions, nil
}
