package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"userhub.org/internal/auth"
)

const userColumns = `id, username, email, password_hash, first_name, last_name,
	avatar_url, bio, phone, is_active, is_email_verified, last_login,
	created_at, updated_at, deleted_at`

func (s *Store) CreateUser(ctx context.Context, u *auth.User) error {
	_, err := s.db.ExecContext(ctx, `
		insert into users (id, username, email, password_hash, first_name,
			last_name, avatar_url, bio, phone, is_active, is_email_verified,
			created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, u.ID, u.Username, u.Email, u.PasswordHash,
		nullIfEmpty(u.FirstName), nullIfEmpty(u.LastName), nullIfEmpty(u.AvatarURL),
		nullIfEmpty(u.Bio), nullIfEmpty(u.Phone), u.Active, u.EmailVerified,
		u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			if strings.Contains(pgErr.ConstraintName, "username") {
				return auth.ErrDuplicateUsername
			}
			return auth.ErrDuplicateEmail
		}
		return infra(err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*auth.User, error) {
	return s.userBy(ctx, `where id = $1`, id)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*auth.User, error) {
	return s.userBy(ctx, `where username = $1`, username)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.userBy(ctx, `where lower(email) = lower($1)`, email)
}

func (s *Store) userBy(ctx context.Context, where string, arg any) (*auth.User, error) {
	var (
		u                           auth.User
		firstName, lastName, avatar sql.NullString
		bio, phone                  sql.NullString
		lastLogin, deletedAt        sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users `+where, arg,
	).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &firstName, &lastName,
		&avatar, &bio, &phone, &u.Active, &u.EmailVerified, &lastLogin,
		&u.CreatedAt, &u.UpdatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, infra(err)
	}
	u.FirstName = firstName.String
	u.LastName = lastName.String
	u.AvatarURL = avatar.String
	u.Bio = bio.String
	u.Phone = phone.String
	u.LastLogin = timePtr(lastLogin)
	u.DeletedAt = timePtr(deletedAt)
	return &u, nil
}

func (s *Store) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update users set last_login = $2, updated_at = now()
		where id = $1 and deleted_at is null
	`, userID, at)
	if err != nil {
		return infra(err)
	}
	return requireRow(res)
}

// UpdatePasswordRevokeSessions replaces the hash and revokes every active
// session in one transaction, so no token issued before the change validates
// after it commits.
func (s *Store) UpdatePasswordRevokeSessions(ctx context.Context, userID, passwordHash string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return infra(err)
	}
	defer func() { _ = tx.Rollback() }()

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

func (s *Store) SetUserActive(ctx context.Context, userID string, active bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return infra(err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update users set is_active = $2, updated_at = now()
		where id = $1 and deleted_at is null
	`, userID, active)
	if err != nil {
		return infra(err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	if !active {
		if _, err := tx.ExecContext(ctx, `
			update sessions set status = 'revoked', revoked_at = now()
			where user_id = $1 and status = 'active'
		`, userID); err != nil {
			return infra(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return infra(err)
	}
	return nil
}

// SoftDeleteUser marks the record deleted and revokes sessions. The row and
// its activity log survive.
func (s *Store) SoftDeleteUser(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return infra(err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update users set deleted_at = now(), is_active = false, updated_at = now()
		where id = $1 and deleted_at is null
	`, userID)
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

func requireRow(res sql.Result) error {
	aff, err := res.RowsAffected()
	if err != nil {
		return infra(err)
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}
