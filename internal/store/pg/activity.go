package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"userhub.org/internal/auth"
)

func (s *Store) AppendActivity(ctx context.Context, e *auth.ActivityEntry) error {
	var metadata []byte
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return infra(err)
		}
		metadata = raw
	}
	if _, err := s.db.ExecContext(ctx, `
		insert into activity_logs (id, user_id, action, entity_type, entity_id,
			ip_address, user_agent, metadata, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.UserID, e.Action, nullIfEmpty(e.EntityType), nullIfEmpty(e.EntityID),
		nullIfEmpty(e.IP), nullIfEmpty(e.UserAgent), metadata, e.CreatedAt); err != nil {
		return infra(err)
	}
	return nil
}

func (s *Store) GetPreferences(ctx context.Context, userID string) (*auth.Preferences, error) {
	var p auth.Preferences
	err := s.db.QueryRowContext(ctx, `
		select user_id, theme, language, timezone, email_notifications,
			digest_frequency, two_factor_enabled, created_at, updated_at
		from user_preferences where user_id = $1
	`, userID).Scan(&p.UserID, &p.Theme, &p.Language, &p.Timezone,
		&p.EmailNotifications, &p.DigestFrequency, &p.TwoFactorEnabled,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, infra(err)
	}
	return &p, nil
}

func (s *Store) UpsertPreferences(ctx context.Context, p *auth.Preferences) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_preferences (user_id, theme, language, timezone,
			email_notifications, digest_frequency, two_factor_enabled, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, now(), now())
		on conflict (user_id) do update
		set theme = excluded.theme,
		    language = excluded.language,
		    timezone = excluded.timezone,
		    email_notifications = excluded.email_notifications,
		    digest_frequency = excluded.digest_frequency,
		    two_factor_enabled = excluded.two_factor_enabled,
		    updated_at = now()
	`, p.UserID, p.Theme, p.Language, p.Timezone,
		p.EmailNotifications, p.DigestFrequency, p.TwoFactorEnabled)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return auth.ErrNotFound
		}
		return infra(err)
	}
	return nil
}
