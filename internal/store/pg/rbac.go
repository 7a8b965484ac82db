package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"userhub.org/internal/auth"
	"userhub.org/internal/ids"
)

func (s *Store) CreateRole(ctx context.Context, role *auth.Role) error {
	if role.ID == "" {
		role.ID = ids.New()
	}
	err := s.db.QueryRowContext(ctx, `
		insert into roles (id, name, description, level, is_system)
		values ($1, $2, $3, $4, $5)
		returning created_at
	`, role.ID, role.Name, nullIfEmpty(role.Description), role.Level, role.System,
	).Scan(&role.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrConflict
		}
		return infra(err)
	}
	return nil
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (*auth.Role, error) {
	var (
		role auth.Role
		desc sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, name, description, level, is_system, created_at
		from roles where name = $1
	`, name).Scan(&role.ID, &role.Name, &desc, &role.Level, &role.System, &role.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, infra(err)
	}
	role.Description = desc.String
	return &role, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, description, level, is_system, created_at
		from roles
		order by level desc, name
	`)
	if err != nil {
		return nil, infra(err)
	}
	defer rows.Close()

	var roles []auth.Role
	for rows.Next() {
		var (
			role auth.Role
			desc sql.NullString
		)
		if err := rows.Scan(&role.ID, &role.Name, &desc, &role.Level, &role.System, &role.CreatedAt); err != nil {
			return nil, infra(err)
		}
		role.Description = desc.String
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, infra(err)
	}
	return roles, nil
}

func (s *Store) DeleteRole(ctx context.Context, roleID string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from roles where id = $1 and is_system = false
	`, roleID)
	if err != nil {
		return infra(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return infra(err)
	}
	if aff == 0 {
		// Either unknown or a protected system role.
		var system bool
		err := s.db.QueryRowContext(ctx, `select is_system from roles where id = $1`, roleID).Scan(&system)
		if errors.Is(err, sql.ErrNoRows) {
			return auth.ErrNotFound
		}
		if err != nil {
			return infra(err)
		}
		return auth.ErrConflict
	}
	return nil
}

func (s *Store) EnsurePermissions(ctx context.Context, perms []auth.Permission) error {
	for _, p := range perms {
		id := p.ID
		if id == "" {
			id = ids.New()
		}
		if _, err := s.db.ExecContext(ctx, `
			insert into permissions (id, name, module, description)
			values ($1, $2, $3, $4)
			on conflict (name) do nothing
		`, id, p.Name, p.Module, nullIfEmpty(p.Description)); err != nil {
			return infra(err)
		}
	}
	return nil
}

func (s *Store) ListPermissions(ctx context.Context) ([]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, module, description, created_at
		from permissions
		order by name
	`)
	if err != nil {
		return nil, infra(err)
	}
	defer rows.Close()

	var perms []auth.Permission
	for rows.Next() {
		var (
			p    auth.Permission
			desc sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Module, &desc, &p.CreatedAt); err != nil {
			return nil, infra(err)
		}
		p.Description = desc.String
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, infra(err)
	}
	return perms, nil
}

func (s *Store) SetRolePermissions(ctx context.Context, roleID string, permissionNames []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return infra(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		delete from role_permissions where role_id = $1
	`, roleID); err != nil {
		return infra(err)
	}
	for _, name := range permissionNames {
		res, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id)
			select $1, id from permissions where name = $2
		`, roleID, name)
		if err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return auth.ErrNotFound
			}
			return infra(err)
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return infra(err)
		}
		if aff == 0 {
			return auth.ErrNotFound
		}
	}
	if err := tx.Commit(); err != nil {
		return infra(err)
	}
	return nil
}

func (s *Store) PermissionsForRole(ctx context.Context, roleID string) ([]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.name, p.module, p.description, p.created_at
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by p.name
	`, roleID)
	if err != nil {
		return nil, infra(err)
	}
	defer rows.Close()

	var perms []auth.Permission
	for rows.Next() {
		var (
			p    auth.Permission
			desc sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Module, &desc, &p.CreatedAt); err != nil {
			return nil, infra(err)
		}
		p.Description = desc.String
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, infra(err)
	}
	return perms, nil
}

// UpsertAssignment refreshes assigned_at/assigned_by/expires_at when the pair
// already exists, keeping assignment idempotent.
func (s *Store) UpsertAssignment(ctx context.Context, a auth.RoleAssignment) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_roles (user_id, role_id, assigned_by, assigned_at, expires_at)
		values ($1, $2, $3, $4, $5)
		on conflict (user_id, role_id) do update
		set assigned_by = excluded.assigned_by,
		    assigned_at = excluded.assigned_at,
		    expires_at = excluded.expires_at
	`, a.UserID, a.RoleID, nullIfEmpty(a.AssignedBy), a.AssignedAt, nullTime(a.ExpiresAt))
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return auth.ErrNotFound
		}
		return infra(err)
	}
	return nil
}

// DeleteAssignment is a no-op when the pair does not exist.
func (s *Store) DeleteAssignment(ctx context.Context, userID, roleID string) error {
	if _, err := s.db.ExecContext(ctx, `
		delete from user_roles where user_id = $1 and role_id = $2
	`, userID, roleID); err != nil {
		return infra(err)
	}
	return nil
}

func (s *Store) ActiveRolesForUser(ctx context.Context, userID string, now time.Time) ([]auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.name, r.description, r.level, r.is_system, r.created_at
		from user_roles ur
		join roles r on r.id = ur.role_id
		join users u on u.id = ur.user_id
		where ur.user_id = $1
		  and u.deleted_at is null
		  and (ur.expires_at is null or ur.expires_at > $2)
		order by r.level desc, r.name
	`, userID, now)
	if err != nil {
		return nil, infra(err)
	}
	defer rows.Close()

	var roles []auth.Role
	for rows.Next() {
		var (
			role auth.Role
			desc sql.NullString
		)
		if err := rows.Scan(&role.ID, &role.Name, &desc, &role.Level, &role.System, &role.CreatedAt); err != nil {
			return nil, infra(err)
		}
		role.Description = desc.String
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, infra(err)
	}
	return roles, nil
}

func (s *Store) ActivePermissionsForUser(ctx context.Context, userID string, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select distinct p.name
		from user_roles ur
		join role_permissions rp on rp.role_id = ur.role_id
		join permissions p on p.id = rp.permission_id
		join users u on u.id = ur.user_id
		where ur.user_id = $1
		  and u.deleted_at is null
		  and (ur.expires_at is null or ur.expires_at > $2)
	`, userID, now)
	if err != nil {
		return nil, infra(err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, infra(err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, infra(err)
	}
	return names, nil
}
