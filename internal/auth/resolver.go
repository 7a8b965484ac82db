package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"userhub.org/internal/obs"
)

// Resolver answers role and permission queries. Resolution is uncached: every
// call reads the current assignments, so a role removal is visible to the next
// query with no stale window. Expired assignments are treated identically to
// absent ones.
type Resolver struct {
	store        Store
	recorder     *Recorder
	storeTimeout time.Duration
	now          func() time.Time
}

// ResolverOption configures Resolver behavior.
type ResolverOption func(*Resolver)

// WithResolverClock overrides the time source (tests).
func WithResolverClock(fn func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if fn != nil {
			r.now = fn
		}
	}
}

// WithResolverRecorder attaches an activity recorder for role mutations.
func WithResolverRecorder(rec *Recorder) ResolverOption {
	return func(r *Resolver) {
		r.recorder = rec
	}
}

// WithResolverStoreTimeout bounds persistence reads made per check.
func WithResolverStoreTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.storeTimeout = d
		}
	}
}

// NewResolver constructs a Resolver over the given store.
func NewResolver(store Store, opts ...ResolverOption) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("auth: resolver store is required")
	}
	r := &Resolver{
		store:        store,
		storeTimeout: defaultStoreTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// EffectivePermissions returns the union of permission names granted through
// the user's currently non-expired role assignments.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID string) (map[string]struct{}, error) {
	names, err := r.readPermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set, nil
}

// HasPermission reports whether the user holds the named permission. Unknown
// or malformed permission names yield false, not an error; an infrastructure
// failure is returned as an error so callers can distinguish "cannot confirm"
// from "denied".
func (r *Resolver) HasPermission(ctx context.Context, userID, permissionName string) (bool, error) {
	if _, err := ParsePermission(permissionName); err != nil {
		return false, nil
	}
	names, err := r.readPermissions(ctx, userID)
	if err != nil {
		obs.ObservePermissionCheck("error")
		return false, err
	}
	for _, n := range names {
		if n == permissionName {
			obs.ObservePermissionCheck("granted")
			return true, nil
		}
	}
	obs.ObservePermissionCheck("denied")
	return false, nil
}

// HasRole reports exact-name membership among the user's active assignments.
// Hierarchy is not implied; use AtLeastLevel for coarse level checks.
func (r *Resolver) HasRole(ctx context.Context, userID, roleName string) (bool, error) {
	roleName = strings.TrimSpace(roleName)
	if roleName == "" {
		return false, nil
	}
	roles, err := r.readRoles(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, role := range roles {
		if role.Name == roleName {
			return true, nil
		}
	}
	return false, nil
}

// AtLeastLevel reports whether any active assignment carries a role of at
// least the given hierarchy level.
func (r *Resolver) AtLeastLevel(ctx context.Context, userID string, level int) (bool, error) {
	roles, err := r.readRoles(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, role := range roles {
		if role.Level >= level {
			return true, nil
		}
	}
	return false, nil
}

// Roles returns the user's active roles.
func (r *Resolver) Roles(ctx context.Context, userID string) ([]Role, error) {
	return r.readRoles(ctx, userID)
}

// AssignRole grants roleName to the user. Assigning an already-held active
// role is a no-op. The assignment may carry an expiry.
func (r *Resolver) AssignRole(ctx context.Context, userID, roleName, assignedBy string, expiresAt *time.Time) error {
	role, err := r.store.GetRoleByName(ctx, strings.TrimSpace(roleName))
	if err != nil {
		return err
	}
	assignment := RoleAssignment{
		UserID:     userID,
		RoleID:     role.ID,
		AssignedBy: assignedBy,
		AssignedAt: r.now().UTC(),
		ExpiresAt:  expiresAt,
	}
	if err := r.store.UpsertAssignment(ctx, assignment); err != nil {
		return err
	}
	r.recorder.Record(ctx, ActivityEntry{
		UserID:     userID,
		Action:     ActionRoleAssigned,
		EntityType: "role",
		EntityID:   role.ID,
		Metadata:   map[string]any{"role": role.Name, "assigned_by": assignedBy},
	})
	return nil
}

// RemoveRole revokes roleName from the user. Removing an unheld role is a
// no-op. The removal is visible to the next permission query.
func (r *Resolver) RemoveRole(ctx context.Context, userID, roleName string) error {
	role, err := r.store.GetRoleByName(ctx, strings.TrimSpace(roleName))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if err := r.store.DeleteAssignment(ctx, userID, role.ID); err != nil {
		return err
	}
	r.recorder.Record(ctx, ActivityEntry{
		UserID:     userID,
		Action:     ActionRoleRemoved,
		EntityType: "role",
		EntityID:   role.ID,
		Metadata:   map[string]any{"role": role.Name},
	})
	return nil
}

// CreateRole adds a custom role to the catalog. System roles come from the
// seed data; roles created here can be deleted later.
func (r *Resolver) CreateRole(ctx context.Context, name, description string, level int) (*Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidInput
	}
	if name != strings.ToLower(name) || strings.ContainsAny(name, " \t\n") {
		return nil, ErrInvalidInput
	}
	if level < 0 {
		return nil, ErrInvalidInput
	}
	role := &Role{
		Name:        name,
		Description: strings.TrimSpace(description),
		Level:       level,
	}
	if err := r.store.CreateRole(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

// DeleteRole removes a custom role by name. System roles refuse deletion with
// ErrConflict.
func (r *Resolver) DeleteRole(ctx context.Context, roleName string) error {
	role, err := r.store.GetRoleByName(ctx, strings.TrimSpace(roleName))
	if err != nil {
		return err
	}
	return r.store.DeleteRole(ctx, role.ID)
}

// ListRoles returns the whole role catalog.
func (r *Resolver) ListRoles(ctx context.Context) ([]Role, error) {
	return r.store.ListRoles(ctx)
}

// ListPermissions returns the whole permission catalog.
func (r *Resolver) ListPermissions(ctx context.Context) ([]Permission, error) {
	return r.store.ListPermissions(ctx)
}

// RolePermissions returns the permissions granted by one role.
func (r *Resolver) RolePermissions(ctx context.Context, roleName string) ([]Permission, error) {
	role, err := r.store.GetRoleByName(ctx, strings.TrimSpace(roleName))
	if err != nil {
		return nil, err
	}
	return r.store.PermissionsForRole(ctx, role.ID)
}

// SetRolePermissions replaces the role's grant set. Every name must satisfy
// the module:action convention; unknown names are added to the catalog first.
func (r *Resolver) SetRolePermissions(ctx context.Context, roleName string, permissionNames []string) error {
	role, err := r.store.GetRoleByName(ctx, strings.TrimSpace(roleName))
	if err != nil {
		return err
	}
	perms := make([]Permission, 0, len(permissionNames))
	for _, raw := range permissionNames {
		name, err := ParsePermission(raw)
		if err != nil {
			return err
		}
		perms = append(perms, Permission{Name: string(name), Module: name.Module()})
	}
	if len(perms) > 0 {
		if err := r.store.EnsurePermissions(ctx, perms); err != nil {
			return err
		}
	}
	return r.store.SetRolePermissions(ctx, role.ID, permissionNames)
}

// readPermissions is an idempotent read: bounded by the store timeout and
// retried once on infrastructure failure.
func (r *Resolver) readPermissions(ctx context.Context, userID string) ([]string, error) {
	readCtx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()
	now := r.now().UTC()
	names, err := r.store.ActivePermissionsForUser(readCtx, userID, now)
	if err != nil && errors.Is(err, ErrUnavailable) {
		names, err = r.store.ActivePermissionsForUser(readCtx, userID, now)
	}
	return names, err
}

func (r *Resolver) readRoles(ctx context.Context, userID string) ([]Role, error) {
	readCtx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()
	now := r.now().UTC()
	roles, err := r.store.ActiveRolesForUser(readCtx, userID, now)
	if err != nil && errors.Is(err, ErrUnavailable) {
		roles, err = r.store.ActiveRolesForUser(readCtx, userID, now)
	}
	return roles, err
}
