package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"userhub.org/internal/auth"
	"userhub.org/internal/auth/authtest"
)

func seedCatalog(t *testing.T, store *authtest.Store) {
	t.Helper()
	ctx := context.Background()

	perms := []auth.Permission{
		{Name: auth.PermUsersRead, Module: "users"},
		{Name: auth.PermUsersManageRoles, Module: "users"},
		{Name: auth.PermPostsRead, Module: "posts"},
		{Name: auth.PermPostsPublish, Module: "posts"},
	}
	if err := store.EnsurePermissions(ctx, perms); err != nil {
		t.Fatalf("EnsurePermissions: %v", err)
	}

	editor := &auth.Role{Name: auth.RoleEditor, Level: auth.LevelEditor, System: true}
	if err := store.CreateRole(ctx, editor); err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if err := store.SetRolePermissions(ctx, editor.ID, []string{auth.PermPostsRead, auth.PermPostsPublish}); err != nil {
		t.Fatalf("SetRolePermissions: %v", err)
	}

	admin := &auth.Role{Name: auth.RoleAdmin, Level: auth.LevelAdmin, System: true}
	if err := store.CreateRole(ctx, admin); err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if err := store.SetRolePermissions(ctx, admin.ID, []string{auth.PermUsersRead, auth.PermUsersManageRoles, auth.PermPostsRead}); err != nil {
		t.Fatalf("SetRolePermissions: %v", err)
	}
}

func newResolver(t *testing.T, store *authtest.Store, opts ...auth.ResolverOption) *auth.Resolver {
	t.Helper()
	resolver, err := auth.NewResolver(store, opts...)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return resolver
}

func TestEffectivePermissionsUnion(t *testing.T) {
	store := authtest.NewStore()
	user := seedUser(t, store)
	seedCatalog(t, store)
	resolver := newResolver(t, store)
	ctx := context.Background()

	if err := resolver.AssignRole(ctx, user.ID, auth.RoleEditor, "", nil); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if err := resolver.AssignRole(ctx, user.ID, auth.RoleAdmin, "", nil); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}

	perms, err := resolver.EffectivePermissions(ctx, user.ID)
	if err != nil {
		t.Fatalf("EffectivePermissions: %v", err)
	}
	want := []string{auth.PermUsersRead, auth.PermUsersManageRoles, auth.PermPostsRead, auth.PermPostsPublish}
	if len(perms) != len(want) {
		t.Fatalf("expected %d permissions, got %d: %v", len(want), len(perms), perms)
	}
	for _, name := range want {
		if _, ok := perms[name]; !ok {
			t.Fatalf("missing permission %s", name)
		}
	}
}

func TestHasPermission(t *testing.T) {
	store := authtest.NewStore()
	user := seedUser(t, store)
	seedCatalog(t, store)
	resolver := newResolver(t, store)
	ctx := context.Background()

	if err := resolver.AssignRole(ctx, user.ID, auth.RoleEditor, "", nil); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}

	ok, err := resolver.HasPermission(ctx, user.ID, auth.PermPostsPublish)
	if err != nil || !ok {
		t.Fatalf("expected granted, got ok=%v err=%v", ok, err)
	}
	ok, err = resolver.HasPermission(ctx, user.ID, auth.PermUsersManageRoles)
	if err != nil || ok {
		t.Fatalf("expected denied, got ok=%v err=%v", ok, err)
	}

	// Malformed names are denied, not an error.
	for _, raw := range []string{"", "users", "Users:Read", "a:b:c"} {
		ok, err := resolver.HasPermission(ctx, user.ID, raw)
		if err != nil || ok {
			t.Fatalf("HasPermission(%q): expected quiet denial, got ok=%v err=%v", raw, ok, err)
		}
	}

	// Infrastructure failure surfaces as an error, never a silent denial.
	store.FailNextReads(2)
	if _, err := resolver.HasPermission(ctx, user.ID, auth.PermPostsRead); !errors.Is(err, auth.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestAssignRoleIsIdempotent(t *testing.T) {
	store := authtest.NewStore()
	user := seedUser(t, store)
	seedCatalog(t, store)
	resolver := newResolver(t, store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := resolver.AssignRole(ctx, user.ID, auth.RoleEditor, "", nil); err != nil {
			t.Fatalf("AssignRole #%d: %v", i, err)
		}
	}
	roles, err := resolver.Roles(ctx, user.ID)
	if err != nil {
		t.Fatalf("Roles: %v", err)
	}
	if len(roles) != 1 || roles[0].Name != auth.RoleEditor {
		t.Fatalf("unexpected roles: %v", roles)
	}
}

func TestRemoveRoleImmediateAndIdempotent(t *testing.T) {
	store := authtest.NewStore()
	user := seedUser(t, store)
	seedCatalog(t, store)
	resolver := newResolver(t, store)
	ctx := context.Background()

	if err := resolver.AssignRole(ctx, user.ID, auth.RoleEditor, "", nil); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if err := resolver.RemoveRole(ctx, user.ID, auth.RoleEditor); err != nil {
		t.Fatalf("RemoveRole: %v", err)
	}

	// The removal is visible to the very next query.
	ok, err := resolver.HasPermission(ctx, user.ID, auth.PermPostsRead)
	if err != nil || ok {
		t.Fatalf("expected permission gone, got ok=%v err=%v", ok, err)
	}

	// Removing an unheld or unknown role is a no-op.
	if err := resolver.RemoveRole(ctx, user.ID, auth.RoleEditor); err != nil {
		t.Fatalf("RemoveRole repeat: %v", err)
	}
	if err := resolver.RemoveRole(ctx, user.ID, "no_such_role"); err != nil {
		t.Fatalf("RemoveRole unknown: %v", err)
	}
}

func TestExpiredAssignmentGrantsNothing(t *testing.T) {
	store := authtest.NewStore()
	user := seedUser(t, store)
	seedCatalog(t, store)

	current := time.Now().UTC()
	resolver := newResolver(t, store, auth.WithResolverClock(func() time.Time { return current }))
	ctx := context.Background()

	expiry := current.Add(time.Hour)
	if err := resolver.AssignRole(ctx, user.ID, auth.RoleEditor, "", &expiry); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}

	ok, err := resolver.HasPermission(ctx, user.ID, auth.PermPostsRead)
	if err != nil || !ok {
		t.Fatalf("expected granted before expiry, got ok=%v err=%v", ok, err)
	}

	current = current.Add(2 * time.Hour)
	ok, err = resolver.HasPermission(ctx, user.ID, auth.PermPostsRead)
	if err != nil || ok {
		t.Fatalf("expected denied after expiry, got ok=%v err=%v", ok, err)
	}
	if has, err := resolver.HasRole(ctx, user.ID, auth.RoleEditor); err != nil || has {
		t.Fatalf("expected role inactive after expiry, got has=%v err=%v", has, err)
	}
}

func TestHasRoleAndLevels(t *testing.T) {
	store := authtest.NewStore()
	user := seedUser(t, store)
	seedCatalog(t, store)
	resolver := newResolver(t, store)
	ctx := context.Background()

	if err := resolver.AssignRole(ctx, user.ID, auth.RoleEditor, "", nil); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}

	if has, _ := resolver.HasRole(ctx, user.ID, auth.RoleEditor); !has {
		t.Fatal("expected editor role")
	}
	// Exact name match only: a higher-level role does not imply lower names.
	if has, _ := resolver.HasRole(ctx, user.ID, auth.RoleAdmin); has {
		t.Fatal("unexpected admin role")
	}

	if ok, _ := resolver.AtLeastLevel(ctx, user.ID, auth.LevelAuthor); !ok {
		t.Fatal("editor should satisfy author level")
	}
	if ok, _ := resolver.AtLeastLevel(ctx, user.ID, auth.LevelAdmin); ok {
		t.Fatal("editor should not satisfy admin level")
	}
}

func TestUnknownUserHasNoPermissions(t *testing.T) {
	store := authtest.NewStore()
	seedCatalog(t, store)
	resolver := newResolver(t, store)
	ctx := context.Background()

	perms, err := resolver.EffectivePermissions(ctx, "no-such-user")
	if err != nil {
		t.Fatalf("EffectivePermissions: %v", err)
	}
	if len(perms) != 0 {
		t.Fatalf("expected empty set, got %v", perms)
	}
}

func TestSoftDeletedUserResolvesNothing(t *testing.T) {
	store := authtest.NewStore()
	user := seedUser(t, store)
	seedCatalog(t, store)
	resolver := newResolver(t, store)
	ctx := context.Background()

	if err := resolver.AssignRole(ctx, user.ID, auth.RoleEditor, "", nil); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if ok, err := resolver.HasPermission(ctx, user.ID, auth.PermPostsRead); err != nil || !ok {
		t.Fatalf("expected granted before delete, got ok=%v err=%v", ok, err)
	}

	if err := store.SoftDeleteUser(ctx, user.ID); err != nil {
		t.Fatalf("SoftDeleteUser: %v", err)
	}

	// The assignment rows survive, but a deleted user resolves nothing.
	ok, err := resolver.HasPermission(ctx, user.ID, auth.PermPostsRead)
	if err != nil || ok {
		t.Fatalf("expected denied after delete, got ok=%v err=%v", ok, err)
	}
	perms, err := resolver.EffectivePermissions(ctx, user.ID)
	if err != nil {
		t.Fatalf("EffectivePermissions: %v", err)
	}
	if len(perms) != 0 {
		t.Fatalf("expected empty set, got %v", perms)
	}
	roles, err := resolver.Roles(ctx, user.ID)
	if err != nil {
		t.Fatalf("Roles: %v", err)
	}
	if len(roles) != 0 {
		t.Fatalf("expected no roles, got %v", roles)
	}
}

func TestRoleCatalogManagement(t *testing.T) {
	store := authtest.NewStore()
	seedCatalog(t, store)
	resolver := newResolver(t, store)
	ctx := context.Background()

	role, err := resolver.CreateRole(ctx, "moderator", "Community moderation", 15)
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if role.ID == "" {
		t.Fatal("expected generated role id")
	}

	// Invalid names are rejected.
	for _, name := range []string{"", "Has Space", "UPPER"} {
		if _, err := resolver.CreateRole(ctx, name, "", 1); !errors.Is(err, auth.ErrInvalidInput) {
			t.Fatalf("CreateRole(%q): expected ErrInvalidInput, got %v", name, err)
		}
	}

	if err := resolver.SetRolePermissions(ctx, "moderator", []string{auth.PermPostsRead, "comments:moderate"}); err != nil {
		t.Fatalf("SetRolePermissions: %v", err)
	}
	perms, err := resolver.RolePermissions(ctx, "moderator")
	if err != nil {
		t.Fatalf("RolePermissions: %v", err)
	}
	if len(perms) != 2 {
		t.Fatalf("expected 2 permissions, got %v", perms)
	}

	// Names violating module:action are rejected before touching the store.
	if err := resolver.SetRolePermissions(ctx, "moderator", []string{"badname"}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	if err := resolver.DeleteRole(ctx, "moderator"); err != nil {
		t.Fatalf("DeleteRole: %v", err)
	}
	// System roles refuse deletion.
	if err := resolver.DeleteRole(ctx, auth.RoleEditor); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict for system role, got %v", err)
	}
}
