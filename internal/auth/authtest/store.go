// Package authtest provides an in-memory auth.Store for tests. It mirrors the
// semantics of the PostgreSQL store, including typed duplicate errors and
// conditional updates.
package authtest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"userhub.org/internal/auth"
	"userhub.org/internal/ids"
)

// Store is a mutex-guarded map-backed implementation of auth.Store.
type Store struct {
	mu sync.Mutex

	users       map[string]*auth.User
	roles       map[string]*auth.Role
	permissions map[string]*auth.Permission // keyed by name
	rolePerms   map[string][]string         // roleID -> permission names
	assignments map[string]auth.RoleAssignment
	sessions    map[string]*auth.Session
	tokens      map[string]*auth.LifecycleToken
	activity    []auth.ActivityEntry
	prefs       map[string]*auth.Preferences

	failReads int
}

var _ auth.Store = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		users:       make(map[string]*auth.User),
		roles:       make(map[string]*auth.Role),
		permissions: make(map[string]*auth.Permission),
		rolePerms:   make(map[string][]string),
		assignments: make(map[string]auth.RoleAssignment),
		sessions:    make(map[string]*auth.Session),
		tokens:      make(map[string]*auth.LifecycleToken),
		prefs:       make(map[string]*auth.Preferences),
	}
}

// FailNextReads makes the next n read operations return ErrUnavailable, for
// exercising retry paths.
func (s *Store) FailNextReads(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failReads = n
}

func (s *Store) readFailure() bool {
	if s.failReads > 0 {
		s.failReads--
		return true
	}
	return false
}

// --- users ---

func (s *Store) CreateUser(ctx context.Context, u *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Username == u.Username {
			return auth.ErrDuplicateUsername
		}
		if strings.EqualFold(existing.Email, u.Email) {
			return auth.ErrDuplicateEmail
		}
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *Store) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok || u.DeletedAt != nil {
		return auth.ErrNotFound
	}
	t := at
	u.LastLogin = &t
	return nil
}

func (s *Store) UpdatePasswordRevokeSessions(ctx context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok || u.DeletedAt != nil {
		return auth.ErrNotFound
	}
	u.PasswordHash = passwordHash
	s.revokeSessionsLocked(userID)
	return nil
}

func (s *Store) SetUserActive(ctx context.Context, userID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok || u.DeletedAt != nil {
		return auth.ErrNotFound
	}
	u.Active = active
	if !active {
		s.revokeSessionsLocked(userID)
	}
	return nil
}

func (s *Store) SoftDeleteUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok || u.DeletedAt != nil {
		return auth.ErrNotFound
	}
	now := time.Now().UTC()
	u.DeletedAt = &now
	u.Active = false
	s.revokeSessionsLocked(userID)
	return nil
}

func (s *Store) revokeSessionsLocked(userID string) {
	now := time.Now().UTC()
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.Status == auth.SessionActive {
			sess.Status = auth.SessionRevoked
			sess.RevokedAt = &now
		}
	}
}

// --- roles and permissions ---

func (s *Store) CreateRole(ctx context.Context, role *auth.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.roles {
		if existing.Name == role.Name {
			return auth.ErrConflict
		}
	}
	if role.ID == "" {
		role.ID = ids.New()
	}
	if role.CreatedAt.IsZero() {
		role.CreatedAt = time.Now().UTC()
	}
	cp := *role
	s.roles[role.ID] = &cp
	return nil
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (*auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, role := range s.roles {
		if role.Name == name {
			cp := *role
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roles := make([]auth.Role, 0, len(s.roles))
	for _, role := range s.roles {
		roles = append(roles, *role)
	}
	sort.Slice(roles, func(i, j int) bool {
		if roles[i].Level != roles[j].Level {
			return roles[i].Level > roles[j].Level
		}
		return roles[i].Name < roles[j].Name
	})
	return roles, nil
}

func (s *Store) DeleteRole(ctx context.Context, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[roleID]
	if !ok {
		return auth.ErrNotFound
	}
	if role.System {
		return auth.ErrConflict
	}
	delete(s.roles, roleID)
	delete(s.rolePerms, roleID)
	for key, a := range s.assignments {
		if a.RoleID == roleID {
			delete(s.assignments, key)
		}
	}
	return nil
}

func (s *Store) EnsurePermissions(ctx context.Context, perms []auth.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range perms {
		if _, ok := s.permissions[p.Name]; ok {
			continue
		}
		cp := p
		if cp.ID == "" {
			cp.ID = ids.New()
		}
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = time.Now().UTC()
		}
		s.permissions[p.Name] = &cp
	}
	return nil
}

func (s *Store) ListPermissions(ctx context.Context) ([]auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	perms := make([]auth.Permission, 0, len(s.permissions))
	for _, p := range s.permissions {
		perms = append(perms, *p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Name < perms[j].Name })
	return perms, nil
}

func (s *Store) SetRolePermissions(ctx context.Context, roleID string, permissionNames []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return auth.ErrNotFound
	}
	for _, name := range permissionNames {
		if _, ok := s.permissions[name]; !ok {
			return auth.ErrNotFound
		}
	}
	s.rolePerms[roleID] = append([]string(nil), permissionNames...)
	return nil
}

func (s *Store) PermissionsForRole(ctx context.Context, roleID string) ([]auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var perms []auth.Permission
	for _, name := range s.rolePerms[roleID] {
		if p, ok := s.permissions[name]; ok {
			perms = append(perms, *p)
		}
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Name < perms[j].Name })
	return perms, nil
}

func assignmentKey(userID, roleID string) string {
	return userID + "/" + roleID
}

func (s *Store) UpsertAssignment(ctx context.Context, a auth.RoleAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[a.UserID]; !ok {
		return auth.ErrNotFound
	}
	if _, ok := s.roles[a.RoleID]; !ok {
		return auth.ErrNotFound
	}
	s.assignments[assignmentKey(a.UserID, a.RoleID)] = a
	return nil
}

func (s *Store) DeleteAssignment(ctx context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assignments, assignmentKey(userID, roleID))
	return nil
}

func (s *Store) ActiveRolesForUser(ctx context.Context, userID string, now time.Time) ([]auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readFailure() {
		return nil, auth.ErrUnavailable
	}
	if u, ok := s.users[userID]; !ok || u.DeletedAt != nil {
		return nil, nil
	}
	var roles []auth.Role
	for _, a := range s.assignments {
		if a.UserID != userID || !a.ActiveAt(now) {
			continue
		}
		if role, ok := s.roles[a.RoleID]; ok {
			roles = append(roles, *role)
		}
	}
	sort.Slice(roles, func(i, j int) bool {
		if roles[i].Level != roles[j].Level {
			return roles[i].Level > roles[j].Level
		}
		return roles[i].Name < roles[j].Name
	})
	return roles, nil
}

func (s *Store) ActivePermissionsForUser(ctx context.Context, userID string, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readFailure() {
		return nil, auth.ErrUnavailable
	}
	if u, ok := s.users[userID]; !ok || u.DeletedAt != nil {
		return nil, nil
	}
	seen := make(map[string]struct{})
	for _, a := range s.assignments {
		if a.UserID != userID || !a.ActiveAt(now) {
			continue
		}
		for _, name := range s.rolePerms[a.RoleID] {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// --- sessions ---

func (s *Store) CreateSession(ctx context.Context, sess *auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[sess.UserID]; !ok {
		return auth.ErrNotFound
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readFailure() {
		return nil, auth.ErrUnavailable
	}
	sess, ok := s.sessions[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *Store) RotateSession(ctx context.Context, id, oldHash, newHash string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.RefreshHash != oldHash || sess.Status != auth.SessionActive {
		return auth.ErrConflict
	}
	now := time.Now().UTC()
	sess.RefreshHash = newHash
	sess.RefreshExpiresAt = expiresAt
	sess.RotatedAt = &now
	return nil
}

func (s *Store) RevokeSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return auth.ErrNotFound
	}
	if sess.Status == auth.SessionActive {
		now := time.Now().UTC()
		sess.Status = auth.SessionRevoked
		sess.RevokedAt = &now
	}
	return nil
}

func (s *Store) RevokeUserSessions(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokeSessionsLocked(userID)
	return nil
}

func (s *Store) ListUserSessions(ctx context.Context, userID string) ([]auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sessions []auth.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			sessions = append(sessions, *sess)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// --- lifecycle tokens ---

func (s *Store) CreateLifecycleToken(ctx context.Context, t *auth.LifecycleToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[t.UserID]; !ok {
		return auth.ErrNotFound
	}
	cp := *t
	s.tokens[t.ID] = &cp
	return nil
}

func (s *Store) GetLifecycleToken(ctx context.Context, purpose, tokenHash string) (*auth.LifecycleToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		if t.Purpose == purpose && t.TokenHash == tokenHash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *Store) ConsumeTokenResetPassword(ctx context.Context, tokenID, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[tokenID]
	if !ok {
		return auth.ErrNotFound
	}
	if t.UsedAt != nil {
		return auth.ErrTokenAlreadyUsed
	}
	u, ok := s.users[userID]
	if !ok || u.DeletedAt != nil {
		return auth.ErrNotFound
	}
	now := time.Now().UTC()
	t.UsedAt = &now
	u.PasswordHash = passwordHash
	s.revokeSessionsLocked(userID)
	return nil
}

func (s *Store) ConsumeTokenVerifyEmail(ctx context.Context, tokenID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[tokenID]
	if !ok {
		return auth.ErrNotFound
	}
	if t.UsedAt != nil {
		return auth.ErrTokenAlreadyUsed
	}
	u, ok := s.users[userID]
	if !ok || u.DeletedAt != nil {
		return auth.ErrNotFound
	}
	now := time.Now().UTC()
	t.UsedAt = &now
	u.EmailVerified = true
	return nil
}

// --- activity and preferences ---

func (s *Store) AppendActivity(ctx context.Context, e *auth.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity = append(s.activity, *e)
	return nil
}

// Activity returns recorded entries for assertions.
func (s *Store) Activity(userID string) []auth.ActivityEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.ActivityEntry
	for _, e := range s.activity {
		if userID == "" || e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) GetPreferences(ctx context.Context, userID string) (*auth.Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prefs[userID]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) UpsertPreferences(ctx context.Context, p *auth.Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[p.UserID]; !ok {
		return auth.ErrNotFound
	}
	cp := *p
	s.prefs[p.UserID] = &cp
	return nil
}
