package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"userhub.org/internal/auth"
	"userhub.org/internal/auth/authtest"
)

type testAPI struct {
	api     *API
	handler http.Handler
	store   *authtest.Store
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store := authtest.NewStore()
	recorder := auth.NewRecorder(store)

	accounts, err := auth.NewAccounts(store, auth.NewHasher(4), auth.WithRecorder(recorder))
	if err != nil {
		t.Fatalf("NewAccounts: %v", err)
	}
	issuer, err := auth.NewIssuer(store, "0123456789abcdef0123456789abcdef",
		auth.WithIssuerRecorder(recorder))
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	resolver, err := auth.NewResolver(store, auth.WithResolverRecorder(recorder))
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	api := New(Options{
		Version:  "test",
		Accounts: accounts,
		Issuer:   issuer,
		Resolver: resolver,
		Recorder: recorder,
	})
	return &testAPI{api: api, handler: api.Handler(), store: store}
}

func (ta *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

type authPayload struct {
	User   auth.User      `json:"user"`
	Tokens auth.TokenPair `json:"tokens"`
}

func (ta *testAPI) register(t *testing.T, username, email, password string) authPayload {
	t.Helper()
	rec := ta.do(t, http.MethodPost, "/v1/auth/register", "", map[string]any{
		"username": username,
		"email":    email,
		"password": password,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status %d, body %s", rec.Code, rec.Body.String())
	}
	var payload authPayload
	decodeBody(t, rec, &payload)
	return payload
}

func TestRegisterLoginFlow(t *testing.T) {
	ta := newTestAPI(t)

	payload := ta.register(t, "alice", "alice@example.com", "sturdy-pass-9")
	if payload.Tokens.AccessToken == "" || payload.Tokens.RefreshToken == "" {
		t.Fatal("expected token pair on registration")
	}
	if payload.User.Username != "alice" {
		t.Fatalf("unexpected user: %+v", payload.User)
	}

	rec := ta.do(t, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"username": "alice",
		"password": "sturdy-pass-9",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d, body %s", rec.Code, rec.Body.String())
	}

	// Duplicate registration conflicts.
	rec = ta.do(t, http.MethodPost, "/v1/auth/register", "", map[string]any{
		"username": "alice",
		"email":    "other@example.com",
		"password": "sturdy-pass-9",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate register: status %d", rec.Code)
	}
}

func TestLoginFailureIsUniform(t *testing.T) {
	ta := newTestAPI(t)
	ta.register(t, "alice", "alice@example.com", "sturdy-pass-9")

	wrongPassword := ta.do(t, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"username": "alice", "password": "wrong-pass-9",
	})
	unknownUser := ta.do(t, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"username": "nobody", "password": "wrong-pass-9",
	})
	if wrongPassword.Code != http.StatusUnauthorized || unknownUser.Code != http.StatusUnauthorized {
		t.Fatalf("statuses: %d, %d", wrongPassword.Code, unknownUser.Code)
	}

	var a, b map[string]any
	decodeBody(t, wrongPassword, &a)
	decodeBody(t, unknownUser, &b)
	if a["error"] != b["error"] {
		t.Fatalf("error messages differ: %v vs %v", a["error"], b["error"])
	}
}

func TestMeRequiresAuth(t *testing.T) {
	ta := newTestAPI(t)
	payload := ta.register(t, "alice", "alice@example.com", "sturdy-pass-9")

	if rec := ta.do(t, http.MethodGet, "/v1/users/me", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated me: status %d", rec.Code)
	}
	if rec := ta.do(t, http.MethodGet, "/v1/users/me", "garbage-token", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: status %d", rec.Code)
	}

	rec := ta.do(t, http.MethodGet, "/v1/users/me", payload.Tokens.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: status %d, body %s", rec.Code, rec.Body.String())
	}
	var body struct {
		User auth.User `json:"user"`
	}
	decodeBody(t, rec, &body)
	if body.User.ID != payload.User.ID {
		t.Fatalf("wrong user: %+v", body.User)
	}
}

func TestRefreshRotationViaHTTP(t *testing.T) {
	ta := newTestAPI(t)
	payload := ta.register(t, "alice", "alice@example.com", "sturdy-pass-9")

	rec := ta.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]any{
		"refresh_token": payload.Tokens.RefreshToken,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: status %d, body %s", rec.Code, rec.Body.String())
	}

	// Replaying the consumed token fails.
	rec = ta.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]any{
		"refresh_token": payload.Tokens.RefreshToken,
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("replayed refresh: status %d", rec.Code)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	ta := newTestAPI(t)
	payload := ta.register(t, "alice", "alice@example.com", "sturdy-pass-9")
	token := payload.Tokens.AccessToken

	if rec := ta.do(t, http.MethodPost, "/v1/auth/logout", token, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("logout: status %d", rec.Code)
	}
	if rec := ta.do(t, http.MethodGet, "/v1/users/me", token, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("me after logout: status %d", rec.Code)
	}
}

func TestPasswordResetRequestNeverSignals(t *testing.T) {
	ta := newTestAPI(t)
	ta.register(t, "alice", "alice@example.com", "sturdy-pass-9")

	known := ta.do(t, http.MethodPost, "/v1/auth/password/reset-request", "", map[string]any{
		"email": "alice@example.com",
	})
	unknown := ta.do(t, http.MethodPost, "/v1/auth/password/reset-request", "", map[string]any{
		"email": "stranger@example.com",
	})
	if known.Code != http.StatusAccepted || unknown.Code != http.StatusAccepted {
		t.Fatalf("statuses: %d, %d", known.Code, unknown.Code)
	}
	if bytes.Contains(known.Body.Bytes(), []byte("token")) {
		t.Fatalf("reset response leaks token material: %s", known.Body.String())
	}
}

func TestRoleEndpointsRequirePermission(t *testing.T) {
	ta := newTestAPI(t)
	ctx := context.Background()

	// Seed an admin role granting the management permissions.
	if err := ta.store.EnsurePermissions(ctx, []auth.Permission{
		{Name: auth.PermUsersRead, Module: "users"},
		{Name: auth.PermUsersManageRoles, Module: "users"},
		{Name: auth.PermSettingsManageRoles, Module: "settings"},
	}); err != nil {
		t.Fatalf("EnsurePermissions: %v", err)
	}
	adminRole := &auth.Role{Name: auth.RoleAdmin, Level: auth.LevelAdmin, System: true}
	if err := ta.store.CreateRole(ctx, adminRole); err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if err := ta.store.SetRolePermissions(ctx, adminRole.ID, []string{
		auth.PermUsersRead, auth.PermUsersManageRoles, auth.PermSettingsManageRoles,
	}); err != nil {
		t.Fatalf("SetRolePermissions: %v", err)
	}

	admin := ta.register(t, "root", "root@example.com", "sturdy-pass-9")
	plain := ta.register(t, "bob", "bob@example.com", "sturdy-pass-9")
	if err := ta.store.UpsertAssignment(ctx, auth.RoleAssignment{
		UserID: admin.User.ID, RoleID: adminRole.ID,
	}); err != nil {
		t.Fatalf("UpsertAssignment: %v", err)
	}

	// Plain user is forbidden.
	if rec := ta.do(t, http.MethodGet, "/v1/roles", plain.Tokens.AccessToken, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("plain list roles: status %d", rec.Code)
	}

	// Admin can list and assign.
	if rec := ta.do(t, http.MethodGet, "/v1/roles", admin.Tokens.AccessToken, nil); rec.Code != http.StatusOK {
		t.Fatalf("admin list roles: status %d, body %s", rec.Code, rec.Body.String())
	}
	rec := ta.do(t, http.MethodPost, "/v1/users/"+plain.User.ID+"/roles", admin.Tokens.AccessToken, map[string]any{
		"role": auth.RoleAdmin,
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("assign role: status %d, body %s", rec.Code, rec.Body.String())
	}

	// The grant takes effect without re-login.
	if rec := ta.do(t, http.MethodGet, "/v1/roles", plain.Tokens.AccessToken, nil); rec.Code != http.StatusOK {
		t.Fatalf("promoted list roles: status %d", rec.Code)
	}

	// Remove and the access disappears on the next check.
	rec = ta.do(t, http.MethodDelete, "/v1/users/"+plain.User.ID+"/roles/"+auth.RoleAdmin, admin.Tokens.AccessToken, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("remove role: status %d", rec.Code)
	}
	if rec := ta.do(t, http.MethodGet, "/v1/roles", plain.Tokens.AccessToken, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("demoted list roles: status %d", rec.Code)
	}
}

func TestPreferencesRoundTrip(t *testing.T) {
	ta := newTestAPI(t)
	payload := ta.register(t, "alice", "alice@example.com", "sturdy-pass-9")
	token := payload.Tokens.AccessToken

	rec := ta.do(t, http.MethodGet, "/v1/users/me/preferences", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get preferences: status %d", rec.Code)
	}
	var prefs auth.Preferences
	decodeBody(t, rec, &prefs)
	if prefs.Theme != "light" {
		t.Fatalf("unexpected default theme: %s", prefs.Theme)
	}

	prefs.Theme = "dark"
	rec = ta.do(t, http.MethodPut, "/v1/users/me/preferences", token, prefs)
	if rec.Code != http.StatusOK {
		t.Fatalf("put preferences: status %d, body %s", rec.Code, rec.Body.String())
	}

	rec = ta.do(t, http.MethodGet, "/v1/users/me/preferences", token, nil)
	var got auth.Preferences
	decodeBody(t, rec, &got)
	if got.Theme != "dark" {
		t.Fatalf("preferences not persisted: %+v", got)
	}
}

func TestHealthEndpoints(t *testing.T) {
	ta := newTestAPI(t)
	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		rec := ta.do(t, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d", path, rec.Code)
		}
	}
}

func TestRequestIDPropagation(t *testing.T) {
	ta := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/users/me", nil)
	req.Header.Set("X-Request-ID", "fixed-id-1")
	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "fixed-id-1" {
		t.Fatalf("request id not echoed: %q", got)
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["request_id"] != "fixed-id-1" {
		t.Fatalf("request id missing from error payload: %v", body)
	}

	// Minted when absent.
	rec2 := ta.do(t, http.MethodGet, "/healthz", "", nil)
	if rec2.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a generated request id")
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"username": "alice", "password": "x", "extra": true,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: status %d", rec.Code)
	}
}
