package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                              "/",
		"/metrics":                      "/metrics",
		"/v1/auth/login":                "/v1/auth/login",
		"/v1/users/01J0ABC":             "/v1/users/:id",
		"/v1/users/01J0ABC/roles":       "/v1/users/:id/roles",
		"/v1/roles/01J0DEF/permissions": "/v1/roles/:id/permissions",
		"/v1/sessions/01J0GHI":          "/v1/sessions/:id",
		"/v1/users/01J0ABC?full=1":      "/v1/users/:id",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
