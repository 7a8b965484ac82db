package auth

import (
	"testing"
	"time"
)

func TestParsePermission(t *testing.T) {
	cases := []struct {
		raw    string
		ok     bool
		module string
		action string
	}{
		{"users:read", true, "users", "read"},
		{"settings:manage_roles", true, "settings", "manage_roles"},
		{" users:read ", true, "users", "read"},
		{"users", false, "", ""},
		{"users:", false, "", ""},
		{":read", false, "", ""},
		{"users:read:extra", false, "", ""},
		{"Users:Read", false, "", ""},
		{"users: read", false, "", ""},
		{"", false, "", ""},
	}
	for _, tc := range cases {
		name, err := ParsePermission(tc.raw)
		if tc.ok {
			if err != nil {
				t.Errorf("ParsePermission(%q) unexpected error: %v", tc.raw, err)
				continue
			}
			if name.Module() != tc.module || name.Action() != tc.action {
				t.Errorf("ParsePermission(%q) = %s:%s, want %s:%s",
					tc.raw, name.Module(), name.Action(), tc.module, tc.action)
			}
		} else if err == nil {
			t.Errorf("ParsePermission(%q) expected error", tc.raw)
		}
	}
}

func TestRoleAssignmentActiveAt(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	if !(RoleAssignment{}).ActiveAt(now) {
		t.Fatal("assignment without expiry must be active")
	}
	if !(RoleAssignment{ExpiresAt: &future}).ActiveAt(now) {
		t.Fatal("assignment expiring in the future must be active")
	}
	if (RoleAssignment{ExpiresAt: &past}).ActiveAt(now) {
		t.Fatal("expired assignment must be inactive")
	}
	if (RoleAssignment{ExpiresAt: &now}).ActiveAt(now) {
		t.Fatal("assignment expiring exactly now must be inactive")
	}
}
