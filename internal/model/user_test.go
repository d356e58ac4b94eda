package model

import (
	"encoding/json"
	"strconv"
	"strings"
	"testing"
)

// Viewers browse the catalog, staff edit stock and photos, admins also manage
// accounts. Each role must be able to do exactly its own share.
func TestRoleAtLeastGrantsShopAccess(t *testing.T) {
	can := map[string]struct{ browse, edit, manage bool }{
		RoleViewer: {browse: true},
		RoleStaff:  {browse: true, edit: true},
		RoleAdmin:  {browse: true, edit: true, manage: true},
		"":         {},
		"owner":    {},
		"Admin":    {},
	}

	for role, want := range can {
		if got := RoleAtLeast(role, RoleViewer); got != want.browse {
			t.Errorf("%q browse = %v, want %v", role, got, want.browse)
		}
		if got := RoleAtLeast(role, RoleStaff); got != want.edit {
			t.Errorf("%q edit = %v, want %v", role, got, want.edit)
		}
		if got := RoleAtLeast(role, RoleAdmin); got != want.manage {
			t.Errorf("%q manage = %v, want %v", role, got, want.manage)
		}
	}
}

func TestRoleAtLeastUnknownMinimumDeniesEveryone(t *testing.T) {
	for _, role := range []string{RoleViewer, RoleStaff, RoleAdmin, ""} {
		for _, minimum := range []string{"", "root", "STAFF"} {
			if RoleAtLeast(role, minimum) {
				t.Errorf("RoleAtLeast(%q, %q) granted access", role, minimum)
			}
		}
	}
}

func TestValidRole(t *testing.T) {
	for _, role := range []string{RoleViewer, RoleStaff, RoleAdmin} {
		if !ValidRole(role) {
			t.Errorf("ValidRole(%q) = false", role)
		}
	}
	for _, role := range []string{"", "user", "manager", " staff", "Viewer"} {
		if ValidRole(role) {
			t.Errorf("ValidRole(%q) = true", role)
		}
	}
}

func TestValidatePasswordLengthBoundary(t *testing.T) {
	short := strings.Repeat("x", MinPasswordLength-1)
	err := ValidatePassword(short)
	if err == nil {
		t.Fatalf("ValidatePassword accepted %d characters", len(short))
	}
	if !strings.Contains(err.Error(), strconv.Itoa(MinPasswordLength)) {
		t.Errorf("error %q does not name the minimum length", err)
	}

	for _, pw := range []string{strings.Repeat("x", MinPasswordLength), "correct horse battery staple"} {
		if err := ValidatePassword(pw); err != nil {
			t.Errorf("ValidatePassword(%q): %v", pw, err)
		}
	}
	if ValidatePassword("") == nil {
		t.Error("empty password accepted")
	}
}

func TestUserJSONOmitsPasswordHash(t *testing.T) {
	b, err := json.Marshal(User{ID: 7, Username: "mojca", PasswordHash: "$2a$10$secret", Role: RoleStaff})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(b), "secret") || strings.Contains(string(b), "deleted_at") {
		t.Errorf("unexpected user JSON %s", b)
	}
	if !strings.Contains(string(b), `"role":"staff"`) {
		t.Errorf("role missing from %s", b)
	}
}
