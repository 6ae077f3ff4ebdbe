package domain

import (
	"errors"
	"testing"
)

func TestParseRole(t *testing.T) {
	cases := map[string]Role{"tenant": RoleTenant, " Landlord ": RoleLandlord}
	for in, want := range cases {
		got, ok := ParseRole(in)
		if !ok || got != want {
			t.Errorf("ParseRole(%q) = %q, %v; want %q", in, got, ok, want)
		}
	}
	if _, ok := ParseRole("admin"); ok {
		t.Error("ParseRole(admin) should fail")
	}
}

func TestRole_CanChangeTo(t *testing.T) {
	if !RoleTenant.CanChangeTo(RoleLandlord) {
		t.Error("tenant → landlord must be allowed")
	}
	if RoleLandlord.CanChangeTo(RoleTenant) {
		t.Error("landlord → tenant must be refused")
	}
	if !RoleLandlord.CanChangeTo(RoleLandlord) {
		t.Error("same role must be allowed")
	}
}

func TestUser_LooksComplete(t *testing.T) {
	u := &User{Nickname: "jonas", FirstName: "Jonas", Role: RoleTenant}
	if !u.LooksComplete() {
		t.Error("complete profile reported incomplete")
	}
	u.Nickname = "User"
	if u.LooksComplete() {
		t.Error("placeholder nickname reported complete")
	}
	var nilUser *User
	if nilUser.LooksComplete() {
		t.Error("nil user reported complete")
	}
}

func TestUser_CloneIsDeep(t *testing.T) {
	u := &User{ID: "u1", Permissions: []string{"invoices:read"}}
	c := u.Clone()
	c.Permissions[0] = "changed"
	if u.Permissions[0] != "invoices:read" {
		t.Error("Clone shares the permissions slice")
	}
}

func TestUser_Validate(t *testing.T) {
	u := &User{ID: "u1", Email: "a@b.lt", Role: RoleTenant}
	if err := u.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	u.Role = "owner"
	if err := u.Validate(); !errors.Is(err, ErrInvalidUser) {
		t.Errorf("Validate should reject unknown role with ErrInvalidUser, got %v", err)
	}
	u.Role, u.Email = RoleTenant, ""
	if err := u.Validate(); !errors.Is(err, ErrInvalidUser) {
		t.Errorf("Validate should reject a missing email with ErrInvalidUser, got %v", err)
	}
}

func TestDefaultPermissions(t *testing.T) {
	if len(DefaultPermissions(RoleLandlord)) == 0 || len(DefaultPermissions(RoleTenant)) == 0 {
		t.Error("known roles must have permissions")
	}
	if DefaultPermissions("owner") != nil {
		t.Error("unknown role must have no permissions")
	}
}
