package auth

import "testing"

func TestParseRole(t *testing.T) {
	for name, want := range map[string]Role{
		"observer": RoleObserver,
		"player":   RolePlayer,
		"referee":  RoleReferee,
	} {
		got, err := ParseRole(name)
		if err != nil || got != want {
			t.Fatalf("ParseRole(%q) = (%v, %v), want %v", name, got, err, want)
		}
	}
	if got, err := ParseRole("admin"); err == nil || got != RoleObserver {
		t.Fatalf("ParseRole(admin) = (%v, %v), want fail-closed observer", got, err)
	}
	if got, err := ParseRole(""); err == nil || got != RoleObserver {
		t.Fatalf("ParseRole(empty) = (%v, %v), want fail-closed observer", got, err)
	}
}

func TestAtLeastOrdering(t *testing.T) {
	if !RoleReferee.AtLeast(RolePlayer) || !RolePlayer.AtLeast(RoleObserver) {
		t.Fatalf("higher roles must include lower ones")
	}
	if RoleObserver.AtLeast(RolePlayer) || RolePlayer.AtLeast(RoleReferee) {
		t.Fatalf("lower roles must not include higher ones")
	}
	if !RolePlayer.AtLeast(RolePlayer) {
		t.Fatalf("a role must include itself")
	}
}

func TestForbiddenErrorMessage(t *testing.T) {
	err := ForbiddenError{Required: RoleReferee}
	if err.Error() != "referee role required" {
		t.Fatalf("message = %q", err.Error())
	}
}
