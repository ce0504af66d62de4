package identity

import "testing"

func TestParseRole(t *testing.T) {
	for _, valid := range []string{"technician", "scientist", "doctor", "admin", "super"} {
		if _, err := ParseRole(valid); err != nil {
			t.Errorf("ParseRole(%q): %v", valid, err)
		}
	}
	for _, invalid := range []string{"", "nurse", "Doctor", "superuser"} {
		if _, err := ParseRole(invalid); err == nil {
			t.Errorf("ParseRole(%q) should fail", invalid)
		}
	}
}

func TestCanHandOffTo(t *testing.T) {
	tests := []struct {
		from, to Role
		want     bool
	}{
		{RoleTechnician, RoleTechnician, true},
		{RoleTechnician, RoleScientist, true},
		{RoleTechnician, RoleDoctor, true},
		{RoleScientist, RoleTechnician, false},
		{RoleScientist, RoleScientist, true},
		{RoleScientist, RoleDoctor, true},
		{RoleDoctor, RoleScientist, false},
		{RoleDoctor, RoleDoctor, true},
		{RoleAdmin, RoleTechnician, true},
		{RoleAdmin, RoleDoctor, true},
		{RoleSuper, RoleScientist, true},
		{RoleTechnician, RoleAdmin, false},
		{RoleAdmin, RoleAdmin, false},
		{RoleAdmin, RoleSuper, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanHandOffTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestInPipeline(t *testing.T) {
	for role, want := range map[Role]bool{
		RoleTechnician: true,
		RoleScientist:  true,
		RoleDoctor:     true,
		RoleAdmin:      false,
		RoleSuper:      false,
	} {
		if got := role.InPipeline(); got != want {
			t.Errorf("InPipeline(%s) = %v, want %v", role, got, want)
		}
	}
}
