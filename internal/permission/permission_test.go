package permission

import (
	"errors"
	"testing"

	gwerrors "github.com/cliniguard/cliniguard/internal/errors"
)

func TestAllowsExactMatch(t *testing.T) {
	perms := []string{"patient:read", "patient:write"}

	if !Allows(perms, "patient:read") {
		t.Error("exact grant should authorize")
	}
	if !Allows(perms, "patient:write") {
		t.Error("exact grant should authorize")
	}
	if Allows(perms, "patient:delete") {
		t.Error("ungranted action must be denied")
	}
	if Allows(perms, "observation:read") {
		t.Error("ungranted resource must be denied")
	}
}

func TestAllowsResourceWildcard(t *testing.T) {
	perms := []string{"patient:*"}

	tests := []struct {
		required string
		want     bool
	}{
		{"patient:read", true},
		{"patient:write", true},
		{"patient:delete", true},
		{"observation:read", false},
		{"observation:write", false},
	}
	for _, tt := range tests {
		t.Run(tt.required, func(t *testing.T) {
			if got := Allows(perms, tt.required); got != tt.want {
				t.Errorf("Allows(patient:*, %q) = %v, want %v", tt.required, got, tt.want)
			}
		})
	}
}

func TestAllowsActionWildcard(t *testing.T) {
	perms := []string{"*:read"}

	tests := []struct {
		required string
		want     bool
	}{
		{"patient:read", true},
		{"observation:read", true},
		{"patient:write", false},
		{"medication:dispense", false},
	}
	for _, tt := range tests {
		t.Run(tt.required, func(t *testing.T) {
			if got := Allows(perms, tt.required); got != tt.want {
				t.Errorf("Allows(*:read, %q) = %v, want %v", tt.required, got, tt.want)
			}
		})
	}
}

func TestAllowsFullWildcard(t *testing.T) {
	perms := []string{"*:*"}

	for _, required := range []string{"patient:read", "observation:delete", "memory:search"} {
		if !Allows(perms, required) {
			t.Errorf("Allows(*:*, %q) = false, want true", required)
		}
	}
}

func TestAllowsPublicTool(t *testing.T) {
	if !Allows(nil, "") {
		t.Error("empty required permission is public and always authorized")
	}
	if !Allows([]string{}, "") {
		t.Error("public tools are authorized even for actors with no grants")
	}
}

func TestAllowsEmptyGrantSet(t *testing.T) {
	if Allows(nil, "patient:read") {
		t.Error("actor with no grants must be denied for every gated tool")
	}
	if Allows([]string{}, "patient:read") {
		t.Error("actor with no grants must be denied for every gated tool")
	}
}

func TestAllowsCaseSensitive(t *testing.T) {
	perms := []string{"Patient:Read"}

	if Allows(perms, "patient:read") {
		t.Error("matching must be case-sensitive")
	}
	if !Allows(perms, "Patient:Read") {
		t.Error("identical casing should match")
	}
}

func TestAllowsMalformedGrantsNeverMatch(t *testing.T) {
	tests := []struct {
		name  string
		perms []string
	}{
		{"no colon", []string{"patientread"}},
		{"empty action", []string{"patient:"}},
		{"empty resource", []string{":read"}},
		{"extra colon", []string{"patient:read:extra"}},
		{"bare colon", []string{":"}},
		{"empty string", []string{""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if Allows(tt.perms, "patient:read") {
				t.Errorf("malformed grant %q matched", tt.perms[0])
			}
		})
	}
}

func TestAllowsMalformedRequired(t *testing.T) {
	perms := []string{"*:*"}
	for _, required := range []string{"patientread", "patient:", ":read", "a:b:c"} {
		if Allows(perms, required) {
			t.Errorf("malformed required %q must not authorize", required)
		}
	}
}

func TestAllowsFirstMatchWinsOverLaterGarbage(t *testing.T) {
	perms := []string{"broken", "patient:*", ":also-broken"}
	if !Allows(perms, "patient:read") {
		t.Error("a valid grant should authorize regardless of malformed neighbors")
	}
}

func TestValidatePattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		wantErr bool
	}{
		{"plain", "patient:read", false},
		{"resource wildcard", "patient:*", false},
		{"action wildcard", "*:read", false},
		{"full wildcard", "*:*", false},
		{"org qualified resource", "org-a/patient:read", false},
		{"missing colon", "patientread", true},
		{"empty action", "patient:", true},
		{"empty resource", ":read", true},
		{"double colon", "patient:read:extra", true},
		{"whitespace", "patient: read", true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePattern(tt.pattern)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidatePattern(%q) error = %v, wantErr %v", tt.pattern, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, gwerrors.ErrInvalidPermission) {
				t.Errorf("error should wrap ErrInvalidPermission, got %v", err)
			}
		})
	}
}

func TestOrganizationNotConsulted(t *testing.T) {
	// Tenancy is carried inside resource names; two orgs with the same bare
	// grant do not cross over when callers qualify resources.
	orgA := []string{"org-a/patient:read"}

	if !Allows(orgA, "org-a/patient:read") {
		t.Error("qualified grant should authorize its own org's resource")
	}
	if Allows(orgA, "org-b/patient:read") {
		t.Error("qualified grant must not authorize another org's resource")
	}
}
