package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestDisplayNamePrefersCard(t *testing.T) {
	entry := RosterEntry{Nickname: "Alice", Card: "Ally"}
	if got := entry.DisplayName(); got != "Ally" {
		t.Fatalf("expected card to win, got %q", got)
	}

	entry.Card = ""
	if got := entry.DisplayName(); got != "Alice" {
		t.Fatalf("expected nickname fallback, got %q", got)
	}
}

func TestRolePrivileged(t *testing.T) {
	cases := map[Role]bool{
		RoleOwner:  true,
		RoleAdmin:  true,
		RoleMember: false,
	}

	for role, want := range cases {
		if got := role.Privileged(); got != want {
			t.Fatalf("Privileged(%s) = %v, want %v", role, got, want)
		}
	}
}

func TestValidationErrors(t *testing.T) {
	err := Validationf("invalid member id %q", "abc")
	if err.Error() != `invalid member id "abc"` {
		t.Fatalf("unexpected message %q", err.Error())
	}

	if !IsValidation(err) {
		t.Fatalf("expected IsValidation to match a ValidationError")
	}
	if !IsValidation(fmt.Errorf("wrap: %w", err)) {
		t.Fatalf("expected IsValidation to match a wrapped ValidationError")
	}
	if IsValidation(errors.New("plain")) {
		t.Fatalf("plain errors must not match")
	}
	if IsValidation(ErrNotBound) {
		t.Fatalf("ErrNotBound is not a validation error")
	}
}
