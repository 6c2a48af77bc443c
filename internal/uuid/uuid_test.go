package uuid

import (
	"testing"

	apperrors "github.com/kimhsiao/attendsync/internal/errors"
)

func TestNewClientID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		id := string(NewClientID())
		if !IsValid(id) {
			t.Fatalf("NewClientID() = %q, not a valid client id", id)
		}
		if seen[id] {
			t.Fatalf("NewClientID() repeated %q", id)
		}
		seen[id] = true
	}
	if !IsValid(New()) {
		t.Error("New() is not a valid client id")
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"f47ac10b-58cc-4372-a567-0e02b2c3d479", true},
		{"6BA7B810-9DAD-41D1-80B4-00C04FD430C8", true},
		{"", false},
		{"r-42", false},
		{"f47ac10b58cc4372a5670e02b2c3d479", false},
		{"urn:uuid:f47ac10b-58cc-4372-a567-0e02b2c3d479", false},
		{"f47ac10b-58cc-1372-a567-0e02b2c3d479", false}, // version 1
		{"f47ac10b-58cc-4372-c567-0e02b2c3d479", false}, // Microsoft variant
		{"g47ac10b-58cc-4372-a567-0e02b2c3d479", false},
	}
	for _, tt := range tests {
		if got := IsValid(tt.id); got != tt.want {
			t.Errorf("IsValid(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := Validate("client id", "f47ac10b-58cc-4372-a567-0e02b2c3d479"); err != nil {
		t.Errorf("Validate(valid) error = %v", err)
	}
	err := Validate("client id", "c-1")
	if !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Validate(c-1) error = %v, want VALIDATION", err)
	}
}

func TestClientIDFor(t *testing.T) {
	const clientMade = "f47ac10b-58cc-4372-a567-0e02b2c3d479"
	if got := ClientIDFor(clientMade); string(got) != clientMade {
		t.Errorf("ClientIDFor(%q) = %q", clientMade, got)
	}

	a, b := ClientIDFor("42"), ClientIDFor("42")
	if !IsValid(string(a)) || a == b {
		t.Errorf("ClientIDFor(server id) = %q, %q; want fresh valid ids", a, b)
	}
}
