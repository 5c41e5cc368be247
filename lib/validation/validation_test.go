package validation

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRequired(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"valid string", "test", false},
		{"empty string", "", true},
		{"whitespace only", "   ", true},
		{"tab only", "\t", true},
		{"valid with spaces", " test ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Required("name", tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("Required() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrRequired) {
				t.Errorf("Required() error should wrap ErrRequired")
			}
		})
	}
}

func TestAtLeast(t *testing.T) {
	if err := AtLeast("n", 1, 1); err != nil {
		t.Errorf("AtLeast(1, 1) = %v", err)
	}
	err := AtLeast("pool.max_sockets_per_group", 0, 1)
	if !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("AtLeast(0, 1) = %v, want ErrOutOfRange", err)
	}
	if got := err.Error(); got != "pool.max_sockets_per_group: must be at least 1" {
		t.Errorf("Error() = %q", got)
	}
}

func TestNonNegative(t *testing.T) {
	if err := NonNegative("n", 0); err != nil {
		t.Errorf("NonNegative(0) = %v", err)
	}
	if err := NonNegative("n", -1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("NonNegative(-1) = %v", err)
	}
}

func TestDurations(t *testing.T) {
	if err := PositiveDuration("d", time.Second); err != nil {
		t.Errorf("PositiveDuration(1s) = %v", err)
	}
	if err := PositiveDuration("d", 0); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("PositiveDuration(0) = %v", err)
	}
	if err := NonNegativeDuration("d", 0); err != nil {
		t.Errorf("NonNegativeDuration(0) = %v", err)
	}
	if err := NonNegativeDuration("d", -time.Second); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("NonNegativeDuration(-1s) = %v", err)
	}
}

func TestNonNegativeRate(t *testing.T) {
	if err := NonNegativeRate("r", 0.5); err != nil {
		t.Errorf("NonNegativeRate(0.5) = %v", err)
	}
	if err := NonNegativeRate("r", -0.1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("NonNegativeRate(-0.1) = %v", err)
	}
}

func TestHostPort(t *testing.T) {
	tests := []struct {
		value   string
		wantErr error
	}{
		{"127.0.0.1:7656", nil},
		{"localhost:1080", nil},
		{"[::1]:9050", nil},
		{"", ErrRequired},
		{"localhost", ErrInvalidFormat},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			err := HostPort("addr", tt.value)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("HostPort(%q) = %v", tt.value, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("HostPort(%q) = %v, want %v", tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestGroupName(t *testing.T) {
	tests := []struct {
		value   string
		wantErr error
	}{
		{"web", nil},
		{"api.v2_eu-west", nil},
		{"9gag", nil},
		{"", ErrRequired},
		{"-leading", ErrInvalidFormat},
		{"has space", ErrInvalidFormat},
		{strings.Repeat("a", MaxGroupNameLength+1), ErrTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			err := GroupName("group.name", tt.value)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("GroupName(%q) = %v", tt.value, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("GroupName(%q) = %v, want %v", tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestErrors(t *testing.T) {
	var errs Errors
	if errs.HasErrors() || errs.Err() != nil || errs.First() != nil {
		t.Fatal("empty Errors should report nothing")
	}

	errs.Add(nil)
	if errs.HasErrors() {
		t.Fatal("Add(nil) should be ignored")
	}

	errs.Add(Required("a", ""))
	errs.Addf("group %q is defined twice", "web")

	if len(errs) != 2 {
		t.Fatalf("len = %d, want 2", len(errs))
	}
	if !errors.Is(errs.First(), ErrRequired) {
		t.Errorf("First() = %v", errs.First())
	}

	err := errs.Err()
	if !errors.Is(err, ErrRequired) {
		t.Errorf("Err() should wrap ErrRequired: %v", err)
	}
	for _, want := range []string{"a: is required", `group "web" is defined twice`} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Err() = %q, missing %q", err.Error(), want)
		}
	}
}
