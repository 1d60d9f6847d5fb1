package validation

import (
	"testing"
)

func TestIsValidID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"dev_0123456789abcdef01234567", true},
		{"clm_abcdefabcdef123456789012", true},
		{"pol_000000000000000000000000", true},

		// Invalid cases
		{"0123456789abcdef01234567", false},      // No prefix
		{"dev_0123456789abcdef0123456", false},   // Too short
		{"dev_0123456789abcdef012345678", false}, // Too long
		{"dev_0123456789ABCDEF01234567", false},  // Uppercase hex
		{"DEV_0123456789abcdef01234567", false},  // Uppercase prefix
		{"", false},
		{"dev_", false},
	}

	for _, tc := range tests {
		result := IsValidID(tc.id)
		if result != tc.valid {
			t.Errorf("IsValidID(%q) = %v, want %v", tc.id, result, tc.valid)
		}
	}
}

func TestIsValidClaimNumber(t *testing.T) {
	tests := []struct {
		s     string
		valid bool
	}{
		{"CLM-2026-00042", true},
		{"CLM-1999-99999", true},

		{"CLM-2026-0042", false}, // 4-digit suffix
		{"clm-2026-00042", false},
		{"POL-2026-00042", false},
		{"", false},
	}

	for _, tc := range tests {
		if got := IsValidClaimNumber(tc.s); got != tc.valid {
			t.Errorf("IsValidClaimNumber(%q) = %v, want %v", tc.s, got, tc.valid)
		}
	}
}

func TestIsValidPolicyNumber(t *testing.T) {
	tests := []struct {
		s     string
		valid bool
	}{
		{"VEH-2026-0042", true},
		{"HOM-2026-0001", true},
		{"POL-2026-9999", true},

		{"VEH-2026-42", false},
		{"VEHI-2026-0042", false},
		{"veh-2026-0042", false},
		{"", false},
	}

	for _, tc := range tests {
		if got := IsValidPolicyNumber(tc.s); got != tc.valid {
			t.Errorf("IsValidPolicyNumber(%q) = %v, want %v", tc.s, got, tc.valid)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"hello\x00world", 20, "helloworld"},
	}

	for _, tc := range tests {
		result := SanitizeString(tc.input, tc.maxLen)
		if result != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, result, tc.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	// Test valid input
	errors := Validate(
		Required("customerId", "cus_0123456789abcdef01234567"),
		ValidID("deviceId", "dev_0123456789abcdef01234567"),
	)
	if len(errors) != 0 {
		t.Errorf("Expected no errors, got %v", errors)
	}

	// Test invalid input
	errors = Validate(
		Required("customerId", ""),
		ValidID("deviceId", "invalid"),
	)
	if len(errors) != 2 {
		t.Errorf("Expected 2 errors, got %d", len(errors))
	}
}

func TestOneOf(t *testing.T) {
	if err := OneOf("type", "vehicle", "vehicle", "home", "health")(); err != nil {
		t.Errorf("Expected no error for allowed value, got %v", err)
	}
	if err := OneOf("type", "boat", "vehicle", "home", "health")(); err == nil {
		t.Error("Expected error for disallowed value")
	}
	// Empty passes; use Required for required fields
	if err := OneOf("type", "", "vehicle")(); err != nil {
		t.Errorf("Expected no error for empty value, got %v", err)
	}
}

func TestPositiveCents(t *testing.T) {
	if err := PositiveCents("amountCents", 100)(); err != nil {
		t.Errorf("Expected no error for positive amount, got %v", err)
	}
	if err := PositiveCents("amountCents", 0)(); err == nil {
		t.Error("Expected error for zero amount")
	}
	if err := PositiveCents("amountCents", -5)(); err == nil {
		t.Error("Expected error for negative amount")
	}
}

func TestMaxLength(t *testing.T) {
	// Under limit
	err := MaxLength("field", "hello", 10)()
	if err != nil {
		t.Error("Expected no error for string under limit")
	}

	// At limit
	err = MaxLength("field", "hello", 5)()
	if err != nil {
		t.Error("Expected no error for string at limit")
	}

	// Over limit
	err = MaxLength("field", "hello world", 5)()
	if err == nil {
		t.Error("Expected error for string over limit")
	}
}
