package validation

import (
	"testing"
)

func TestIsValidID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"ses_0123456789abcdef0123456789abcdef", true},
		{"risk_0123456789abcdef", true},
		{"hdl_deadbeefdeadbeefdeadbeefdeadbeef", true},

		// Invalid cases
		{"0123456789abcdef0123456789abcdef", false}, // No prefix
		{"ses_0123", false},                         // Hex part too short
		{"ses_XYZ4567890abcdef0123456789abcdef", false}, // Invalid chars
		{"SES_0123456789abcdef0123456789abcdef", false}, // Uppercase prefix
		{"", false},
		{"ses_", false},
	}

	for _, tc := range tests {
		result := IsValidID(tc.id)
		if result != tc.valid {
			t.Errorf("IsValidID(%q) = %v, want %v", tc.id, result, tc.valid)
		}
	}
}

func TestIsValidSignalSource(t *testing.T) {
	tests := []struct {
		source string
		valid  bool
	}{
		{"device.fingerprint", true},
		{"network", true},
		{"behavior-typing", true},
		{"sim_swap", true},
		{"geo.location.v2", true},

		// Invalid
		{"Device.Fingerprint", false},
		{".fingerprint", false},
		{"device.", false},
		{"device..fingerprint", false},
		{"", false},
	}

	for _, tc := range tests {
		result := IsValidSignalSource(tc.source)
		if result != tc.valid {
			t.Errorf("IsValidSignalSource(%q) = %v, want %v", tc.source, result, tc.valid)
		}
	}
}

func TestSanitizeSource(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"device.fingerprint", "device.fingerprint"},
		{"Device.Fingerprint", "device.fingerprint"},
		{"  network  ", "network"},
	}

	for _, tc := range tests {
		result := SanitizeSource(tc.input)
		if result != tc.expected {
			t.Errorf("SanitizeSource(%q) = %q, want %q", tc.input, result, tc.expected)
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
		Required("channel", "mobile"),
		ValidSource("source", "device.fingerprint"),
	)
	if len(errors) != 0 {
		t.Errorf("Expected no errors, got %v", errors)
	}

	// Test invalid input
	errors = Validate(
		Required("channel", ""),
		ValidSource("source", "Not A Source"),
	)
	if len(errors) != 2 {
		t.Errorf("Expected 2 errors, got %d", len(errors))
	}
}

func TestValidConfidence(t *testing.T) {
	tests := []struct {
		value float64
		valid bool
	}{
		{0, true},
		{50.5, true},
		{100, true},

		// Invalid
		{-0.1, false},
		{100.1, false},
		{-50, false},
	}

	for _, tc := range tests {
		err := ValidConfidence("confidence", tc.value)()
		valid := err == nil
		if valid != tc.valid {
			t.Errorf("ValidConfidence(%v) valid=%v, want %v", tc.value, valid, tc.valid)
		}
	}
}

func TestValidWeight(t *testing.T) {
	tests := []struct {
		value float64
		valid bool
	}{
		{0.1, true},
		{30, true},

		// Invalid
		{0, false},
		{-5, false},
	}

	for _, tc := range tests {
		err := ValidWeight("weight", tc.value)()
		valid := err == nil
		if valid != tc.valid {
			t.Errorf("ValidWeight(%v) valid=%v, want %v", tc.value, valid, tc.valid)
		}
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
