package main

import (
	"fmt"
	"os"
	"testing"
)

func TestGetenv(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		def      string
		expected string
	}{
		{
			name:     "environment variable set",
			key:      "PENDULA_TEST_VAR",
			value:    "set_value",
			def:      "default",
			expected: "set_value",
		},
		{
			name:     "environment variable not set",
			key:      "PENDULA_UNSET_VAR",
			value:    "",
			def:      "default_value",
			expected: "default_value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				os.Setenv(tt.key, tt.value)
				defer os.Unsetenv(tt.key)
			}
			if got := getenv(tt.key, tt.def); got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestMustGetenv(t *testing.T) {
	t.Run("variable set", func(t *testing.T) {
		os.Setenv("PENDULA_MUST_VAR", "required")
		defer os.Unsetenv("PENDULA_MUST_VAR")

		if got := mustGetenv("PENDULA_MUST_VAR"); got != "required" {
			t.Errorf("Expected 'required', got %s", got)
		}
	})

	t.Run("variable missing is fatal", func(t *testing.T) {
		original := logFatal
		defer func() { logFatal = original }()

		var fatalMsg string
		logFatal = func(format string, v ...any) {
			fatalMsg = fmt.Sprintf(format, v...)
		}

		mustGetenv("PENDULA_DEFINITELY_UNSET")
		if fatalMsg == "" {
			t.Error("Expected fatal error for missing variable")
		}
	})
}
