package main

import (
	"fmt"
	"os"
	"testing"
	"time"
)

func TestGetenv(t *testing.T) {
	os.Setenv("PENDULA_ORCH_VAR", "value")
	defer os.Unsetenv("PENDULA_ORCH_VAR")

	if got := getenv("PENDULA_ORCH_VAR", "default"); got != "value" {
		t.Errorf("Expected 'value', got %s", got)
	}
	if got := getenv("PENDULA_ORCH_UNSET", "default"); got != "default" {
		t.Errorf("Expected 'default', got %s", got)
	}
}

func TestGetduration(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		def      time.Duration
		expected time.Duration
	}{
		{
			name:     "unset returns default",
			value:    "",
			def:      5 * time.Second,
			expected: 5 * time.Second,
		},
		{
			name:     "parses duration",
			value:    "250ms",
			def:      time.Second,
			expected: 250 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				os.Setenv("PENDULA_DUR_VAR", tt.value)
				defer os.Unsetenv("PENDULA_DUR_VAR")
			}
			if got := getduration("PENDULA_DUR_VAR", tt.def); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestGetdurationInvalidIsFatal(t *testing.T) {
	original := logFatal
	defer func() { logFatal = original }()

	var fatalMsg string
	logFatal = func(format string, v ...any) {
		fatalMsg = fmt.Sprintf(format, v...)
	}

	os.Setenv("PENDULA_BAD_DUR", "not-a-duration")
	defer os.Unsetenv("PENDULA_BAD_DUR")

	getduration("PENDULA_BAD_DUR", time.Second)
	if fatalMsg == "" {
		t.Error("Expected fatal error for unparseable duration")
	}
}

func TestPublicURL(t *testing.T) {
	tests := []struct {
		addr     string
		expected string
	}{
		{":9080", "http://127.0.0.1:9080"},
		{"10.0.0.5:9080", "http://10.0.0.5:9080"},
	}
	for _, tt := range tests {
		if got := publicURL(tt.addr); got != tt.expected {
			t.Errorf("publicURL(%q) = %q, want %q", tt.addr, got, tt.expected)
		}
	}
}
