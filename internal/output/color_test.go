package output

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/bimmerbailey/logstage/internal/config"
)

func TestColorizeLine(t *testing.T) {
	tests := []struct {
		name          string
		level         config.LogLevel
		line          string
		expectColor   bool
		expectedColor string
	}{
		{"DEBUG level - gray", config.LevelDebug, "debug message", true, colorGray},
		{"INFO level - no color", config.LevelInfo, "info message", false, ""},
		{"WARN level - yellow", config.LevelWarn, "warning message", true, colorYellow},
		{"ERROR level - red", config.LevelError, "error message", true, colorRed},
		{"FATAL level - bold red", config.LevelFatal, "fatal message", true, colorBold + colorRed},
		{"UNKNOWN level - no color", config.LevelUnknown, "unknown message", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ColorizeLine(tt.level, tt.line)

			if !tt.expectColor {
				if result != tt.line {
					t.Errorf("Expected line to be unchanged, got: %s", result)
				}
				return
			}
			if !strings.HasPrefix(result, tt.expectedColor) {
				t.Errorf("Expected result to start with color code %q, got: %s", tt.expectedColor, result)
			}
			if !strings.HasSuffix(result, colorReset) {
				t.Errorf("Expected result to end with reset code, got: %s", result)
			}
			if !strings.Contains(result, tt.line) {
				t.Errorf("Expected result to contain line %q, got: %s", tt.line, result)
			}
		})
	}
}

func TestShouldColorize(t *testing.T) {
	tests := []struct {
		name     string
		mode     ColorMode
		writer   interface{}
		expected bool
	}{
		{"ColorAlways - any writer", ColorAlways, &bytes.Buffer{}, true},
		{"ColorNever - any writer", ColorNever, os.Stdout, false},
		{"ColorAuto - non-file writer", ColorAuto, &bytes.Buffer{}, false},
		{"ColorAuto - file writer (stdout)", ColorAuto, os.Stdout, isTerminal(os.Stdout)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := shouldColorize(tt.mode, tt.writer)
			if result != tt.expected {
				t.Errorf("shouldColorize() = %v, expected %v", result, tt.expected)
			}
		})
	}
}

func TestParseColorMode(t *testing.T) {
	tests := []struct {
		input string
		want  ColorMode
	}{
		{"", ColorAuto},
		{"auto", ColorAuto},
		{"ALWAYS", ColorAlways},
		{"never", ColorNever},
	}

	for _, tt := range tests {
		got, err := ParseColorMode(tt.input)
		if err != nil {
			t.Fatalf("ParseColorMode(%q) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("ParseColorMode(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}

	if _, err := ParseColorMode("sometimes"); err == nil {
		t.Error("ParseColorMode(sometimes) expected error")
	}
}

func TestColorizeLine_PreservesContent(t *testing.T) {
	testLines := []string{
		"simple line",
		"line with special chars: !@#$%^&*()",
		"line with unicode: 你好世界",
		"line with\ttabs\tand\tspaces",
	}

	for _, line := range testLines {
		t.Run(line, func(t *testing.T) {
			colored := ColorizeLine(config.LevelError, line)

			cleaned := strings.ReplaceAll(colored, colorRed, "")
			cleaned = strings.ReplaceAll(cleaned, colorReset, "")

			if cleaned != line {
				t.Errorf("Content was modified: expected %q, got %q", line, cleaned)
			}
		})
	}
}
