package confkit_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"fno-scanner/pkg/confkit"
)

func TestResolvePath(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		file     string
		expected string
		setupEnv map[string]string
	}{
		{
			name:     "absolute path",
			base:     "/base/dir",
			file:     "/abs/market.yaml",
			expected: "/abs/market.yaml",
		},
		{
			name:     "relative path",
			base:     "/base/dir",
			file:     "market.yaml",
			expected: filepath.Join("/base/dir", "market.yaml"),
		},
		{
			name:     "env expansion",
			base:     "/base/dir",
			file:     "${CONFKIT_TEST_DIR}/market.yaml",
			expected: "/from/env/market.yaml",
			setupEnv: map[string]string{"CONFKIT_TEST_DIR": "/from/env"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.setupEnv {
				t.Setenv(k, v)
			}
			if got := confkit.ResolvePath(tt.base, tt.file); got != tt.expected {
				t.Errorf("ResolvePath() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestExpandEnv_Fallback(t *testing.T) {
	t.Setenv("CONFKIT_SET", "value")
	os.Unsetenv("CONFKIT_UNSET")

	if got := confkit.ExpandEnv("${CONFKIT_SET:-other}"); got != "value" {
		t.Errorf("set variable should win, got %q", got)
	}
	if got := confkit.ExpandEnv("${CONFKIT_UNSET:-wss://feed}"); got != "wss://feed" {
		t.Errorf("fallback not applied, got %q", got)
	}
	if got := confkit.ExpandEnv("${CONFKIT_UNSET}"); got != "" {
		t.Errorf("unset variable without fallback should be empty, got %q", got)
	}
}

func TestParseDuration(t *testing.T) {
	d, err := confkit.ParseDuration("timeout", "5s")
	if err != nil || d != 5*time.Second {
		t.Fatalf("ParseDuration = %v, %v", d, err)
	}
	if d, err := confkit.ParseDuration("timeout", ""); err != nil || d != 0 {
		t.Fatalf("empty duration should be zero, got %v, %v", d, err)
	}
	if _, err := confkit.ParseDuration("timeout", "-1s"); err == nil {
		t.Fatalf("negative duration should fail")
	}
	if _, err := confkit.ParseDuration("timeout", "soon"); err == nil {
		t.Fatalf("invalid duration should fail")
	}
}

func TestSection_Hydrate(t *testing.T) {
	t.Run("empty file", func(t *testing.T) {
		section := &confkit.Section[string]{}
		err := section.Hydrate("/base", func(path string) (*string, error) {
			t.Error("loader should not be called for empty file")
			return nil, nil
		})
		if err != nil {
			t.Errorf("Hydrate() with empty file should not error, got: %v", err)
		}
		if section.Value != nil {
			t.Error("Value should remain nil for empty file")
		}
	})

	t.Run("successful hydration", func(t *testing.T) {
		section := &confkit.Section[string]{File: "market.yaml"}
		expected := "test value"

		err := section.Hydrate("/base", func(path string) (*string, error) {
			if path != filepath.Join("/base", "market.yaml") {
				t.Errorf("loader received path %v", path)
			}
			return &expected, nil
		})

		if err != nil {
			t.Errorf("Hydrate() error = %v, want nil", err)
		}
		if section.Value == nil || *section.Value != expected {
			t.Errorf("Value = %v, want %v", section.Value, expected)
		}
	})
}
