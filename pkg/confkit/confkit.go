// Package confkit holds the small helpers shared by the per-section config
// loaders: path resolution, env expansion, dotenv bootstrap and section files.
package confkit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ResolvePath expands env references in file and joins it with base unless
// the result is already absolute.
func ResolvePath(base, file string) string {
	file = ExpandEnv(file)
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(base, file)
}

// ExpandEnv behaves like os.ExpandEnv and additionally understands
// ${NAME:-fallback}, used when the variable is unset or empty.
func ExpandEnv(s string) string {
	return os.Expand(s, func(key string) string {
		name, fallback, hasFallback := strings.Cut(key, ":-")
		if v := os.Getenv(name); v != "" || !hasFallback {
			return v
		}
		return fallback
	})
}

// ParseDuration parses a strictly positive duration; an empty string yields zero.
func ParseDuration(field, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", field, d)
	}
	return d, nil
}

// Section is a config block that lives in its own file next to the main config.
type Section[T any] struct {
	File  string `json:",optional"`
	Value *T     `json:"-"`
}

// Hydrate loads Section.File through loader. An empty File is a no-op.
func (s *Section[T]) Hydrate(base string, loader func(string) (*T, error)) error {
	if s.File == "" {
		return nil
	}
	p := ResolvePath(base, s.File)
	v, err := loader(p)
	if err != nil {
		return err
	}
	s.File, s.Value = p, v
	return nil
}
