package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Loader layers the embedded defaults, an optional user file and the environment.
type Loader struct {
	defaults []byte
	path     string
}

// NewLoader creates a loader. path may be empty or point at a file that does not exist yet.
func NewLoader(defaults []byte, path string) *Loader {
	return &Loader{defaults: defaults, path: path}
}

// Path returns the user config file path, if any.
func (l *Loader) Path() string {
	return l.path
}

// Load reads all layers and validates the result.
func (l *Loader) Load() (Config, error) {
	c, err := LoadFromBytes(l.defaults)
	if err != nil {
		return c, fmt.Errorf("embedded defaults: %w", err)
	}

	if l.path != "" {
		data, err := os.ReadFile(l.path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return c, fmt.Errorf("read %s: %w", l.path, err)
		default:
			if err := c.merge(data); err != nil {
				return c, fmt.Errorf("%s: %w", l.path, err)
			}
		}
	}

	if err := c.applyEnv(); err != nil {
		return c, err
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}
