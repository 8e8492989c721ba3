package cli

import (
	"path/filepath"

	"github.com/neboloop/browser-agent/internal/config"
	"github.com/neboloop/browser-agent/internal/defaults"
	"github.com/neboloop/browser-agent/internal/logging"
)

// Version is stamped at build time with -ldflags "-X .../cmd/browseragent.Version=..."
var Version = "dev"

// Shared CLI flags (used across multiple command files)
var (
	cfgFile string
	verbose bool
)

// newLoader layers the embedded defaults under --config, or <data dir>/config.yaml when unset.
func newLoader() (*config.Loader, error) {
	embedded, err := defaults.GetDefault(defaults.ConfigFile)
	if err != nil {
		return nil, err
	}
	path := cfgFile
	if path == "" {
		if dir, err := defaults.DataDir(); err == nil {
			path = filepath.Join(dir, defaults.ConfigFile)
		}
	}
	return config.NewLoader(embedded, path), nil
}

// loadConfig loads the configuration and applies its log level.
func loadConfig() (*config.Loader, config.Config, error) {
	loader, err := newLoader()
	if err != nil {
		return nil, config.Config{}, err
	}
	c, err := loader.Load()
	if err != nil {
		return nil, c, err
	}
	applyLogLevel(c)
	return loader, c, nil
}

func applyLogLevel(c config.Config) {
	level := c.Log.Level
	if verbose {
		level = "debug"
	}
	if err := logging.SetLevel(level); err != nil {
		logging.Warn("ignoring log level", "error", err)
	}
}
