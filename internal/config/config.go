package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/neboloop/browser-agent/internal/defaults"
)

// Config is the full runtime configuration.
type Config struct {
	Relay   RelayConfig   `yaml:"relay"`
	Log     LogConfig     `yaml:"log"`
	Journal JournalConfig `yaml:"journal"`
	Peer    PeerConfig    `yaml:"peer"`
}

// RelayConfig controls the extension-facing WebSocket listener.
type RelayConfig struct {
	Host         string        `yaml:"host"`
	StartPort    int           `yaml:"startPort"`
	PortSpan     int           `yaml:"portSpan"`
	PingInterval time.Duration `yaml:"pingInterval"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// JournalConfig controls persistence of forwarded console/network notifications.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Path          string        `yaml:"path"`
	Retention     time.Duration `yaml:"retention"`
	PruneSchedule string        `yaml:"pruneSchedule"`
}

// PeerConfig controls the Go peer executor started by `browser-agent peer`.
type PeerConfig struct {
	Host       string        `yaml:"host"`
	RetryDelay time.Duration `yaml:"retryDelay"`
	Cooldown   time.Duration `yaml:"cooldown"`
	Headless   bool          `yaml:"headless"`
	RemoteURL  string        `yaml:"remoteURL"`
	StartURL   string        `yaml:"startURL"`
}

// LoadFromBytes loads configuration from YAML bytes with environment variable expansion
func LoadFromBytes(data []byte) (Config, error) {
	var c Config
	if err := c.merge(data); err != nil {
		return c, err
	}
	return c, nil
}

func (c *Config) merge(data []byte) error {
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// applyEnv applies BROWSER_AGENT_* overrides on top of file values.
func (c *Config) applyEnv() error {
	if v := os.Getenv("BROWSER_AGENT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BROWSER_AGENT_PORT: %w", err)
		}
		c.Relay.StartPort = port
	}
	if v := os.Getenv("BROWSER_AGENT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("BROWSER_AGENT_JOURNAL"); v != "" {
		c.Journal.Enabled = parseBool(v, c.Journal.Enabled)
	}
	return nil
}

// Validate checks ranges that would otherwise fail late at bind time.
func (c Config) Validate() error {
	var errs []error
	if c.Relay.StartPort < 1 || c.Relay.StartPort > 65535 {
		errs = append(errs, fmt.Errorf("relay.startPort %d out of range", c.Relay.StartPort))
	}
	if c.Relay.PortSpan < 0 || c.Relay.StartPort+c.Relay.PortSpan > 65535 {
		errs = append(errs, fmt.Errorf("relay.portSpan %d out of range", c.Relay.PortSpan))
	}
	if c.Journal.Enabled && c.Journal.Retention <= 0 {
		errs = append(errs, errors.New("journal.retention must be positive"))
	}
	return errors.Join(errs...)
}

// Ports returns the candidate relay ports in the order they are tried.
func (c Config) Ports() []int {
	ports := make([]int, 0, c.Relay.PortSpan+1)
	for p := c.Relay.StartPort; p <= c.Relay.StartPort+c.Relay.PortSpan; p++ {
		ports = append(ports, p)
	}
	return ports
}

// JournalPath resolves the journal database location.
func (c Config) JournalPath() (string, error) {
	if c.Journal.Path != "" {
		return c.Journal.Path, nil
	}
	dir, err := defaults.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "journal.db"), nil
}

// parseBool parses a string as boolean with a default value.
// Accepts: "true", "1", "yes" as true; empty returns default.
func parseBool(s string, defaultVal bool) bool {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return defaultVal
	}
	return s == "true" || s == "1" || s == "yes"
}
