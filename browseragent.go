package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	cli "github.com/neboloop/browser-agent/cmd/browseragent"
	"github.com/neboloop/browser-agent/internal/defaults"
	"github.com/neboloop/browser-agent/internal/logging"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	logging.Init()

	// Ensure the data directory exists with the default config.yaml
	if _, err := defaults.EnsureDataDir(); err != nil {
		logging.Warn("data directory unavailable", "error", err)
	}

	if err := cli.SetupRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
