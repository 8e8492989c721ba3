package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/neboloop/browser-agent/internal/defaults"
)

// SetupCmd prints first-run instructions
func SetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Print setup instructions for the Chrome extension and MCP client",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, err := defaults.EnsureDataDir()
			if err != nil {
				return fmt.Errorf("failed to initialize data directory: %w", err)
			}
			command, err := os.Executable()
			if err != nil {
				command = "browser-agent"
			}
			printSetup(cmd.OutOrStdout(), command, dataDir)
			return nil
		},
	}
}

func printSetup(w io.Writer, command, dataDir string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "browser-agent is installed.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Setup Instructions:")
	fmt.Fprintln(w, "1. Load the Chrome extension:")
	fmt.Fprintln(w, "   - Open chrome://extensions/")
	fmt.Fprintln(w, `   - Enable "Developer mode"`)
	fmt.Fprintln(w, `   - Click "Load unpacked" and select the extension directory`)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "2. Start the MCP server:")
	fmt.Fprintf(w, "   - Run: %s\n", command)
	fmt.Fprintln(w, "   - The extension connects on ws://127.0.0.1:3000 (or the next free port up to 3005)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "3. Add to your MCP client config (e.g., Cursor):")
	fmt.Fprintln(w, "   {")
	fmt.Fprintln(w, `     "mcpServers": {`)
	fmt.Fprintln(w, `       "browser-agent": {`)
	fmt.Fprintf(w, "         \"command\": %q\n", command)
	fmt.Fprintln(w, "       }")
	fmt.Fprintln(w, "     }")
	fmt.Fprintln(w, "   }")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Config: %s\n", dataDir)
	fmt.Fprintln(w, "Check the connection any time with: browser-agent status")
	fmt.Fprintln(w)
}
