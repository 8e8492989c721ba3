package cli

import (
	"github.com/spf13/cobra"
)

// SetupRootCmd configures the root command with all subcommands and flags
func SetupRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "browser-agent",
		Short: "browser-agent - MCP bridge to a Chrome extension",
		Long: `browser-agent exposes browser tools to an MCP client over stdio and relays
every call to the companion Chrome extension over a local WebSocket.

Just type 'browser-agent' to start the relay and the MCP server together.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: platform data directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(SetupCmd())
	rootCmd.AddCommand(StatusCmd())
	rootCmd.AddCommand(PeerCmd())

	return rootCmd
}
