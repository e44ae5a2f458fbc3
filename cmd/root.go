package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/luma/worldql/cmd/gen"
)

var (
	// Overrides for the environment config
	serverURL     string
	transportName string
	serverAuth    string
	logLevel      string
)

var RootCmd = &cobra.Command{
	Use:   "worldql",
	Short: "A WorldQL client",
	Long: `A WorldQL client

Connects to a WorldQL server to send messages, listen to worlds and manage
records. Configuration is read from WORLDQL_* environment variables and an
optional .env.local file, flags take precedence.
`,
	SilenceUsage: true,
}

func init() {
	flags := RootCmd.PersistentFlags()

	flags.StringVarP(&serverURL, "url", "u", "", "The WorldQL server URL (ws://, wss:// or tcp://)")
	flags.StringVarP(&transportName, "transport", "t", "", "Force the transport, websocket or tcp")
	flags.StringVar(&serverAuth, "server-auth", "", "Pre-shared credential sent with the handshake")
	flags.StringVar(&logLevel, "log-level", "", "The log level (debug, info, warn, error)")

	RootCmd.AddCommand(ListenCmd)
	RootCmd.AddCommand(SendCmd)
	RootCmd.AddCommand(RecordsCmd)
	RootCmd.AddCommand(BridgeCmd)
	RootCmd.AddCommand(VersionCmd)
	RootCmd.AddCommand(gen.RootCmd)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
