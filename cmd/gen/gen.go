package gen

import (
	"github.com/spf13/cobra"
)

var RootCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate documentation for the worldql CLI",
	Long: `Generate documentation for the worldql CLI

The generated files describe every command and flag, including the
WORLDQL_* environment variables they override.`,
}

func init() {
	RootCmd.AddCommand(ManPagesCmd)
}
