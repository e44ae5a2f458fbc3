package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/luma/worldql/internal/meta"
)

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := meta.GetInfo()

		version := info.Version
		if version == "" {
			version = "dev"
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "worldql %s\n", version)
		fmt.Fprintf(out, "  build:    %s (%s)\n", info.Build, info.Branch)
		fmt.Fprintf(out, "  built at: %s\n", info.BuildTime)
		fmt.Fprintf(out, "  platform: %s %s\n", info.Platform, info.GoVersion)

		return nil
	},
}
