package cmd

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "netdash: %s\n", version)
		if path := viper.ConfigFileUsed(); path != "" {
			fmt.Fprintf(out, "config: %s\n", path)
		}

		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		fmt.Fprintf(out, "go:     %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Fprintf(out, "commit: %s\n", s.Value)
			case "vcs.time":
				fmt.Fprintf(out, "date:   %s\n", s.Value)
			case "vcs.modified":
				fmt.Fprintf(out, "dirty:  %s\n", s.Value)
			}
		}
	},
}
