package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/hitwire/packages/core/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "hitwire version %s\n", version)
		fmt.Fprintf(w, "Built: %s\n", buildTime)
		fmt.Fprintf(w, "Go: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		fmt.Fprintf(w, "Default User-Agent: %s\n", config.DefaultUserAgent)
	},
}
