package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set by main from a build-time ldflags value; it defaults
// to "dev" for local builds.
var Version = "dev"

func init() {
	olrCmd.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number of olr",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Println(Version)
			},
		})
}
