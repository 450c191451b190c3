// Command pacegate is a small operational CLI around the limiter:
// `groups` renders the effective configuration, `demo` drives paced
// load against an in-process mock exchange that enforces its own
// limits and answers 429.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "pacegate",
		Short:         "Client-side admission control for rate-limited exchange APIs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML limiter config")

	root.AddCommand(newGroupsCommand())
	root.AddCommand(newDemoCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
