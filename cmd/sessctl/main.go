package main

import (
	"fmt"
	"os"

	"github.com/danmuck/devsession/internal/logging"
	"github.com/spf13/cobra"
)

func main() {
	logging.ConfigureRuntime()
	root := &cobra.Command{
		Use:           "sessctl",
		Short:         "Inspect devsession nodes and manage their config files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		sessionsCmd(),
		healthCmd(),
		configCmd(),
	)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "sessctl: %v\n", err)
		os.Exit(1)
	}
}
