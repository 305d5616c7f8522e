package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "processor",
		Short:        "Extracts the user's speech from recorded voice-agent conversations",
		SilenceUsage: true,
	}
	root.AddCommand(newWorkerCmd(), newExtractCmd())
	return root
}
