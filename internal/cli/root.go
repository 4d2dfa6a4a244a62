package cli

import (
	"os"

	"github.com/spf13/cobra"
)

func Execute() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "vin-scanner",
		Short:        "Recognize VINs from a camera, folder or stdin and record them",
		SilenceUsage: true,
	}

	cmd.AddCommand(runCmd())
	cmd.AddCommand(checkCmd())
	cmd.AddCommand(importCmd())
	return cmd
}
