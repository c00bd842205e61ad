package app

import "github.com/spf13/cobra"

func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "CLI for running the collection garbage collection orchestrator",
	}

	cmd.AddCommand(run())

	return cmd
}
