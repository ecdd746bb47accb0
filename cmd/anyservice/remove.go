package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhujunling-nj/anyservice/internal/registry"
)

var removeCmd = &cobra.Command{
	Use:     "remove <name>",
	Short:   "Stop and unregister a service",
	Aliases: []string{"uninstall"},
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, closeLog, err := commandLogger(args[0])
		if err != nil {
			return err
		}
		defer closeLog()

		if err := registry.New(logger.With("component", "registry")).Remove(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("removing %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Service %q removed\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(removeCmd)
}
