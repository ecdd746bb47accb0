package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "anyservice",
	Short: "Run any program as an operating system service",
	Long: `anyservice registers a program with the service manager and keeps it
running: it restarts the program when it exits and stops it (optionally
with everything it started) when the service is stopped.`,
	SilenceUsage: true,
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default anyservice.yaml next to the executable)")
	rootCmd.PersistentFlags().Bool("json", false, "print machine-readable output where supported")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
