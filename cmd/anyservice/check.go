package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/zhujunling-nj/anyservice/internal/descriptor"
)

type checkResult struct {
	Path        string `json:"path"`
	Name        string `json:"name,omitempty"`
	CommandLine string `json:"command_line,omitempty"`
	Valid       bool   `json:"valid"`
	Error       string `json:"error,omitempty"`
}

var checkCmd = &cobra.Command{
	Use:   "check [file-or-dir]",
	Short: "Validate service descriptor files",
	Long:  "Parse and validate YAML service descriptors. Checks a specific file, a directory, or the services directory next to the executable.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")

	target := defaultDescriptorDir()
	if len(args) > 0 {
		target = args[0]
	}

	files, err := descriptorFiles(target)
	if err != nil {
		return err
	}

	results := checkFiles(files)
	var failed int
	for _, r := range results {
		if !r.Valid {
			failed++
		}
	}

	if jsonOut {
		if err := printJSON(results); err != nil {
			return err
		}
	} else {
		out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
		for _, r := range results {
			if r.Valid {
				fmt.Fprintf(out, "OK    %s (%s: %s)\n", r.Path, r.Name, r.CommandLine)
			} else {
				fmt.Fprintf(errOut, "FAIL  %s\n      %v\n", r.Path, r.Error)
			}
		}
		if len(files) > 1 {
			fmt.Fprintf(out, "\n%d/%d descriptors valid\n", len(files)-failed, len(files))
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d descriptor(s) failed validation", failed)
	}
	return nil
}

func descriptorFiles(target string) ([]string, error) {
	info, err := os.Stat(target)
	if err != nil {
		return nil, fmt.Errorf("cannot access %s: %w", target, err)
	}
	if !info.IsDir() {
		return []string{target}, nil
	}
	yamlFiles, _ := filepath.Glob(filepath.Join(target, "*.yaml"))
	ymlFiles, _ := filepath.Glob(filepath.Join(target, "*.yml"))
	files := append(yamlFiles, ymlFiles...)
	if len(files) == 0 {
		return nil, fmt.Errorf("no YAML files found in %s", target)
	}
	return files, nil
}

func checkFiles(files []string) []checkResult {
	results := make([]checkResult, 0, len(files))
	for _, path := range files {
		d, err := descriptor.Load(path)
		if err != nil {
			results = append(results, checkResult{Path: path, Error: err.Error()})
			continue
		}
		launch, err := d.Launch()
		if err != nil {
			results = append(results, checkResult{Path: path, Name: d.Name, Error: err.Error()})
			continue
		}
		results = append(results, checkResult{Path: path, Name: d.Name, CommandLine: launch.CommandLine, Valid: true})
	}
	return results
}
