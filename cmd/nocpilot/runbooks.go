package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/akmatori/nocpilot/internal/knowledge"
)

func newRunbooksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runbooks",
		Short: "Runbook utilities",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <dir>",
		Short: "Parse every runbook file in a directory and report problems",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateRunbooks(cmd, args[0])
		},
	})
	return cmd
}

// validateRunbooks loads each YAML file on its own so one bad file does not hide the
// rest. Subdirectories are walked the same way the server's loader walks them.
func validateRunbooks(cmd *cobra.Command, dir string) error {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		ext := strings.ToLower(filepath.Ext(path))
		if !d.IsDir() && (ext == ".yaml" || ext == ".yml") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", dir, err)
	}
	sort.Strings(files)

	out := cmd.OutOrStdout()
	kb := knowledge.New(nil)
	definedIn := make(map[string]string)
	failed := 0
	for _, path := range files {
		name, _ := filepath.Rel(dir, path)
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		runbooks, err := knowledge.ParseRunbooks(data)
		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s: %v\n", name, err)
			continue
		}

		problems := 0
		for _, rb := range runbooks {
			if first, dup := definedIn[rb.ID]; dup {
				problems++
				fmt.Fprintf(out, "FAIL %s: runbook %s already defined in %s\n", name, rb.ID, first)
				continue
			}
			if err := kb.Add(context.Background(), rb); err != nil {
				problems++
				fmt.Fprintf(out, "FAIL %s: %s: %v\n", name, rb.ID, err)
				continue
			}
			definedIn[rb.ID] = name
		}
		if problems == 0 {
			fmt.Fprintf(out, "ok   %s (%d runbooks)\n", name, len(runbooks))
		}
		failed += problems
	}

	fmt.Fprintf(out, "%d files, %d runbooks, %d problems\n", len(files), kb.Len(), failed)
	if failed > 0 {
		return fmt.Errorf("%d runbook problems found", failed)
	}
	return nil
}
