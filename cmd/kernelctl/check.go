package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentgovernor/kernel/pkg/sandbox"
)

var (
	checkStaged bool
	checkCI     bool
	checkFormat string
)

// checkFinding is one file's worth of static sandbox violations, shaped
// for the --format json output.
type checkFinding struct {
	File       string              `json:"file"`
	Violations []sandbox.Violation `json:"violations"`
}

var checkCmd = &cobra.Command{
	Use:   "check [paths...]",
	Short: "Statically scan source for blocked symbols and imports",
	Long: `check runs the Execution Sandbox's static phase (spec §4.4) over
every .go file under the given paths (default "."), reporting any
reference to a blocked symbol (eval, exec, compile) or blocked import
(process/shell runner, OS facilities, file-system recursion, sockets,
foreign-function interface) the way the kernel would before ever running
the code. --staged limits the scan to files staged in git; --ci suppresses
the per-file OK lines and only prints findings.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		paths := args
		if len(paths) == 0 {
			paths = []string{"."}
		}

		var files []string
		if checkStaged {
			staged, err := stagedGoFiles()
			if err != nil {
				return fmt.Errorf("list staged files: %w", err)
			}
			files = staged
		} else {
			for _, p := range paths {
				found, err := collectGoFiles(p)
				if err != nil {
					return fmt.Errorf("walk %s: %w", p, err)
				}
				files = append(files, found...)
			}
		}

		var findings []checkFinding
		for _, f := range files {
			src, err := os.ReadFile(f)
			if err != nil {
				fmt.Fprintf(os.Stderr, "check: %s: %v\n", f, err)
				continue
			}
			violations, err := sandbox.StaticScan(f, string(src))
			if err != nil {
				// Unparsable source is not itself a sandbox violation; a
				// file that doesn't compile is the Go toolchain's problem,
				// not the sandbox's. Report and continue.
				fmt.Fprintf(os.Stderr, "check: %s: %v\n", f, err)
				continue
			}
			if len(violations) > 0 {
				findings = append(findings, checkFinding{File: f, Violations: violations})
			} else if !checkCI {
				fmt.Printf("%s: OK\n", f)
			}
		}

		if checkFormat == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(findings)
		} else {
			for _, f := range findings {
				for _, v := range f.Violations {
					fmt.Printf("%s:%d: %s: %s\n", f.File, v.Line, v.Type, v.Symbol)
				}
			}
		}

		if len(findings) > 0 {
			os.Exit(exitViolation)
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().BoolVar(&checkStaged, "staged", false, "only scan files staged in git")
	checkCmd.Flags().BoolVar(&checkCI, "ci", false, "suppress per-file OK lines")
	checkCmd.Flags().StringVar(&checkFormat, "format", "text", "text or json")
}

func collectGoFiles(root string) ([]string, error) {
	var out []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == "vendor" || info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, ".go") {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}

func stagedGoFiles() ([]string, error) {
	out, err := exec.Command("git", "diff", "--cached", "--name-only", "--diff-filter=ACM").Output()
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if strings.HasSuffix(line, ".go") && line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}
