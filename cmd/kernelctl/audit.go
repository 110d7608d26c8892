package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/agentgovernor/kernel/pkg/recorder"
)

var (
	auditFormat string
	auditLimit  int
	auditAgent  string
	auditVerify bool
)

var segmentNameRe = regexp.MustCompile(`^audit-(\d+)-(\d+|open)\.log$`)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Dump recent Flight Recorder entries",
	Long: `audit scans the recorder's sealed and in-progress segments under
<state-root>/recorder in sequence order and prints the most recent
entries, optionally filtered to one agent. --verify additionally walks
the full hash chain and reports the first index where it breaks, if any
(spec §4.3 verify_integrity).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := runtime().StateRoot.RecorderDir()

		entries, err := readAllSegments(dir)
		if err != nil {
			return fmt.Errorf("read recorder segments: %w", err)
		}

		if auditVerify {
			if i := recorder.VerifyIntegrity(entries); i >= 0 {
				fmt.Printf("chain broken at entry index %d (seq %d)\n", i, entries[i].Seq)
				os.Exit(exitViolation)
			}
			fmt.Printf("chain intact across %d entries\n", len(entries))
			if auditLimit == 0 {
				return nil
			}
		}

		filtered := entries
		if auditAgent != "" {
			filtered = filtered[:0]
			for _, e := range entries {
				if e.AgentID == auditAgent {
					filtered = append(filtered, e)
				}
			}
		}

		if auditLimit > 0 && len(filtered) > auditLimit {
			filtered = filtered[len(filtered)-auditLimit:]
		}

		if auditFormat == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(filtered)
		}

		for _, e := range filtered {
			fmt.Printf("seq=%d ts=%d agent=%s action=%s tool=%s decision=%s reason=%q\n",
				e.Seq, e.Ts, e.AgentID, e.ActionType, e.ToolName, e.Decision, e.Reason)
		}
		return nil
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditFormat, "format", "text", "text or json")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "max number of entries to print (0 = all; with --verify, 0 prints only the chain check)")
	auditCmd.Flags().StringVar(&auditAgent, "agent", "", "filter to a single agent_id")
	auditCmd.Flags().BoolVar(&auditVerify, "verify", false, "verify the hash chain before printing")
}

// readAllSegments reads every sealed audit-<start>-<end>.log segment and
// the in-progress audit-<start>-open.log segment in dir, in ascending
// start-sequence order, concatenating their entries. There is
// no durable-storage dependency here deliberately: the CLI reads the same
// plain JSON-lines files the Recorder itself writes (spec §6), so it works
// against any deployment without talking to a running kernel.
func readAllSegments(dir string) ([]recorder.AuditEntry, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "audit-*.log"))
	if err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		return segmentStartSeq(matches[i]) < segmentStartSeq(matches[j])
	})

	var entries []recorder.AuditEntry
	for _, path := range matches {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			var e recorder.AuditEntry
			if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
				f.Close()
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			entries = append(entries, e)
		}
		scanErr := scanner.Err()
		f.Close()
		if scanErr != nil {
			return nil, fmt.Errorf("%s: %w", path, scanErr)
		}
	}
	return entries, nil
}

func segmentStartSeq(path string) int64 {
	m := segmentNameRe.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return 0
	}
	n, _ := strconv.ParseInt(m[1], 10, 64)
	return n
}
