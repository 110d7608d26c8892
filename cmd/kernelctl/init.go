package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	kconfig "github.com/agentgovernor/kernel/pkg/config"
)

var initTemplate string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default policy document and identity file",
	Long: `init lays down <state-root>/policy/active.yaml and an identity.json
stub so a freshly deployed kernel has something to evaluate against. The
--template flag picks the starting posture: strict denies almost
everything by default, permissive allows a broad tool set, and audit
allows reads, API calls and database queries; write-class tools are not
on its allow-list, so they are denied.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tmpl, err := kconfig.ParseTemplate(initTemplate)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitConfigError)
		}

		rt := runtime()
		root := rt.StateRoot

		if err := os.MkdirAll(root.PolicyDir(), 0o755); err != nil {
			return fmt.Errorf("create policy dir: %w", err)
		}
		if err := os.MkdirAll(root.RecorderDir(), 0o755); err != nil {
			return fmt.Errorf("create recorder dir: %w", err)
		}
		if err := os.MkdirAll(root.MemoryDir(), 0o755); err != nil {
			return fmt.Errorf("create memory dir: %w", err)
		}

		if _, err := os.Stat(root.PolicyFile()); err == nil {
			logger.Warn("policy file already exists, leaving untouched", zap.String("path", root.PolicyFile()))
		} else {
			if err := os.WriteFile(root.PolicyFile(), kconfig.DefaultPolicyDocument(tmpl), 0o644); err != nil {
				return fmt.Errorf("write policy file: %w", err)
			}
		}

		identityPath := root.Root + "/identity.json"
		if _, err := os.Stat(identityPath); err != nil {
			agentID := uuid.New().String()
			if err := os.WriteFile(identityPath, kconfig.DefaultIdentityDocument(agentID), 0o644); err != nil {
				return fmt.Errorf("write identity file: %w", err)
			}
		}

		fmt.Printf("initialized kernel state at %s (template: %s)\n", root.Root, tmpl)
		return nil
	},
}

func init() {
	initCmd.Flags().StringVar(&initTemplate, "template", "strict", "strict, permissive, or audit")
}
