package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	kconfig "github.com/agentgovernor/kernel/pkg/config"
)

var validateStrict bool

var validateCmd = &cobra.Command{
	Use:   "validate [files...]",
	Short: "Parse and type-check policy documents",
	Long: `validate loads each file against the §6 policy document grammar
(agent_constraints / conditional_permissions / quotas / risk_policies /
custom_rules), rejecting unknown keys at any level. With no files given,
the kernel's active policy file is validated. --strict additionally
requires every role named in agent_constraints to declare a quota and a
risk policy.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		files := args
		if len(files) == 0 {
			files = []string{runtime().StateRoot.PolicyFile()}
		}

		anyFailed := false
		for _, path := range files {
			fileOK := true

			data, err := os.ReadFile(path)
			if err != nil {
				fmt.Printf("%s: %v\n", path, err)
				anyFailed = true
				continue
			}

			compiled, err := kconfig.Load(data)
			if err != nil {
				fmt.Printf("%s: %v\n", path, err)
				anyFailed = true
				continue
			}

			if validateStrict {
				for role, cp := range compiled {
					if cp.Quota == nil {
						fmt.Printf("%s: role %q has no quota (--strict)\n", path, role)
						fileOK = false
					}
					if cp.RiskPolicy == nil {
						fmt.Printf("%s: role %q has no risk policy (--strict)\n", path, role)
						fileOK = false
					}
				}
			}

			if fileOK {
				fmt.Printf("%s: OK (%d role(s))\n", path, len(compiled))
			} else {
				anyFailed = true
			}
		}

		if anyFailed {
			os.Exit(exitConfigError)
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().BoolVar(&validateStrict, "strict", false, "require every role to declare a quota and risk policy")
}
