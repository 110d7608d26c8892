// Command kernelctl is the kernel's administrative CLI: it writes and
// validates policy documents, runs the static sandbox scan over a source
// tree, and inspects the Flight Recorder, all without requiring a live
// Kernel process (spec §6 "CLI surface").
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	kconfig "github.com/agentgovernor/kernel/pkg/config"
	"github.com/agentgovernor/kernel/pkg/version"
)

// Exit codes spec §6 mandates: 0 success, 1 policy violation found,
// 2 configuration error, 3 runtime error.
const (
	exitOK           = 0
	exitViolation    = 1
	exitConfigError  = 2
	exitRuntimeError = 3
)

var (
	stateRoot string
	logLevel  string
	logger    *zap.Logger
	v         *viper.Viper
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "kernelctl: %v\n", err)
		os.Exit(exitRuntimeError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kernelctl",
	Short: "Administer the agent governance kernel",
	Long: `kernelctl drives the governance kernel's offline surface: writing a
starting policy, validating policy documents against the §6 grammar,
statically scanning a source tree the way the Execution Sandbox would,
and inspecting the Flight Recorder's hash-chained audit log.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initRuntime()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&stateRoot, "state-root", defaultStateRoot(), "kernel state directory (policy/recorder/memory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override AGENTOS_LOG_LEVEL (DEBUG, INFO, WARN, ERROR)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(statusCmd)
}

func defaultStateRoot() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.agentgovernor"
	}
	return ".agentgovernor"
}

// initRuntime binds viper to the AGENTOS_* environment variables and the
// chosen --state-root, then builds the zap logger every subcommand shares.
func initRuntime() error {
	v = kconfig.NewViper(stateRoot)
	if logLevel != "" {
		v.Set("log_level", logLevel)
	}

	rt := kconfig.LoadRuntime(v)

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseZapLevel(rt.LogLevel))
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = ""
	built, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	logger = built
	return nil
}

func parseZapLevel(level string) zapcore.Level {
	switch level {
	case "DEBUG":
		return zapcore.DebugLevel
	case "WARN":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func runtime() kconfig.Runtime {
	return kconfig.LoadRuntime(v)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print kernel version and loaded policy state",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt := runtime()
		info := version.Get()
		fmt.Println(info.String())
		fmt.Printf("\nState root:   %s\n", rt.StateRoot.Root)
		fmt.Printf("Policy file:  %s\n", rt.StateRoot.PolicyFile())
		fmt.Printf("Recorder dir: %s\n", rt.StateRoot.RecorderDir())

		data, err := os.ReadFile(rt.StateRoot.PolicyFile())
		if err != nil {
			fmt.Println("Loaded policies: none (no policy file found)")
			return nil
		}
		policies, err := kconfig.Load(data)
		if err != nil {
			fmt.Printf("Loaded policies: error parsing %s: %v\n", rt.StateRoot.PolicyFile(), err)
			return nil
		}
		fmt.Printf("Loaded policies (%d):\n", len(policies))
		for role := range policies {
			fmt.Printf("  - %s\n", role)
		}
		return nil
	},
}
