package config

import (
	"path/filepath"

	"github.com/spf13/viper"
)

// Environment variables spec §6 names for the CLI/daemon runtime surface.
const (
	EnvConfigPath  = "AGENTOS_CONFIG"
	EnvLogLevel    = "AGENTOS_LOG_LEVEL"
	EnvRecorderDir = "AGENTOS_RECORDER_DIR"
)

// StateRoot resolves the on-disk layout spec §6 mandates under a single
// kernel state directory:
//
//	<state_root>/policy/active.yaml
//	<state_root>/recorder/audit-*.log
//	<state_root>/recorder/audit.index
//	<state_root>/memory/<agent_id>/*.entry
type StateRoot struct {
	Root string
}

// PolicyFile is the currently loaded policy document's path.
func (s StateRoot) PolicyFile() string {
	return filepath.Join(s.Root, "policy", "active.yaml")
}

// PolicyDir is the directory PolicyFile lives in.
func (s StateRoot) PolicyDir() string {
	return filepath.Join(s.Root, "policy")
}

// RecorderDir is where chained audit segments and the query index live.
func (s StateRoot) RecorderDir() string {
	return filepath.Join(s.Root, "recorder")
}

// IndexFile is the recorder's sequence index.
func (s StateRoot) IndexFile() string {
	return filepath.Join(s.RecorderDir(), "audit.index")
}

// MemoryDir is the root of the per-agent memory entry stores.
func (s StateRoot) MemoryDir() string {
	return filepath.Join(s.Root, "memory")
}

// Runtime is the CLI's resolved configuration: flags, AGENTOS_* environment
// variables and viper config-file values merged with the same precedence
// order the config packages in the pack use (env > flag default > file),
// grounded on kubilitics-backend's internal/config/config.go viper setup.
type Runtime struct {
	ConfigPath  string
	LogLevel    string
	RecorderDir string
	StateRoot   StateRoot
}

// NewViper builds a *viper.Viper bound to the AGENTOS_* environment
// variables and the given flag defaults, ready for LoadRuntime.
func NewViper(stateRootDefault string) *viper.Viper {
	v := viper.New()
	v.SetDefault("config", "")
	v.SetDefault("log_level", "INFO")
	v.SetDefault("recorder_dir", filepath.Join(stateRootDefault, "recorder"))
	v.SetDefault("state_root", stateRootDefault)

	_ = v.BindEnv("config", EnvConfigPath)
	_ = v.BindEnv("log_level", EnvLogLevel)
	_ = v.BindEnv("recorder_dir", EnvRecorderDir)
	return v
}

// LoadRuntime reads the bound viper instance into a Runtime.
func LoadRuntime(v *viper.Viper) Runtime {
	root := v.GetString("state_root")
	return Runtime{
		ConfigPath:  v.GetString("config"),
		LogLevel:    v.GetString("log_level"),
		RecorderDir: v.GetString("recorder_dir"),
		StateRoot:   StateRoot{Root: root},
	}
}
