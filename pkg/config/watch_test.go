package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentgovernor/kernel/pkg/policy"
)

func TestWatchPolicyFileReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "active.yaml")

	if err := os.WriteFile(path, DefaultPolicyDocument(TemplateStrict), 0o644); err != nil {
		t.Fatalf("write initial policy: %v", err)
	}

	reloaded := make(chan map[string]*policy.CompiledPolicy, 4)
	errs := make(chan error, 4)

	pw, err := WatchPolicyFile(path, func(c map[string]*policy.CompiledPolicy) {
		reloaded <- c
	}, func(e error) {
		errs <- e
	})
	if err != nil {
		t.Fatalf("WatchPolicyFile: %v", err)
	}
	defer pw.Close()

	if err := os.WriteFile(path, DefaultPolicyDocument(TemplatePermissive), 0o644); err != nil {
		t.Fatalf("rewrite policy: %v", err)
	}

	select {
	case c := <-reloaded:
		cp, ok := c["agent"]
		if !ok {
			t.Fatalf("want role %q in reloaded policy, got %v", "agent", c)
		}
		if _, ok := cp.ToolTable["api.call"]; !ok {
			t.Fatalf("want permissive template's api_call tool (normalized to api.call) in reload, got %v", cp.ToolTable)
		}
	case e := <-errs:
		t.Fatalf("unexpected watch error: %v", e)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for policy reload")
	}
}

func TestWatchPolicyFileIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "active.yaml")
	if err := os.WriteFile(path, DefaultPolicyDocument(TemplateStrict), 0o644); err != nil {
		t.Fatalf("write initial policy: %v", err)
	}

	reloaded := make(chan map[string]*policy.CompiledPolicy, 4)
	pw, err := WatchPolicyFile(path, func(c map[string]*policy.CompiledPolicy) { reloaded <- c }, nil)
	if err != nil {
		t.Fatalf("WatchPolicyFile: %v", err)
	}
	defer pw.Close()

	if err := os.WriteFile(filepath.Join(dir, "unrelated.yaml"), []byte("noise"), 0o644); err != nil {
		t.Fatalf("write unrelated file: %v", err)
	}

	select {
	case c := <-reloaded:
		t.Fatalf("unrelated file write should not trigger a reload, got %v", c)
	case <-time.After(300 * time.Millisecond):
	}
}
