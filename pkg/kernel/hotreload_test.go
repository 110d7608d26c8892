package kernel

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentgovernor/kernel/pkg/config"
	"github.com/agentgovernor/kernel/pkg/policy"
	"github.com/agentgovernor/kernel/pkg/primitives"
)

func TestKernelWatchPolicyFileHotReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "active.yaml")
	if err := os.WriteFile(path, config.DefaultPolicyDocument(config.TemplateStrict), 0o644); err != nil {
		t.Fatalf("write initial policy: %v", err)
	}

	k := New(WithEngine(policy.NewEngine(policy.WithMode(policy.Enforcing))))
	var watchErr error
	pw, err := k.WatchPolicyFile(path, func(e error) { watchErr = e })
	if err != nil {
		t.Fatalf("WatchPolicyFile: %v", err)
	}
	defer pw.Close()

	// No policy has been loaded into the engine yet (the watcher only
	// fires on a write after it starts), so every tool call is denied.
	decision, err := k.Submit(context.Background(), RequestMetadata{AgentID: "a", AgentType: "agent"}, "api_call", primitives.ActionAPICall, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if decision.Allowed {
		t.Fatalf("want api_call denied before any policy is loaded, got %+v", decision)
	}

	if err := os.WriteFile(path, config.DefaultPolicyDocument(config.TemplatePermissive), 0o644); err != nil {
		t.Fatalf("rewrite policy: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		decision, err = k.Submit(context.Background(), RequestMetadata{AgentID: "a", AgentType: "agent"}, "api_call", primitives.ActionAPICall, nil)
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		if decision.Allowed {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if !decision.Allowed {
		t.Fatalf("want api_call allowed after hot reload to permissive template, got %+v", decision)
	}
	if watchErr != nil {
		t.Fatalf("unexpected watch error: %v", watchErr)
	}
}
