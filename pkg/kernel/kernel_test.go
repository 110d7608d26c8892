package kernel

import (
	"context"
	"testing"

	"github.com/agentgovernor/kernel/pkg/policy"
	"github.com/agentgovernor/kernel/pkg/primitives"
	"github.com/agentgovernor/kernel/pkg/signal"
)

func TestKernelSubmitAllowsPermittedTool(t *testing.T) {
	engine := policy.NewEngine(policy.WithMode(policy.Enforcing))
	engine.LoadPolicy("coding-assistant", policy.CompilePolicy(
		"coding-assistant-policy",
		[]string{"coding-assistant"},
		policy.Deny,
		[]policy.ToolPermission{
			{Tool: "file.read", Action: policy.Allow},
		},
		policy.Enforcing,
		"",
	))

	k := New(WithEngine(engine))

	decision, err := k.Submit(context.Background(), RequestMetadata{
		AgentID:   "agent-1",
		AgentType: "coding-assistant",
	}, "file.read", primitives.ActionFileRead, map[string]interface{}{"path": "/workspace/main.go"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("want allowed, got %+v", decision)
	}
}

func TestKernelSubmitDeniesUnlistedTool(t *testing.T) {
	engine := policy.NewEngine(policy.WithMode(policy.Enforcing))
	engine.LoadPolicy("coding-assistant", policy.CompilePolicy(
		"coding-assistant-policy",
		[]string{"coding-assistant"},
		policy.Deny,
		[]policy.ToolPermission{
			{Tool: "file.read", Action: policy.Allow},
		},
		policy.Enforcing,
		"",
	))

	k := New(WithEngine(engine))

	decision, err := k.Submit(context.Background(), RequestMetadata{
		AgentID:   "agent-1",
		AgentType: "coding-assistant",
	}, "network.fetch", primitives.ActionAPICall, map[string]interface{}{"url": "http://example.com"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if decision.Allowed {
		t.Fatalf("want denied, got %+v", decision)
	}
}

func TestKernelSubmitDeniesDestructiveSQL(t *testing.T) {
	engine := policy.NewEngine(policy.WithMode(policy.Enforcing))
	engine.LoadPolicy("data-analyst", policy.CompilePolicy(
		"data-analyst-policy",
		[]string{"data-analyst"},
		policy.Deny,
		[]policy.ToolPermission{
			{Tool: "db", Action: policy.Allow},
		},
		policy.Enforcing,
		"",
	))

	k := New(WithEngine(engine))

	decision, err := k.Submit(context.Background(), RequestMetadata{
		AgentID:   "agent-2",
		AgentType: "data-analyst",
	}, "db", primitives.ActionCodeExecution, map[string]interface{}{"query": "DROP TABLE users"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if decision.Allowed {
		t.Fatalf("want destructive SQL denied, got %+v", decision)
	}
}

func TestKernelSubmitSendsSigpolicyOnlyOnCriticalDenial(t *testing.T) {
	engine := policy.NewEngine(policy.WithMode(policy.Enforcing))
	engine.LoadPolicy("coding-assistant", policy.CompilePolicy(
		"coding-assistant-policy",
		[]string{"coding-assistant"},
		policy.Allow,
		nil,
		policy.Enforcing,
		"",
	))

	dispatcher := signal.NewDispatcher()
	k := New(WithEngine(engine), WithSignalDispatcher(dispatcher))

	meta := RequestMetadata{AgentID: "agent-1", AgentType: "coding-assistant", SessionID: "sess-1"}

	// The mandatory safety screen denies this regardless of the
	// default-allow policy above; it is a CRITICAL-severity denial and
	// must raise SIGPOLICY.
	decision, err := k.Submit(context.Background(), meta, "shell.execute", primitives.ActionCodeExecution, map[string]interface{}{"command": "rm -rf /"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if decision.Allowed {
		t.Fatalf("want destructive command denied, got %+v", decision)
	}
	if got := dispatcher.State("sess-1"); got != signal.StateTerminated {
		t.Fatalf("want session terminated by SIGPOLICY, got state %v", got)
	}
}

func TestKernelSubmitSendsNoSignalOnQuotaDenial(t *testing.T) {
	engine := policy.NewEngine(policy.WithMode(policy.Enforcing))
	cp := policy.CompilePolicy(
		"coding-assistant-policy",
		[]string{"coding-assistant"},
		policy.Deny,
		[]policy.ToolPermission{{Tool: "file.read", Action: policy.Allow}},
		policy.Enforcing,
		"",
	)
	cp.Quota = &policy.ResourceQuota{MaxRequestsPerMinute: 1}
	engine.LoadPolicy("coding-assistant", cp)

	dispatcher := signal.NewDispatcher()
	k := New(WithEngine(engine), WithSignalDispatcher(dispatcher))

	meta := RequestMetadata{AgentID: "agent-1", AgentType: "coding-assistant", SessionID: "sess-2"}

	if _, err := k.Submit(context.Background(), meta, "file.read", primitives.ActionFileRead, map[string]interface{}{"path": "/workspace/a.txt"}); err != nil {
		t.Fatalf("first Submit: %v", err)
	}

	decision, err := k.Submit(context.Background(), meta, "file.read", primitives.ActionFileRead, map[string]interface{}{"path": "/workspace/a.txt"})
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if decision.Allowed {
		t.Fatalf("want quota denial on the second request, got %+v", decision)
	}
	if got := dispatcher.State("sess-2"); got != signal.StateRunning {
		t.Fatalf("want session left running after a plain quota denial, got state %v", got)
	}
}

func TestKernelGuardOutboundRunsUnguardedWithoutBreaker(t *testing.T) {
	k := New()
	called := false
	err := k.GuardOutbound(context.Background(), "unregistered", func(context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("GuardOutbound: %v", err)
	}
	if !called {
		t.Fatal("want fn called when no breaker is registered")
	}
}
