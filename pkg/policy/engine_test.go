package policy

import (
	"context"
	"testing"
	"time"

	"github.com/agentgovernor/kernel/pkg/primitives"
)

func execReq(tool string, args map[string]interface{}) ExecutionRequest {
	return NewExecutionRequest("agent-x", primitives.ActionToolCallGeneric, tool, args, nil)
}

// TestEngineBasicAllow verifies that allowed tools pass
func TestEngineBasicAllow(t *testing.T) {
	engine := NewEngine(WithMode(Enforcing))

	policy := CompilePolicy(
		"test-policy",
		[]string{"coding-assistant"},
		Deny, // default deny
		[]ToolPermission{
			{Tool: "file.read", Action: Allow},
		},
		Enforcing,
		"",
	)
	engine.LoadPolicy("coding-assistant", policy)

	agent := AgentContext{
		AgentType: "coding-assistant",
		SandboxID: "sandbox-123",
	}

	decision, err := engine.EvaluateRequest(context.Background(), agent, execReq("file.read", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allowed {
		t.Errorf("expected Allowed, got %+v", decision)
	}
}

// TestEngineBasicDeny verifies that denied tools are blocked
func TestEngineBasicDeny(t *testing.T) {
	engine := NewEngine(WithMode(Enforcing))

	policy := CompilePolicy(
		"test-policy",
		[]string{"coding-assistant"},
		Deny,
		[]ToolPermission{
			{Tool: "file.read", Action: Allow},
			{Tool: "shell.execute", Action: Deny},
		},
		Enforcing,
		"",
	)
	engine.LoadPolicy("coding-assistant", policy)

	agent := AgentContext{AgentType: "coding-assistant"}

	decision, err := engine.EvaluateRequest(context.Background(), agent, execReq("shell.execute", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed {
		t.Errorf("expected deny for shell.execute, got %+v", decision)
	}

	decision, err = engine.EvaluateRequest(context.Background(), agent, execReq("db.admin", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed {
		t.Errorf("expected deny for unlisted tool, got %+v", decision)
	}
}

// TestEngineDefaultAllow verifies default-allow policies
func TestEngineDefaultAllow(t *testing.T) {
	engine := NewEngine(WithMode(Enforcing))

	policy := CompilePolicy(
		"permissive-policy",
		[]string{"trusted-agent"},
		Allow,
		[]ToolPermission{
			{Tool: "db.admin", Action: Deny},
		},
		Enforcing,
		"",
	)
	engine.LoadPolicy("trusted-agent", policy)

	agent := AgentContext{AgentType: "trusted-agent"}

	decision, _ := engine.EvaluateRequest(context.Background(), agent, execReq("file.write", nil))
	if !decision.Allowed {
		t.Errorf("expected allow for unlisted tool with default-allow, got %+v", decision)
	}

	decision, _ = engine.EvaluateRequest(context.Background(), agent, execReq("db.admin", nil))
	if decision.Allowed {
		t.Errorf("expected deny for explicitly denied tool, got %+v", decision)
	}
}

// TestEnginePermissiveMode verifies permissive mode logs but allows
func TestEnginePermissiveMode(t *testing.T) {
	engine := NewEngine(WithMode(Permissive))

	policy := CompilePolicy(
		"test-policy",
		[]string{"coding-assistant"},
		Deny,
		[]ToolPermission{},
		Permissive,
		"",
	)
	engine.LoadPolicy("coding-assistant", policy)

	agent := AgentContext{AgentType: "coding-assistant"}

	decision, _ := engine.EvaluateRequest(context.Background(), agent, execReq("shell.execute", nil))
	if !decision.Allowed {
		t.Errorf("permissive mode should allow even denied tools, got %+v", decision)
	}
}

// TestEngineNoPolicy verifies behavior when no policy exists
func TestEngineNoPolicy(t *testing.T) {
	engine := NewEngine(WithMode(Enforcing))

	agent := AgentContext{AgentType: "unknown-agent"}

	decision, _ := engine.EvaluateRequest(context.Background(), agent, execReq("any.tool", nil))
	if decision.Allowed {
		t.Errorf("expected deny when no policy exists, got %+v", decision)
	}
}

// TestEngineCacheHit verifies the coarse allow-list cache improves
// performance on repeated (agentType, tool) lookups.
func TestEngineCacheHit(t *testing.T) {
	engine := NewEngine(WithMode(Enforcing))

	policy := CompilePolicy(
		"test-policy",
		[]string{"coding-assistant"},
		Deny,
		[]ToolPermission{
			{Tool: "file.read", Action: Allow},
		},
		Enforcing,
		"",
	)
	engine.LoadPolicy("coding-assistant", policy)

	agent := AgentContext{AgentType: "coding-assistant"}

	engine.EvaluateRequest(context.Background(), agent, execReq("file.read", nil))
	engine.EvaluateRequest(context.Background(), agent, execReq("file.read", nil))

	hits, misses, hitRate := engine.CacheStats()
	if hits != 1 {
		t.Errorf("expected 1 cache hit, got %d", hits)
	}
	if misses != 1 {
		t.Errorf("expected 1 cache miss, got %d", misses)
	}
	if hitRate != 50.0 {
		t.Errorf("expected 50%% hit rate, got %.1f%%", hitRate)
	}
}

// TestEngineCacheInvalidation verifies cache is cleared on policy update
func TestEngineCacheInvalidation(t *testing.T) {
	engine := NewEngine(WithMode(Enforcing))

	policy := CompilePolicy(
		"test-policy",
		[]string{"coding-assistant"},
		Allow,
		[]ToolPermission{},
		Enforcing,
		"",
	)
	engine.LoadPolicy("coding-assistant", policy)

	agent := AgentContext{AgentType: "coding-assistant"}

	engine.EvaluateRequest(context.Background(), agent, execReq("file.read", nil))

	newPolicy := CompilePolicy(
		"test-policy",
		[]string{"coding-assistant"},
		Deny,
		[]ToolPermission{},
		Enforcing,
		"",
	)
	engine.LoadPolicy("coding-assistant", newPolicy)

	decision, _ := engine.EvaluateRequest(context.Background(), agent, execReq("file.read", nil))
	if decision.Allowed {
		t.Errorf("expected deny after policy update, got %+v", decision)
	}
}

// TestEnginePathConstraints verifies file path constraints
func TestEnginePathConstraints(t *testing.T) {
	engine := NewEngine(WithMode(Enforcing))

	policy := CompilePolicy(
		"test-policy",
		[]string{"coding-assistant"},
		Deny,
		[]ToolPermission{
			{
				Tool:   "file.read",
				Action: Allow,
				Constraints: &ToolConstraints{
					PathPatterns: []string{"/workspace/**", "/tmp/*"},
				},
			},
		},
		Enforcing,
		"",
	)
	engine.LoadPolicy("coding-assistant", policy)

	agent := AgentContext{AgentType: "coding-assistant"}

	tests := []struct {
		path     string
		expected bool
	}{
		{"/workspace/src/main.go", true},
		{"/workspace/deep/nested/file.txt", true},
		{"/tmp/scratch", true},
		{"/etc/passwd", false},
		{"/home/user/secrets", false},
	}

	for _, tt := range tests {
		engine.cache.InvalidateAll()

		decision, _ := engine.EvaluateRequest(context.Background(), agent, execReq("file.read", map[string]interface{}{"path": tt.path}))
		if decision.Allowed != tt.expected {
			t.Errorf("path %s: expected allowed=%v, got %+v", tt.path, tt.expected, decision)
		}
	}
}

// TestEngineDomainConstraints verifies network domain constraints
func TestEngineDomainConstraints(t *testing.T) {
	engine := NewEngine(WithMode(Enforcing))

	policy := CompilePolicy(
		"test-policy",
		[]string{"research-agent"},
		Deny,
		[]ToolPermission{
			{
				Tool:   "network.fetch",
				Action: Allow,
				Constraints: &ToolConstraints{
					AllowedDomains: []string{"*.github.com", "api.example.com"},
				},
			},
		},
		Enforcing,
		"",
	)
	engine.LoadPolicy("research-agent", policy)

	agent := AgentContext{AgentType: "research-agent"}

	tests := []struct {
		domain   string
		expected bool
	}{
		{"api.github.com", true},
		{"raw.github.com", true},
		{"api.example.com", true},
		{"evil.com", false},
		{"github.com.evil.com", false},
	}

	for _, tt := range tests {
		engine.cache.InvalidateAll()

		decision, _ := engine.EvaluateRequest(context.Background(), agent, execReq("network.fetch", map[string]interface{}{"domain": tt.domain}))
		if decision.Allowed != tt.expected {
			t.Errorf("domain %s: expected allowed=%v, got %+v", tt.domain, tt.expected, decision)
		}
	}
}

// TestDecisionCacheTTL verifies cache entries expire
func TestDecisionCacheTTL(t *testing.T) {
	cache := NewDecisionCache(50 * time.Millisecond)

	cache.Set("test:key", Allow, "test")

	if _, _, ok := cache.Get("test:key"); !ok {
		t.Error("expected cache hit")
	}

	time.Sleep(60 * time.Millisecond)

	if _, _, ok := cache.Get("test:key"); ok {
		t.Error("expected cache miss after TTL")
	}
}

// TestAuditSink verifies audit events are emitted
func TestAuditSink(t *testing.T) {
	var events []*AuditEvent
	sink := &testAuditSink{events: &events}

	engine := NewEngine(WithMode(Enforcing), WithAuditSink(sink))

	policy := CompilePolicy(
		"test-policy",
		[]string{"coding-assistant"},
		Deny,
		[]ToolPermission{
			{Tool: "file.read", Action: Allow},
		},
		Enforcing,
		"",
	)
	engine.LoadPolicy("coding-assistant", policy)

	agent := AgentContext{AgentType: "coding-assistant", SandboxID: "sandbox-123"}

	engine.EvaluateRequest(context.Background(), agent, execReq("file.read", nil))
	engine.EvaluateRequest(context.Background(), agent, execReq("file.write", nil))

	if len(events) != 2 {
		t.Fatalf("expected 2 audit events, got %d", len(events))
	}
	if events[0].Decision != Allow {
		t.Errorf("first event should be Allow")
	}
	if events[1].Decision != Deny {
		t.Errorf("second event should be Deny")
	}
}

// TestEngineConditionalPermissionOverridesAllowList verifies conditional
// permissions take precedence over the coarse allow-list.
func TestEngineConditionalPermissionOverridesAllowList(t *testing.T) {
	engine := NewEngine(WithMode(Enforcing))

	policy := CompilePolicy(
		"test-policy",
		[]string{"coding-assistant"},
		Deny,
		nil,
		Enforcing,
		"",
	)
	policy.ConditionalPermissions = []ConditionalPermission{
		{
			ToolName:   "file.write",
			RequireAll: true,
			Conditions: []Condition{
				{AttributePath: "args.path", Operator: "starts_with", Value: "/workspace/"},
			},
		},
	}
	engine.LoadPolicy("coding-assistant", policy)

	agent := AgentContext{AgentType: "coding-assistant"}

	decision, _ := engine.EvaluateRequest(context.Background(), agent, execReq("file.write", map[string]interface{}{"path": "/workspace/out.txt"}))
	if !decision.Allowed {
		t.Errorf("expected allow for matching conditional permission, got %+v", decision)
	}

	decision, _ = engine.EvaluateRequest(context.Background(), agent, execReq("file.write", map[string]interface{}{"path": "/etc/passwd"}))
	if decision.Allowed {
		t.Errorf("expected deny for non-matching conditional permission, got %+v", decision)
	}
}

// TestEngineRiskScoringDeniesAboveThreshold verifies step 5 risk scoring.
func TestEngineRiskScoringDeniesAboveThreshold(t *testing.T) {
	engine := NewEngine(WithMode(Enforcing))

	policy := CompilePolicy(
		"test-policy",
		[]string{"coding-assistant"},
		Allow,
		nil,
		Enforcing,
		"",
	)
	policy.RiskPolicy = &RiskPolicy{
		Name:             "default",
		DenyAbove:        0.3,
		HighRiskPatterns: []string{"DROP\\s+TABLE"},
	}
	engine.LoadPolicy("coding-assistant", policy)

	agent := AgentContext{AgentType: "coding-assistant"}

	decision, _ := engine.EvaluateRequest(context.Background(), agent, execReq("db.query", map[string]interface{}{"sql": "DROP TABLE users"}))
	if decision.Allowed {
		t.Errorf("expected deny above risk threshold, got %+v", decision)
	}
}

// TestEngineSafetyScreenBlocksDestructiveCommand verifies step 1 cannot be
// bypassed by any policy, even a default-allow one.
func TestEngineSafetyScreenBlocksDestructiveCommand(t *testing.T) {
	engine := NewEngine(WithMode(Enforcing))

	policy := CompilePolicy(
		"test-policy",
		[]string{"coding-assistant"},
		Allow,
		nil,
		Enforcing,
		"",
	)
	engine.LoadPolicy("coding-assistant", policy)

	agent := AgentContext{AgentType: "coding-assistant"}
	req := NewExecutionRequest("agent-x", primitives.ActionCodeExecution, "shell.execute", map[string]interface{}{"command": "rm -rf /"}, nil)

	decision, _ := engine.EvaluateRequest(context.Background(), agent, req)
	if decision.Allowed {
		t.Errorf("expected the mandatory safety screen to block rm -rf, got %+v", decision)
	}
}

// testAuditSink is a simple audit sink for testing
type testAuditSink struct {
	events *[]*AuditEvent
}

func (s *testAuditSink) Log(event *AuditEvent) {
	*s.events = append(*s.events, event)
}
