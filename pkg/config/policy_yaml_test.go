package config

import (
	"errors"
	"strings"
	"testing"

	"github.com/agentgovernor/kernel/pkg/policy"
	"github.com/agentgovernor/kernel/pkg/primitives"
)

const industrialZonesDoc = `
version: "1.0"
agent_constraints:
  control-zone-agent: [hmi.read, setpoint.read, historian.read]
  enterprise-zone-agent: [erp.query, email.send, report.generate, dmz.production-summary]
  dmz-broker-agent: [historian.read, data.relay, protocol.translate]
conditional_permissions:
  control-zone-agent:
    - tool_name: setpoint.write
      require_all: true
      conditions:
        - attribute_path: role
          operator: eq
          value: plant-operator
quotas:
  control-zone-agent:
    max_requests_per_minute: 120
    max_requests_per_hour: 2000
    max_concurrent_executions: 4
    allowed_action_types: [TOOL_CALL_GENERIC]
  enterprise-zone-agent:
    max_requests_per_minute: 300
risk_policies:
  dmz-broker-agent:
    max_risk_score: 1.0
    require_approval_above: 0.6
    deny_above: 0.9
    high_risk_patterns: ["rm -rf", "DROP TABLE"]
    blocked_domains: ["internet.example"]
custom_rules:
  - rule_id: no-weekend-writes
    name: "No weekend writes"
    description: "deny all writes outside business hours"
    action_types: [FILE_WRITE, DATABASE_WRITE]
    priority: 100
`

func TestLoadCompilesOneCompiledPolicyPerRole(t *testing.T) {
	compiled, err := Load([]byte(industrialZonesDoc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	for _, role := range []string{"control-zone-agent", "enterprise-zone-agent", "dmz-broker-agent"} {
		if _, ok := compiled[role]; !ok {
			t.Errorf("missing compiled policy for role %q", role)
		}
	}
}

func TestLoadToolTableAllowsConstrainedTools(t *testing.T) {
	compiled, err := Load([]byte(industrialZonesDoc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	cp := compiled["control-zone-agent"]
	for _, tool := range []string{"hmi.read", "setpoint.read", "historian.read"} {
		perm, ok := cp.ToolTable[tool]
		if !ok {
			t.Fatalf("tool %q missing from ToolTable", tool)
		}
		if perm.Action != policy.Allow {
			t.Errorf("tool %q: want Allow, got %v", tool, perm.Action)
		}
	}
	if _, ok := cp.ToolTable["plc.write"]; ok {
		t.Error("plc.write should not be in control-zone-agent's ToolTable")
	}
	if cp.DefaultAction != policy.Deny {
		t.Errorf("DefaultAction: want Deny, got %v", cp.DefaultAction)
	}
}

func TestLoadConditionalPermissions(t *testing.T) {
	compiled, err := Load([]byte(industrialZonesDoc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	cp := compiled["control-zone-agent"]
	if len(cp.ConditionalPermissions) != 1 {
		t.Fatalf("want 1 conditional permission, got %d", len(cp.ConditionalPermissions))
	}
	perm := cp.ConditionalPermissions[0]
	if perm.ToolName != "setpoint.write" || !perm.RequireAll {
		t.Errorf("unexpected conditional permission: %+v", perm)
	}
	if len(perm.Conditions) != 1 || perm.Conditions[0].AttributePath != "role" {
		t.Errorf("unexpected conditions: %+v", perm.Conditions)
	}
}

func TestLoadQuotaAndRiskPolicy(t *testing.T) {
	compiled, err := Load([]byte(industrialZonesDoc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	quota := compiled["control-zone-agent"].Quota
	if quota == nil || quota.MaxRequestsPerMinute != 120 || quota.MaxConcurrent != 4 {
		t.Errorf("unexpected quota: %+v", quota)
	}
	if len(quota.AllowedActionTypes) != 1 || quota.AllowedActionTypes[0] != primitives.ActionToolCallGeneric {
		t.Errorf("unexpected allowed action types: %+v", quota.AllowedActionTypes)
	}

	risk := compiled["dmz-broker-agent"].RiskPolicy
	if risk == nil || risk.DenyAbove != 0.9 || len(risk.BlockedDomains) != 1 {
		t.Errorf("unexpected risk policy: %+v", risk)
	}

	// enterprise-zone-agent declared no risk policy.
	if compiled["enterprise-zone-agent"].RiskPolicy != nil {
		t.Error("enterprise-zone-agent should have no risk policy")
	}
}

func TestLoadCustomRulesSharedAcrossRoles(t *testing.T) {
	compiled, err := Load([]byte(industrialZonesDoc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	for _, role := range []string{"control-zone-agent", "enterprise-zone-agent", "dmz-broker-agent"} {
		rules := compiled[role].CrossCuttingRules
		if len(rules) != 1 || rules[0].RuleID != "no-weekend-writes" {
			t.Errorf("role %q: unexpected cross-cutting rules: %+v", role, rules)
		}
	}
}

func TestLoadRejectsUnknownTopLevelKey(t *testing.T) {
	doc := `
version: "1.0"
agent_constraints:
  some-agent: [file.read]
unexpected_top_level_key: true
`
	_, err := Load([]byte(doc))
	if err == nil {
		t.Fatal("expected a LoadError for an unknown top-level key")
	}
	var loadErr *LoadError
	if !errorsAs(err, &loadErr) {
		t.Fatalf("want *LoadError, got %T: %v", err, err)
	}
	if !strings.Contains(loadErr.Error(), "unexpected_top_level_key") {
		t.Errorf("error should name the offending key: %v", loadErr)
	}
}

func TestLoadRejectsUnknownConditionKey(t *testing.T) {
	doc := `
version: "1.0"
agent_constraints:
  some-agent: [file.read]
conditional_permissions:
  some-agent:
    - tool_name: file.write
      conditions:
        - attribute_path: role
          operator: eq
          value: admin
          typo_field: oops
`
	_, err := Load([]byte(doc))
	if err == nil {
		t.Fatal("expected a LoadError for an unknown condition key")
	}
	if !strings.Contains(err.Error(), "typo_field") {
		t.Errorf("error should name the offending key: %v", err)
	}
}

func TestLoadRejectsUnknownQuotaKey(t *testing.T) {
	doc := `
version: "1.0"
agent_constraints:
  some-agent: [file.read]
quotas:
  some-agent:
    max_requests_per_minute: 10
    bogus_field: 1
`
	_, err := Load([]byte(doc))
	if err == nil {
		t.Fatal("expected a LoadError for an unknown quota key")
	}
	if !strings.Contains(err.Error(), "bogus_field") {
		t.Errorf("error should name the offending key: %v", err)
	}
}

// errorsAs is a tiny local stand-in for errors.As since LoadError is never
// wrapped in this package.
func errorsAs(err error, target **LoadError) bool {
	le, ok := err.(*LoadError)
	if !ok {
		return false
	}
	*target = le
	return true
}
