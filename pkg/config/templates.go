package config

import "fmt"

// Template selects one of kernelctl init's three starting postures.
type Template string

const (
	TemplateStrict     Template = "strict"
	TemplatePermissive Template = "permissive"
	TemplateAudit      Template = "audit"
)

// ParseTemplate validates a --template flag value, defaulting to strict.
func ParseTemplate(s string) (Template, error) {
	switch Template(s) {
	case TemplateStrict, TemplatePermissive, TemplateAudit, "":
		if s == "" {
			return TemplateStrict, nil
		}
		return Template(s), nil
	default:
		return "", fmt.Errorf("unknown template %q: want strict, permissive, or audit", s)
	}
}

// DefaultPolicyDocument returns the §6 policy YAML `kernelctl init` writes
// to <state_root>/policy/active.yaml for the chosen template. Every
// template declares the same "agent" role so a freshly initialised kernel
// has something to evaluate against immediately; the templates differ in
// how much the role is trusted by default.
func DefaultPolicyDocument(t Template) []byte {
	switch t {
	case TemplatePermissive:
		return []byte(`version: "1.0"
agent_constraints:
  agent:
    - file_read
    - file_write
    - api_call
    - database_query
    - tool_call_generic
quotas:
  agent:
    max_requests_per_minute: 120
    max_requests_per_hour: 4000
    max_concurrent_executions: 8
risk_policies:
  default:
    max_risk_score: 0.9
    require_approval_above: 0.75
    deny_above: 0.95
custom_rules: []
`)
	case TemplateAudit:
		return []byte(`version: "1.0"
agent_constraints:
  agent:
    - file_read
    - api_call
    - database_query
quotas:
  agent:
    max_requests_per_minute: 60
    max_requests_per_hour: 1000
    max_concurrent_executions: 4
risk_policies:
  default:
    max_risk_score: 0.6
    require_approval_above: 0.4
    deny_above: 0.8
custom_rules:
  - rule_id: audit.log_all_writes
    name: log-all-writes
    description: Record every write-class action for post-hoc review without blocking it.
    action_types: ["FILE_WRITE", "DATABASE_WRITE"]
    priority: 1
`)
	default: // strict
		return []byte(`version: "1.0"
agent_constraints:
  agent:
    - file_read
quotas:
  agent:
    max_requests_per_minute: 20
    max_requests_per_hour: 200
    max_concurrent_executions: 2
risk_policies:
  default:
    max_risk_score: 0.3
    require_approval_above: 0.2
    deny_above: 0.5
custom_rules: []
`)
	}
}

// DefaultIdentityDocument returns the JSON identity file kernelctl init
// writes alongside the policy document: a minimal, unsigned capability
// manifest stub the operator fills in (trust level, capabilities) before
// the agent's real sidecar starts publishing it at
// /.well-known/agent-manifest (spec §4.6, §3).
func DefaultIdentityDocument(agentID string) []byte {
	return []byte(fmt.Sprintf(`{
  "agent_id": %q,
  "version": "1.0",
  "trust_level": "standard",
  "reversibility": "partial",
  "undo_window_seconds": 0,
  "sla_latency_ms": 0,
  "retention": "temporary",
  "human_review": false,
  "capabilities": []
}
`, agentID))
}
