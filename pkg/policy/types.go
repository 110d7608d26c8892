// Package policy implements the governance kernel's Policy Engine (K1):
// action-level allow/deny with rules, ABAC conditions, patterns, quotas
// and risk scoring, following the SELinux Mandatory Access Control pattern
// applied to AI agent tool invocations.
package policy

import (
	"time"

	"github.com/open-policy-agent/opa/rego"

	"github.com/agentgovernor/kernel/pkg/primitives"
)

// Decision is the coarse allow/deny outcome used by the legacy ToolTable
// fast path. The full five-way primitives.Effect is used everywhere a
// PolicyRule or RiskPolicy can produce WARN/REQUIRE_APPROVAL/LOG.
type Decision int

const (
	Deny Decision = iota
	Allow
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "ALLOW"
	case Deny:
		return "DENY"
	default:
		return "UNKNOWN"
	}
}

// Effect converts the coarse Decision into the five-way primitives.Effect.
func (d Decision) Effect() primitives.Effect {
	if d == Allow {
		return primitives.EffectAllow
	}
	return primitives.EffectDeny
}

// EnforcementMode controls how policy decisions are applied.
type EnforcementMode int

const (
	Permissive EnforcementMode = iota
	Enforcing
)

func (m EnforcementMode) String() string {
	switch m {
	case Permissive:
		return "permissive"
	case Enforcing:
		return "enforcing"
	default:
		return "unknown"
	}
}

// ToolPermission defines access rules for a specific tool.
type ToolPermission struct {
	Tool        string
	Action      Decision
	Constraints *ToolConstraints
}

// ToolConstraints define conditional access rules for a ToolPermission.
type ToolConstraints struct {
	PathPatterns   []string
	AllowedDomains []string
	DeniedDomains  []string
	AllowedPorts   []int
	MaxSizeBytes   int64
	Timeout        time.Duration
}

// Condition is a single predicate over a dot-notation attribute_path, as
// defined in spec §3: {attribute_path, operator, value}.
type Condition struct {
	AttributePath string
	Operator      string // eq, ne, gt, lt, gte, lte, in, not_in, contains,
	// starts_with, not_starts_with, not_contains, matches
	Value interface{}
}

// ConditionalPermission is a targeted override inside a role's allow-list:
// {tool_name, conditions, require_all}.
type ConditionalPermission struct {
	ToolName   string
	Conditions []Condition
	RequireAll bool
}

// ResourceQuota bounds an agent role's request rate and concurrency. All
// fields are optional; a zero value means unlimited for that dimension.
type ResourceQuota struct {
	MaxRequestsPerMinute int
	MaxRequestsPerHour   int
	MaxExecSeconds       int
	MaxConcurrent        int
	AllowedActionTypes   []primitives.ActionType
}

// RiskPolicy configures K1's risk-scoring step (§4.1 step 5).
type RiskPolicy struct {
	Name                string
	MaxRiskScore        float64
	RequireApprovalAbove float64
	DenyAbove           float64
	HighRiskPatterns    []string
	AllowedDomains      []string
	BlockedDomains      []string
}

// PolicyRule is a cross-cutting rule evaluated in descending priority.
type PolicyRule struct {
	RuleID      string
	Name        string
	Description string
	AppliesTo   map[primitives.ActionType]struct{}
	Predicate   Condition
	Effect      primitives.Effect
	Priority    int
	// insertionOrder breaks priority ties deterministically (spec §4.1:
	// "equal-priority rule matches are resolved by insertion order").
	insertionOrder int
}

// CompiledPolicy is a pre-processed policy for fast evaluation. It supports
// both the legacy ToolTable lookup and the OPA PreparedQuery path, plus the
// full K1 configuration surface (conditional permissions, quotas, risk
// policies, cross-cutting rules) added for the complete evaluation pipeline.
type CompiledPolicy struct {
	Name          string
	AgentTypes    []string
	DefaultAction Decision
	ToolTable     map[string]*ToolPermission
	Mode          EnforcementMode
	MTSLabel      string
	CompiledAt    time.Time

	ConditionalPermissions []ConditionalPermission
	Quota                  *ResourceQuota
	RiskPolicy             *RiskPolicy
	CrossCuttingRules      []PolicyRule

	RegoModule    string
	PreparedQuery *rego.PreparedEvalQuery
	OPAEnabled    bool
}

// AgentContext represents the identity of an agent making a request.
type AgentContext struct {
	AgentID   string
	AgentType string
	SandboxID string
	TenantID  string
	SessionID string
	MTSLabel  string
	PolicyRef string
	Role      string
}

// AuditEvent records a policy decision for compliance. Retained as the
// lightweight in-process event handed to policy.AuditSink implementations;
// the durable, hash-chained record is recorder.AuditEntry (K3).
type AuditEvent struct {
	Timestamp time.Time
	Agent     AgentContext
	Tool      string
	Decision  Decision
	Effect    primitives.Effect
	Reason    string
	RequestID string
	Cached    bool
	RateLimited bool
}
