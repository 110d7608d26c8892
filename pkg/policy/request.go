package policy

import (
	"time"

	"github.com/google/uuid"

	"github.com/agentgovernor/kernel/pkg/primitives"
	"github.com/agentgovernor/kernel/pkg/value"
)

// ExecutionRequest is the immutable unit of work submitted to the kernel
// (spec §3). Once constructed it is never mutated.
type ExecutionRequest struct {
	ID         string
	AgentID    string
	ActionType primitives.ActionType
	ToolName   string
	Arguments  map[string]interface{}
	Context    map[string]interface{}
	CreatedAt  time.Time
}

// NewExecutionRequest stamps an id and creation time onto a request.
func NewExecutionRequest(agentID string, action primitives.ActionType, tool string, args, ctx map[string]interface{}) ExecutionRequest {
	return ExecutionRequest{
		ID:         uuid.NewString(),
		AgentID:    agentID,
		ActionType: action,
		ToolName:   tool,
		Arguments:  args,
		Context:    ctx,
		CreatedAt:  time.Now().UTC(),
	}
}

// attributeRoot builds the {args.*, context.*, agent.*} Value tree that
// Condition evaluation resolves attribute_path against.
func (r ExecutionRequest) attributeRoot(agent AgentContext) value.Value {
	return value.Map(map[string]value.Value{
		"args":    value.FromAny(map[string]interface{}(r.Arguments)),
		"context": value.FromAny(map[string]interface{}(r.Context)),
		"agent": value.FromAny(map[string]interface{}{
			"agent_id":   agent.AgentID,
			"agent_type": agent.AgentType,
			"tenant_id":  agent.TenantID,
			"role":       agent.Role,
			"session_id": agent.SessionID,
		}),
	})
}

// PolicyDecision is the full result of a K1 evaluation (spec §3).
type PolicyDecision struct {
	Allowed            bool
	Effect             primitives.Effect
	MatchedRule        string
	Reason             string
	RateLimited        bool
	RequiredApproval   bool
	RiskScore          float64
	EvaluationMS       float64
	RegexTimeoutSignal bool

	// Severity is the audit severity this decision was emitted at (spec
	// §4.1 step 7). Kernel.Submit gates its SIGPOLICY escalation on this -
	// only a CRITICAL (mandatory safety screen) denial signals the agent's
	// session, per §4.2's "a mandatory safety violation terminates the
	// offending agent's session"; a plain allow-list miss or a quota denial
	// does not.
	Severity primitives.Severity
}

// deny builds a DENY PolicyDecision with a reason, the common case threaded
// through every fail-closed branch of EvaluateRequest.
func deny(reason, matchedRule string) PolicyDecision {
	return PolicyDecision{
		Allowed:     false,
		Effect:      primitives.EffectDeny,
		MatchedRule: matchedRule,
		Reason:      reason,
	}
}

func allow(reason, matchedRule string) PolicyDecision {
	return PolicyDecision{
		Allowed:     true,
		Effect:      primitives.EffectAllow,
		MatchedRule: matchedRule,
		Reason:      reason,
	}
}
