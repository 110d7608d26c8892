package policy

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/agentgovernor/kernel/pkg/primitives"
	"github.com/agentgovernor/kernel/pkg/quota"
	"github.com/agentgovernor/kernel/pkg/recorder"
	"github.com/agentgovernor/kernel/pkg/value"
)

// Engine evaluates execution requests against compiled governance
// policies. This is the core of the kernel's security server - the
// equivalent of SELinux's policy decision point, generalized from
// per-tool allow/deny to the full pipeline of spec §4.1: mandatory
// safety screen, allow-list, conditional permissions, cross-cutting
// rules, risk scoring, and quota enforcement.
//
// The engine supports two evaluation backends for the allow-list step:
//   - Legacy: ToolTable map lookup with inline constraint checking
//   - OPA: prepared OPA queries for policy-as-code evaluation
//
// Usage:
//
//	engine := NewEngine(WithMode(Enforcing), WithOPA(true))
//	engine.LoadPolicy("coding-assistant", compiledPolicy)
//	decision, err := engine.EvaluateRequest(ctx, agentCtx, req)
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*CompiledPolicy // agentType -> policy
	cache    *DecisionCache
	audit    AuditSink
	recorder *recorder.Recorder
	quota    *quota.Tracker
	mode     EnforcementMode

	// OPA integration (Phase 2)
	useOPA  bool          // Feature flag for OPA evaluation
	opaEval *OPAEvaluator // OPA evaluator instance (nil if not using OPA)
}

// AuditSink is the interface for audit event consumers
type AuditSink interface {
	Log(event *AuditEvent)
}

// Option configures the Engine
type Option func(*Engine)

// WithMode sets the enforcement mode
func WithMode(mode EnforcementMode) Option {
	return func(e *Engine) {
		e.mode = mode
	}
}

// WithCache sets a custom cache (for testing)
func WithCache(cache *DecisionCache) Option {
	return func(e *Engine) {
		e.cache = cache
	}
}

// WithAuditSink sets the audit event sink
func WithAuditSink(sink AuditSink) Option {
	return func(e *Engine) {
		e.audit = sink
	}
}

// WithRecorder wires the Flight Recorder so every evaluation produces a
// tamper-evident audit entry in addition to (or instead of) the dev-only
// AuditSink (spec §4.1 step 7: "every decision is recorded").
func WithRecorder(r *recorder.Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithQuota wires the rolling-window quota tracker used by step 6.
func WithQuota(q *quota.Tracker) Option {
	return func(e *Engine) {
		e.quota = q
	}
}

// WithOPA enables OPA-based policy evaluation.
// When enabled, policies with OPAEnabled=true and a PreparedQuery
// will be evaluated using OPA instead of the legacy ToolTable engine.
//
// This allows gradual migration from the legacy engine to OPA:
//   - useOPA=false: All policies use legacy ToolTable evaluation
//   - useOPA=true: Policies with OPAEnabled=true use OPA, others use legacy
func WithOPA(enabled bool) Option {
	return func(e *Engine) {
		e.useOPA = enabled
		if enabled {
			e.opaEval = NewOPAEvaluator(e.cache, e.audit, e.mode)
		}
	}
}

// NewEngine creates a new policy engine.
// Default: Permissive mode, 60-second cache TTL
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		policies: make(map[string]*CompiledPolicy),
		cache:    NewDecisionCache(60 * time.Second),
		quota:    quota.New(time.Now),
		mode:     Permissive, // Safe default - log only
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EvaluateRequest runs the full seven-step governance pipeline of spec
// §4.1 against req and returns the final PolicyDecision. It never
// panics: any internal error is converted into a fail-closed DENY with
// CRITICAL severity (invariant I-FAILCLOSED).
func (e *Engine) EvaluateRequest(ctx context.Context, agent AgentContext, req ExecutionRequest) (decision PolicyDecision, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			decision = deny(fmt.Sprintf("internal error: %v", r), "")
			decision.EvaluationMS = float64(time.Since(start).Microseconds()) / 1000
			decision.Severity = primitives.SeverityCritical
			e.emitAudit(agent, req, decision, primitives.SeverityCritical)
		}
	}()

	// Step 1: mandatory safety screen. Cannot be disabled by any policy.
	if ruleName, reason, violated := safetyScreen(req); violated {
		decision = deny(reason, ruleName)
		decision.EvaluationMS = float64(time.Since(start).Microseconds()) / 1000
		decision.Severity = primitives.SeverityCritical
		e.emitAudit(agent, req, decision, primitives.SeverityCritical)
		return e.finalize(decision), nil
	}

	e.mu.RLock()
	policy, exists := e.policies[agent.AgentType]
	e.mu.RUnlock()

	if !exists {
		decision = deny("no policy defined for agent type", "")
		decision.EvaluationMS = float64(time.Since(start).Microseconds()) / 1000
		decision.Severity = primitives.SeverityWarn
		e.emitAudit(agent, req, decision, primitives.SeverityWarn)
		return e.finalize(decision), nil
	}

	root := req.attributeRoot(agent)

	// Step 2+3: allow-list (legacy ToolTable or OPA) and conditional
	// permissions. Conditional permissions take precedence when they
	// target this tool and are always evaluated fresh, since they depend
	// on per-request attributes the coarse cache below deliberately
	// ignores. Otherwise fall back to the coarse, per-(agentType,tool)
	// cached allow-list.
	var allowDecision PolicyDecision
	if cond, handled := evaluateConditionalPermissions(policy.ConditionalPermissions, req.ToolName, root); handled {
		allowDecision = cond
	} else {
		cacheKey := CacheKey(agent.AgentType, req.ToolName)
		if d, reason, ok := e.cache.Get(cacheKey); ok {
			allowDecision = policyDecisionFrom(d, reason)
		} else {
			var d Decision
			var reason string
			if e.shouldUseOPA(policy) {
				d, reason = e.evaluateOPA(ctx, policy, agent, req.ToolName, req.Arguments)
			} else {
				d, reason = e.evaluatePolicy(policy, req.ToolName, req.Arguments)
			}
			e.cache.Set(cacheKey, d, reason)
			allowDecision = policyDecisionFrom(d, reason)
		}
	}

	if !allowDecision.Allowed {
		decision = allowDecision
		decision.EvaluationMS = float64(time.Since(start).Microseconds()) / 1000
		decision.Severity = primitives.SeverityWarn
		e.emitAudit(agent, req, decision, primitives.SeverityWarn)
		return e.finalize(decision), nil
	}

	// Step 4: cross-cutting rules, ordered by Priority then insertion
	// order (spec §4.1: "higher Priority evaluated first; ties broken by
	// declaration order").
	if ruleDecision, matched := evaluateCrossCuttingRules(policy.CrossCuttingRules, req.ActionType, root); matched {
		if !ruleDecision.Effect.Allowed() {
			decision = ruleDecision
			decision.EvaluationMS = float64(time.Since(start).Microseconds()) / 1000
			decision.Severity = primitives.SeverityWarn
			e.emitAudit(agent, req, decision, primitives.SeverityWarn)
			return e.finalize(decision), nil
		}
		allowDecision = ruleDecision
	}

	// Step 5: risk scoring.
	riskScore := 0.0
	if policy.RiskPolicy != nil {
		riskScore = policy.RiskPolicy.score(req)
		allowDecision.RiskScore = riskScore
		if riskScore >= policy.RiskPolicy.DenyAbove {
			decision = deny(fmt.Sprintf("risk score %.2f exceeds deny threshold %.2f", riskScore, policy.RiskPolicy.DenyAbove), policy.RiskPolicy.Name)
			decision.RiskScore = riskScore
			decision.EvaluationMS = float64(time.Since(start).Microseconds()) / 1000
			decision.Severity = primitives.SeverityError
			e.emitAudit(agent, req, decision, primitives.SeverityError)
			return e.finalize(decision), nil
		}
		if riskScore >= policy.RiskPolicy.RequireApprovalAbove {
			allowDecision.RequiredApproval = true
			allowDecision.Effect = primitives.EffectRequireApproval
		}
	}

	// Step 6: quota enforcement.
	if policy.Quota != nil && e.quota != nil {
		limits := quota.Limits{
			MaxRequestsPerMinute: policy.Quota.MaxRequestsPerMinute,
			MaxRequestsPerHour:   policy.Quota.MaxRequestsPerHour,
			MaxConcurrent:        policy.Quota.MaxConcurrent,
		}
		result := e.quota.CheckAndReserve(agent.AgentID, limits)
		if !result.Allowed {
			decision = deny(result.Reason, "quota")
			decision.RateLimited = true
			decision.RiskScore = riskScore
			decision.EvaluationMS = float64(time.Since(start).Microseconds()) / 1000
			decision.Severity = primitives.SeverityWarn
			e.emitAudit(agent, req, decision, primitives.SeverityWarn)
			return e.finalize(decision), nil
		}
	}

	// Step 7: allow, with audit emission.
	decision = allowDecision
	decision.RiskScore = riskScore
	decision.EvaluationMS = float64(time.Since(start).Microseconds()) / 1000
	decision.Severity = primitives.SeverityInfo
	if err := e.emitAudit(agent, req, decision, primitives.SeverityInfo); err != nil {
		// A failed Flight Recorder write is fatal to the action.
		decision = deny("audit unavailable", "")
		decision.EvaluationMS = float64(time.Since(start).Microseconds()) / 1000
		decision.Severity = primitives.SeverityError
	}
	return e.finalize(decision), nil
}

// finalize applies enforcement mode to the already-computed decision,
// then caches nothing beyond what evaluatePolicy already cached (the
// richer pipeline is not memoized - only the coarse allow-list step is).
func (e *Engine) finalize(d PolicyDecision) PolicyDecision {
	if e.mode == Permissive && !d.Allowed {
		d.Allowed = true
		d.Effect = primitives.EffectLog
		d.Reason = "permissive mode: would have denied (" + d.Reason + ")"
	}
	return d
}

// policyDecisionFrom adapts the legacy Decision/reason pair into a
// PolicyDecision.
func policyDecisionFrom(d Decision, reason string) PolicyDecision {
	if d == Allow {
		return allow(reason, "")
	}
	return deny(reason, "")
}

// WithInsertionOrder stamps each rule's tie-break order from its position
// in rules, since insertionOrder is unexported (spec §4.1: "equal-priority
// rule matches are resolved by insertion order"). Callers building
// CrossCuttingRules from an external source - the CRD reconciler, the
// policy YAML loader - pass the result through this before loading it.
func WithInsertionOrder(rules []PolicyRule) []PolicyRule {
	out := make([]PolicyRule, len(rules))
	for i, r := range rules {
		r.insertionOrder = i
		out[i] = r
	}
	return out
}

// evaluateCrossCuttingRules finds the highest-priority rule (ties broken
// by insertion order) whose Predicate matches root and whose AppliesTo
// includes actionType, returning a PolicyDecision derived from its
// Effect. Rules with an empty AppliesTo set apply to every action type.
func evaluateCrossCuttingRules(rules []PolicyRule, actionType primitives.ActionType, root value.Value) (PolicyDecision, bool) {
	applicable := make([]PolicyRule, 0, len(rules))
	for _, r := range rules {
		if len(r.AppliesTo) > 0 {
			if _, ok := r.AppliesTo[actionType]; !ok {
				continue
			}
		}
		applicable = append(applicable, r)
	}
	sort.SliceStable(applicable, func(i, j int) bool {
		if applicable[i].Priority != applicable[j].Priority {
			return applicable[i].Priority > applicable[j].Priority
		}
		return applicable[i].insertionOrder < applicable[j].insertionOrder
	})

	for _, r := range applicable {
		result := r.Predicate.Evaluate(root)
		if result.Matched {
			reason := r.Description
			if reason == "" {
				reason = r.Name
			}
			return PolicyDecision{
				Allowed:            r.Effect.Allowed(),
				Effect:             r.Effect,
				MatchedRule:        r.RuleID,
				Reason:             reason,
				RegexTimeoutSignal: result.RegexTimeout,
			}, true
		}
	}
	return PolicyDecision{}, false
}

// shouldUseOPA determines if OPA should be used for this policy.
func (e *Engine) shouldUseOPA(policy *CompiledPolicy) bool {
	return e.useOPA && policy.OPAEnabled && policy.PreparedQuery != nil
}

// evaluateOPA runs the prepared OPA query for policy evaluation.
// This is the OPA hot path - uses pre-compiled queries for speed.
func (e *Engine) evaluateOPA(ctx context.Context, policy *CompiledPolicy, agent AgentContext, toolName string, args map[string]interface{}) (Decision, string) {
	if e.opaEval != nil {
		decision, reason, err := e.opaEval.Evaluate(ctx, agent, toolName, args)
		if err != nil {
			return Deny, fmt.Sprintf("OPA evaluation error: %v", err)
		}
		return decision, reason
	}
	return Deny, "OPA evaluator not initialized"
}

// evaluatePolicy checks the legacy ToolTable for a specific tool.
func (e *Engine) evaluatePolicy(policy *CompiledPolicy, toolName string, args map[string]interface{}) (Decision, string) {
	if perm, ok := policy.ToolTable[toolName]; ok {
		if perm.Action == Deny {
			return Deny, "tool explicitly denied by policy"
		}
		if perm.Constraints != nil {
			if !e.checkConstraints(perm.Constraints, args) {
				return Deny, "constraint violation"
			}
		}
		return Allow, "tool explicitly allowed by policy"
	}

	if policy.DefaultAction == Allow {
		return Allow, "allowed by default policy"
	}
	return Deny, "denied by default policy"
}

// checkConstraints evaluates constraint rules against the request
// arguments.
func (e *Engine) checkConstraints(constraints *ToolConstraints, args map[string]interface{}) bool {
	if args == nil {
		return true
	}

	if len(constraints.PathPatterns) > 0 {
		if path, ok := args["path"].(string); ok {
			matched := false
			for _, pattern := range constraints.PathPatterns {
				if match, _ := filepath.Match(pattern, path); match {
					matched = true
					break
				}
				if matchPrefix(pattern, path) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		}
	}

	if len(constraints.AllowedDomains) > 0 {
		if domain, ok := args["domain"].(string); ok {
			allowed := false
			for _, d := range constraints.AllowedDomains {
				if matchDomain(d, domain) {
					allowed = true
					break
				}
			}
			if !allowed {
				return false
			}
		}
	}

	if len(constraints.DeniedDomains) > 0 {
		if domain, ok := args["domain"].(string); ok {
			for _, d := range constraints.DeniedDomains {
				if matchDomain(d, domain) {
					return false
				}
			}
		}
	}

	if constraints.MaxSizeBytes > 0 {
		if size, ok := args["size"].(int64); ok {
			if size > constraints.MaxSizeBytes {
				return false
			}
		}
	}

	return true
}

// emitAudit sends an audit event to the dev-only AuditSink (if wired)
// and appends a tamper-evident entry to the Flight Recorder (if wired). It
// returns the Flight Recorder's error, if its write failed.
func (e *Engine) emitAudit(agent AgentContext, req ExecutionRequest, decision PolicyDecision, severity primitives.Severity) error {
	if e.audit != nil {
		e.audit.Log(&AuditEvent{
			Timestamp: time.Now(),
			Agent:     agent,
			Tool:      req.ToolName,
			Decision:  boolToDecision(decision.Allowed),
			Reason:    decision.Reason,
			RequestID: req.ID,
			Cached:    false,
			Effect:    decision.Effect,
			RateLimited: decision.RateLimited,
		})
	}

	if e.recorder != nil {
		signals := []string{}
		if decision.RegexTimeoutSignal {
			signals = append(signals, "regex_timeout")
		}
		if _, err := e.recorder.Record(recorder.Event{
			AgentID:    agent.AgentID,
			ActionType: req.ActionType,
			ToolName:   req.ToolName,
			Args:       req.Arguments,
			Decision:   boolToDecisionString(decision.Allowed),
			Signals:    signals,
			Severity:   severity,
			Reason:     decision.Reason,
		}); err != nil {
			return err
		}
	}
	return nil
}

func boolToDecision(allowed bool) Decision {
	if allowed {
		return Allow
	}
	return Deny
}

func boolToDecisionString(allowed bool) string {
	if allowed {
		return "ALLOW"
	}
	return "DENY"
}

// LoadPolicy adds or updates a policy for an agent type.
// This invalidates cached decisions for that agent type.
func (e *Engine) LoadPolicy(agentType string, policy *CompiledPolicy) {
	e.mu.Lock()
	e.policies[agentType] = policy
	e.mu.Unlock()

	e.cache.InvalidatePrefix(agentType + ":")
}

// RemovePolicy removes a policy for an agent type.
func (e *Engine) RemovePolicy(agentType string) {
	e.mu.Lock()
	delete(e.policies, agentType)
	e.mu.Unlock()

	e.cache.InvalidatePrefix(agentType + ":")
}

// GetPolicy returns the policy for an agent type (for inspection).
func (e *Engine) GetPolicy(agentType string) (*CompiledPolicy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	policy, ok := e.policies[agentType]
	return policy, ok
}

// ListPolicies returns all loaded agent types.
func (e *Engine) ListPolicies() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	types := make([]string, 0, len(e.policies))
	for t := range e.policies {
		types = append(types, t)
	}
	return types
}

// Mode returns the current enforcement mode.
func (e *Engine) Mode() EnforcementMode {
	return e.mode
}

// SetMode changes the enforcement mode.
func (e *Engine) SetMode(mode EnforcementMode) {
	e.mode = mode
}

// CacheStats returns cache statistics.
func (e *Engine) CacheStats() (hits, misses uint64, hitRate float64) {
	return e.cache.Stats()
}

// IsOPAEnabled returns whether OPA evaluation is enabled.
func (e *Engine) IsOPAEnabled() bool {
	return e.useOPA
}

// OPAEvaluator returns the OPA evaluator instance (for testing/inspection).
func (e *Engine) OPAEvaluator() *OPAEvaluator {
	return e.opaEval
}

// Cache returns the decision cache (for testing/inspection).
func (e *Engine) Cache() *DecisionCache {
	return e.cache
}

// --- Helper functions ---

// matchPrefix checks if path starts with pattern (for directory patterns like /workspace/**)
func matchPrefix(pattern, path string) bool {
	if len(pattern) > 2 && pattern[len(pattern)-2:] == "**" {
		prefix := pattern[:len(pattern)-2]
		return len(path) >= len(prefix) && path[:len(prefix)] == prefix
	}
	return false
}

// matchDomain checks if domain matches pattern (supports wildcards)
func matchDomain(pattern, domain string) bool {
	if pattern == "*" {
		return true
	}
	if len(pattern) > 1 && pattern[0] == '*' && pattern[1] == '.' {
		suffix := pattern[1:] // .example.com
		return len(domain) > len(suffix) && domain[len(domain)-len(suffix):] == suffix
	}
	return pattern == domain
}

// --- Policy Compilation ---

// CompilePolicy converts raw policy spec to optimized CompiledPolicy.
// This creates a legacy-mode policy (OPAEnabled=false).
// Use CompilePolicyWithOPA for OPA-enabled policies.
func CompilePolicy(name string, agentTypes []string, defaultAction Decision, permissions []ToolPermission, mode EnforcementMode, mtsLabel string) *CompiledPolicy {
	toolTable := make(map[string]*ToolPermission, len(permissions))
	for i := range permissions {
		toolTable[permissions[i].Tool] = &permissions[i]
	}

	return &CompiledPolicy{
		Name:          name,
		AgentTypes:    agentTypes,
		DefaultAction: defaultAction,
		ToolTable:     toolTable,
		Mode:          mode,
		MTSLabel:      mtsLabel,
		CompiledAt:    time.Now(),
		OPAEnabled:    false,
		RegoModule:    "",
		PreparedQuery: nil,
	}
}

// CompilePolicyWithOPA creates an OPA-enabled CompiledPolicy.
// The regoModule is compiled using PrepareRegoQuery and cached
// for fast evaluation on subsequent requests.
func CompilePolicyWithOPA(name string, agentTypes []string, defaultAction Decision, permissions []ToolPermission, mode EnforcementMode, mtsLabel string, regoModule string) (*CompiledPolicy, error) {
	policy := CompilePolicy(name, agentTypes, defaultAction, permissions, mode, mtsLabel)

	policy.RegoModule = regoModule
	policy.OPAEnabled = true

	prepared, err := PrepareRegoQuery(regoModule)
	if err != nil {
		return nil, fmt.Errorf("failed to compile Rego module: %w", err)
	}
	policy.PreparedQuery = &prepared

	return policy, nil
}
