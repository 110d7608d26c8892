// Package kernel wires the governance subsystems (K1-K7) into the single
// orchestration surface agents actually talk to, and exposes that surface
// over gRPC. There is no process-wide mutable state outside a Kernel value
// (spec Design Note §9): every dependency is passed in at construction, so
// two Kernels in one process never share state.
package kernel

import (
	"context"

	"github.com/agentgovernor/kernel/pkg/breaker"
	"github.com/agentgovernor/kernel/pkg/policy"
	"github.com/agentgovernor/kernel/pkg/primitives"
	"github.com/agentgovernor/kernel/pkg/sandbox"
	"github.com/agentgovernor/kernel/pkg/signal"
	"github.com/agentgovernor/kernel/pkg/trust"
)

// Kernel is the governance core: every tool call an agent attempts is
// submitted here first. It owns the Policy Engine (K1) and the Signal
// Dispatcher (K2) directly; the Flight Recorder (K3) and quota tracker are
// wired into the Policy Engine itself via policy.WithRecorder/WithQuota,
// and the Circuit Breaker (K7) guards this Kernel's own outbound
// dependencies (e.g. a remote OPA bundle fetch) rather than the request
// path, which is why it is kept here as an optional, named breaker set
// rather than threaded through Submit.
type Kernel struct {
	engine   *policy.Engine
	signals  *signal.Dispatcher
	breakers map[string]*breaker.Breaker
	sidecar  *trust.Sidecar
	ctl      *controllerState
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithEngine wires an already-configured Policy Engine (with its own
// recorder, quota tracker and audit sink options already applied).
func WithEngine(e *policy.Engine) Option {
	return func(k *Kernel) { k.engine = e }
}

// WithSignalDispatcher wires the Signal Subsystem used to deliver
// governance-triggered signals (e.g. SIGPOLICY on a CRITICAL safety
// violation) back to the originating agent.
func WithSignalDispatcher(d *signal.Dispatcher) Option {
	return func(k *Kernel) { k.signals = d }
}

// WithBreaker registers a named circuit breaker for one of the Kernel's own
// outbound dependencies (spec §4.7).
func WithBreaker(name string, b *breaker.Breaker) Option {
	return func(k *Kernel) {
		if k.breakers == nil {
			k.breakers = make(map[string]*breaker.Breaker)
		}
		k.breakers[name] = b
	}
}

// WithTrustSidecar wires the Inter-Agent Trust Sidecar (K6) an ActionAPICall
// request is routed through for cross-agent calls (spec §4.6). The sidecar
// runs its own HTTP reverse proxy independently of Submit; Submit only
// consults it for the pre-flight hard-block/warning screen before an
// outbound call is allowed to proceed to the Circuit Breaker.
func WithTrustSidecar(s *trust.Sidecar) Option {
	return func(k *Kernel) { k.sidecar = s }
}

// New constructs a Kernel. A Policy Engine is mandatory; callers typically
// build one with policy.NewEngine(policy.WithRecorder(rec), policy.WithQuota(q), ...)
// and pass it via WithEngine.
func New(opts ...Option) *Kernel {
	k := &Kernel{engine: policy.NewEngine()}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Breaker returns the named breaker, if one was registered with WithBreaker.
func (k *Kernel) Breaker(name string) (*breaker.Breaker, bool) {
	b, ok := k.breakers[name]
	return b, ok
}

// TrustSidecar returns the Inter-Agent Trust Sidecar wired with
// WithTrustSidecar, or nil if none was configured. Callers that serve
// ActionAPICall traffic (the CLI's embedder, a gRPC gateway) route that
// traffic through the sidecar's own reverse proxy, which already does its
// own breaker-wrapped forwarding (trust.WithBreaker); GuardOutbound below
// covers the remaining case of an in-process outbound dependency the
// Kernel owns directly (e.g. a policy bundle fetch) rather than agent-to-
// agent traffic.
func (k *Kernel) TrustSidecar() *trust.Sidecar {
	return k.sidecar
}

// GuardOutbound wraps an ActionAPICall's downstream call with the named
// Circuit Breaker, if one was registered for it via WithBreaker. With no
// matching breaker, fn runs unguarded - not every outbound dependency needs
// one, and an unregistered name is not an error.
func (k *Kernel) GuardOutbound(ctx context.Context, breakerName string, fn func(context.Context) error) error {
	b, ok := k.breakers[breakerName]
	if !ok {
		return fn(ctx)
	}
	return b.Wrap(ctx, fn)
}

// Submit is the single entry point every transport (gRPC, the CLI, a direct
// in-process embedder) funnels through: build an AgentContext and
// ExecutionRequest from the wire-level metadata, then run the full K1
// pipeline. On a CRITICAL-severity deny, the agent's session is also sent a
// SIGPOLICY signal (spec §4.1/§4.2: "a mandatory safety violation
// terminates the offending agent's session"), mirroring the real-kernel
// relationship between a fatal policy decision and process termination.
func (k *Kernel) Submit(ctx context.Context, meta RequestMetadata, rawToolName string, actionType primitives.ActionType, args map[string]interface{}) (policy.PolicyDecision, error) {
	agent := policy.AgentContext{
		AgentID:   meta.AgentID,
		AgentType: meta.AgentType,
		SandboxID: meta.SandboxID,
		TenantID:  meta.TenantID,
		SessionID: meta.SessionID,
		MTSLabel:  meta.MTSLabel,
		PolicyRef: meta.PolicyRef,
		Role:      meta.Role,
	}

	toolName := extractToolName(rawToolName)
	req := policy.NewExecutionRequest(agent.AgentID, actionType, toolName, args, nil)

	decision, err := k.engine.EvaluateRequest(ctx, agent, req)
	if err != nil {
		return decision, err
	}

	if decision.Allowed && actionType == primitives.ActionCodeExecution {
		decision, err = k.runSandbox(ctx, agent, decision, args)
		if err != nil {
			return decision, err
		}
	}

	// Only a CRITICAL-severity denial (the mandatory safety screen) signals
	// the agent's session - an allow-list miss or a quota/rate-limit denial
	// is a plain DENY with no terminal signal (spec §4.2/§7). SIGPOLICY is
	// itself unmaskable and escalates to SIGKILL inside the dispatcher, so
	// Submit never sends SIGKILL directly.
	if !decision.Allowed && decision.Severity >= primitives.SeverityCritical && k.signals != nil && agent.SessionID != "" {
		k.signals.Send(agent.SessionID, signal.Signal{Kind: signal.SIGPOLICY, Source: "policy", Payload: decision.Reason})
	}

	return decision, nil
}

// runSandbox runs the K4 static sandbox phase over a CODE_EXECUTION
// request's source once the Policy Engine has already allowed it, folding a
// sandbox-side denial (or shadow-mode violation) back into the decision
// that is returned to the caller. A request with no "source" argument
// passes through untouched: not every CODE_EXECUTION call carries source an
// agent wrote itself (e.g. invoking a pre-approved script by name).
func (k *Kernel) runSandbox(ctx context.Context, agent policy.AgentContext, decision policy.PolicyDecision, args map[string]interface{}) (policy.PolicyDecision, error) {
	source, ok := args["source"].(string)
	if !ok || source == "" {
		return decision, nil
	}

	filename, _ := args["filename"].(string)
	if filename == "" {
		filename = "agent_submitted.go"
	}

	sbReq := sandbox.Request{
		Filename: filename,
		Source:   source,
	}
	if shadow, ok := args["shadow"].(bool); ok {
		sbReq.Shadow = shadow
	}

	result, err := sandbox.Run(ctx, sbReq)
	if err != nil {
		return decision, err
	}

	if result.Shadowed {
		if len(result.WouldSignal) > 0 && k.signals != nil && agent.SessionID != "" {
			k.signals.Send(agent.SessionID, signal.Signal{Kind: signal.SIGPOLICY, Source: "sandbox", Payload: result.WouldSignal[0]})
		}
		return decision, nil
	}

	if result.Denied {
		reason := "sandbox: static scan rejected code"
		if len(result.Violations) > 0 {
			reason = "sandbox: blocked symbol/import " + result.Violations[0].Symbol
		}
		return policy.PolicyDecision{
			Allowed:     false,
			Effect:      primitives.EffectDeny,
			MatchedRule: "sandbox.static_scan",
			Reason:      reason,
			Severity:    primitives.SeverityCritical,
		}, nil
	}

	return decision, nil
}

// LoadPolicy adds or updates a compiled policy for an agent type.
func (k *Kernel) LoadPolicy(agentType string, compiled *policy.CompiledPolicy) {
	k.engine.LoadPolicy(agentType, compiled)
}

// RemovePolicy removes the policy for an agent type.
func (k *Kernel) RemovePolicy(agentType string) {
	k.engine.RemovePolicy(agentType)
}

// Mode returns the engine's current enforcement mode.
func (k *Kernel) Mode() policy.EnforcementMode {
	return k.engine.Mode()
}

// SetMode changes the enforcement mode at runtime.
func (k *Kernel) SetMode(mode policy.EnforcementMode) {
	k.engine.SetMode(mode)
}

// Stats returns the Policy Engine's cache statistics and loaded policy
// count, surfaced through GRPCServer.PolicyStats for health/metrics use.
func (k *Kernel) Stats() (cacheHits, cacheMisses uint64, hitRate float64, loadedPolicies int) {
	cacheHits, cacheMisses, hitRate = k.engine.CacheStats()
	loadedPolicies = len(k.engine.ListPolicies())
	return
}

// Engine returns the underlying Policy Engine, for callers (the CLI,
// tests) that need direct inspection access.
func (k *Kernel) Engine() *policy.Engine {
	return k.engine
}
