// Package controller implements Kubernetes controllers for the agentic
// governance kernel. The GovernancePolicyReconciler watches
// GovernancePolicy CRDs and syncs them to the embedded Policy Engine,
// enabling declarative policy management.
//
// Architecture:
//
//	Kubernetes API ──watch──> GovernancePolicyReconciler ──sync──> Policy Engine
//	     │                           │                                  │
//	GovernancePolicy             Reconcile()                      LoadPolicy()
//	    CRD                   (compile to Rego)                  (PreparedQuery)
//
// The controller runs embedded in the kernel binary, not as a separate pod.
// This ensures policies are always in sync with the enforcement point.
package controller

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	agentsv1alpha1 "github.com/agentgovernor/kernel/api/v1alpha1"
	"github.com/agentgovernor/kernel/pkg/policy"
	regotempl "github.com/agentgovernor/kernel/pkg/policy/rego"
	"github.com/agentgovernor/kernel/pkg/primitives"
)

// GovernancePolicyReconciler reconciles GovernancePolicy objects.
// It watches for create/update/delete events and syncs policies
// to the embedded Policy Engine.
type GovernancePolicyReconciler struct {
	client.Client
	Scheme *runtime.Scheme

	// PolicyEngine is the embedded policy engine to sync policies to.
	// This is the same engine the kernel's gRPC surface uses for
	// enforcement.
	PolicyEngine *policy.Engine

	// UseOPA enables OPA-based policy compilation.
	// When true, policies are compiled to Rego and use PreparedQuery.
	// When false, policies use legacy ToolTable evaluation.
	UseOPA bool
}

// Reconcile handles GovernancePolicy create/update/delete events.
// This is called by controller-runtime when CRDs change.
//
// The reconciliation flow:
//  1. Fetch the GovernancePolicy CRD
//  2. If deleted: remove policy from engine
//  3. Convert GovernancePolicySpec to Rego (if OPA enabled)
//  4. Compile to CompiledPolicy, carrying quota/risk/cross-cutting rules
//  5. Load into engine for each agent type
//  6. Update CRD status
func (r *GovernancePolicyReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	log := log.FromContext(ctx)

	var gp agentsv1alpha1.GovernancePolicy
	if err := r.Get(ctx, req.NamespacedName, &gp); err != nil {
		if client.IgnoreNotFound(err) != nil {
			log.Error(err, "unable to fetch GovernancePolicy")
			return ctrl.Result{}, err
		}
		r.handleDeletion(ctx, req.Name)
		return ctrl.Result{}, nil
	}

	log.Info("reconciling GovernancePolicy", "name", gp.Name, "agentTypes", gp.Spec.AgentTypes)

	compiled, regoModule, err := r.compilePolicy(&gp)
	if err != nil {
		log.Error(err, "failed to compile policy")
		r.updateStatus(ctx, &gp, "", err)
		return ctrl.Result{RequeueAfter: time.Minute}, err
	}

	for _, agentType := range gp.Spec.AgentTypes {
		r.PolicyEngine.LoadPolicy(agentType, compiled)
		log.Info("loaded policy", "agentType", agentType, "policy", gp.Name, "opaEnabled", compiled.OPAEnabled)
	}

	hash := computeHash(regoModule)
	if err := r.updateStatus(ctx, &gp, hash, nil); err != nil {
		log.Error(err, "failed to update status")
		return ctrl.Result{}, err
	}

	return ctrl.Result{}, nil
}

// handleDeletion removes a policy from the engine when the CRD is deleted.
// We don't know which agent types were affected, so we need to check
// all loaded policies and remove the ones matching this policy name.
func (r *GovernancePolicyReconciler) handleDeletion(ctx context.Context, policyName string) {
	log := log.FromContext(ctx)

	for _, agentType := range r.PolicyEngine.ListPolicies() {
		if p, ok := r.PolicyEngine.GetPolicy(agentType); ok {
			if p.Name == policyName {
				r.PolicyEngine.RemovePolicy(agentType)
				log.Info("removed policy", "agentType", agentType, "policy", policyName)
			}
		}
	}
}

// compilePolicy converts a GovernancePolicy CRD to a CompiledPolicy,
// carrying over conditional permissions, quota, risk policy and
// cross-cutting rules in addition to the legacy ToolTable/Rego surface.
func (r *GovernancePolicyReconciler) compilePolicy(gp *agentsv1alpha1.GovernancePolicy) (*policy.CompiledPolicy, string, error) {
	defaultAction := policy.Deny
	if gp.Spec.DefaultAction == agentsv1alpha1.DecisionAllow {
		defaultAction = policy.Allow
	}

	mode := policy.Enforcing
	if gp.Spec.Mode == agentsv1alpha1.EnforcementModePermissive {
		mode = policy.Permissive
	}

	permissions := make([]policy.ToolPermission, 0, len(gp.Spec.ToolPermissions))
	for _, tp := range gp.Spec.ToolPermissions {
		action := policy.Deny
		if tp.Action == agentsv1alpha1.DecisionAllow {
			action = policy.Allow
		}

		perm := policy.ToolPermission{Tool: tp.Tool, Action: action}
		if tp.Constraints != nil {
			perm.Constraints = convertConstraints(tp.Constraints)
		}
		permissions = append(permissions, perm)
	}

	mtsLabel := ""
	mtsEnforceMode := "strict"
	if gp.Spec.TenantIsolation != nil {
		mtsLabel = gp.Spec.TenantIsolation.MTSLabel
		if gp.Spec.TenantIsolation.EnforceMode != "" {
			mtsEnforceMode = string(gp.Spec.TenantIsolation.EnforceMode)
		}
	}

	var compiled *policy.CompiledPolicy
	var regoModule string
	var err error

	if r.UseOPA {
		spec := &regotempl.PolicySpec{
			Name:           gp.Name,
			AgentTypes:     gp.Spec.AgentTypes,
			DefaultAction:  string(gp.Spec.DefaultAction),
			Mode:           string(gp.Spec.Mode),
			MTSLabel:       mtsLabel,
			MTSEnforceMode: mtsEnforceMode,
		}

		for _, tp := range gp.Spec.ToolPermissions {
			tpSpec := regotempl.ToolPermissionSpec{Tool: tp.Tool, Action: string(tp.Action)}
			if tp.Constraints != nil {
				tpSpec.Constraints = &regotempl.ConstraintSpec{
					PathPatterns:   tp.Constraints.PathPatterns,
					AllowedDomains: tp.Constraints.AllowedDomains,
					DeniedDomains:  tp.Constraints.DeniedDomains,
					AllowedPorts:   tp.Constraints.AllowedPorts,
				}
				if tp.Constraints.MaxSizeBytes != nil {
					tpSpec.Constraints.MaxSizeBytes = *tp.Constraints.MaxSizeBytes
				}
			}
			spec.ToolPermissions = append(spec.ToolPermissions, tpSpec)
		}

		regoModule, err = regotempl.CompileToRego(spec)
		if err != nil {
			return nil, "", fmt.Errorf("failed to generate Rego: %w", err)
		}

		compiled, err = policy.CompilePolicyWithOPA(gp.Name, gp.Spec.AgentTypes, defaultAction, permissions, mode, mtsLabel, regoModule)
		if err != nil {
			return nil, regoModule, fmt.Errorf("failed to compile OPA policy: %w", err)
		}
	} else {
		compiled = policy.CompilePolicy(gp.Name, gp.Spec.AgentTypes, defaultAction, permissions, mode, mtsLabel)
	}

	compiled.ConditionalPermissions = convertConditionalPermissions(gp.Spec.ConditionalPermissions)
	compiled.Quota = convertQuota(gp.Spec.Quota)
	compiled.RiskPolicy = convertRiskPolicy(gp.Spec.RiskPolicy)
	compiled.CrossCuttingRules = convertCrossCuttingRules(gp.Spec.CrossCuttingRules)

	return compiled, regoModule, nil
}

// convertConstraints converts CRD constraints to internal constraints.
func convertConstraints(c *agentsv1alpha1.ToolConstraints) *policy.ToolConstraints {
	if c == nil {
		return nil
	}

	tc := &policy.ToolConstraints{
		PathPatterns:   c.PathPatterns,
		AllowedDomains: c.AllowedDomains,
		DeniedDomains:  c.DeniedDomains,
	}

	if len(c.AllowedPorts) > 0 {
		tc.AllowedPorts = make([]int, len(c.AllowedPorts))
		for i, p := range c.AllowedPorts {
			tc.AllowedPorts[i] = int(p)
		}
	}

	if c.MaxSizeBytes != nil {
		tc.MaxSizeBytes = *c.MaxSizeBytes
	}

	if c.Timeout != "" {
		if d, err := time.ParseDuration(c.Timeout); err == nil {
			tc.Timeout = d
		}
	}

	return tc
}

// convertCondition parses a CRD Condition's JSON-encoded Value field back
// into a policy.Condition. A malformed Value degrades to the raw string,
// matching how YAML-sourced policies (pkg/config) handle untyped scalars.
func convertCondition(c agentsv1alpha1.Condition) policy.Condition {
	cond := policy.Condition{AttributePath: c.AttributePath, Operator: c.Operator}
	if c.Value == "" {
		return cond
	}
	var v interface{}
	if err := json.Unmarshal([]byte(c.Value), &v); err != nil {
		cond.Value = c.Value
		return cond
	}
	cond.Value = v
	return cond
}

func convertConditionalPermissions(crdPerms []agentsv1alpha1.ConditionalPermission) []policy.ConditionalPermission {
	if len(crdPerms) == 0 {
		return nil
	}
	out := make([]policy.ConditionalPermission, 0, len(crdPerms))
	for _, cp := range crdPerms {
		conds := make([]policy.Condition, 0, len(cp.Conditions))
		for _, c := range cp.Conditions {
			conds = append(conds, convertCondition(c))
		}
		out = append(out, policy.ConditionalPermission{
			ToolName:   cp.ToolName,
			Conditions: conds,
			RequireAll: cp.RequireAll,
		})
	}
	return out
}

func convertQuota(q *agentsv1alpha1.ResourceQuota) *policy.ResourceQuota {
	if q == nil {
		return nil
	}
	out := &policy.ResourceQuota{
		MaxRequestsPerMinute: q.MaxRequestsPerMinute,
		MaxRequestsPerHour:   q.MaxRequestsPerHour,
		MaxExecSeconds:       q.MaxExecSeconds,
		MaxConcurrent:        q.MaxConcurrent,
	}
	for _, a := range q.AllowedActionTypes {
		out.AllowedActionTypes = append(out.AllowedActionTypes, primitives.ParseActionType(a))
	}
	return out
}

func convertRiskPolicy(rp *agentsv1alpha1.RiskPolicy) *policy.RiskPolicy {
	if rp == nil {
		return nil
	}
	return &policy.RiskPolicy{
		Name:                 rp.Name,
		MaxRiskScore:         rp.MaxRiskScore,
		RequireApprovalAbove: rp.RequireApprovalAbove,
		DenyAbove:            rp.DenyAbove,
		HighRiskPatterns:     rp.HighRiskPatterns,
		AllowedDomains:       rp.AllowedDomains,
		BlockedDomains:       rp.BlockedDomains,
	}
}

func convertEffect(e agentsv1alpha1.PolicyRuleEffect) primitives.Effect {
	switch e {
	case agentsv1alpha1.PolicyEffectDeny:
		return primitives.EffectDeny
	case agentsv1alpha1.PolicyEffectWarn:
		return primitives.EffectWarn
	case agentsv1alpha1.PolicyEffectRequireApproval:
		return primitives.EffectRequireApproval
	case agentsv1alpha1.PolicyEffectLog:
		return primitives.EffectLog
	default:
		return primitives.EffectAllow
	}
}

func convertCrossCuttingRules(rules []agentsv1alpha1.PolicyRule) []policy.PolicyRule {
	if len(rules) == 0 {
		return nil
	}
	out := make([]policy.PolicyRule, 0, len(rules))
	for i, r := range rules {
		appliesTo := make(map[primitives.ActionType]struct{}, len(r.AppliesTo))
		for _, a := range r.AppliesTo {
			appliesTo[primitives.ParseActionType(a)] = struct{}{}
		}
		out = append(out, policy.PolicyRule{
			RuleID:      r.RuleID,
			Name:        r.Name,
			Description: r.Description,
			AppliesTo:   appliesTo,
			Predicate:   convertCondition(r.Predicate),
			Effect:      convertEffect(r.Effect),
			Priority:    r.Priority,
		})
	}
	return policy.WithInsertionOrder(out)
}

// updateStatus updates the GovernancePolicy status subresource.
func (r *GovernancePolicyReconciler) updateStatus(ctx context.Context, gp *agentsv1alpha1.GovernancePolicy, hash string, reconcileErr error) error {
	now := metav1.Now()
	gp.Status.LastUpdated = &now
	gp.Status.ObservedGeneration = gp.Generation

	if hash != "" {
		gp.Status.CompiledHash = hash
	}

	condition := metav1.Condition{
		Type:               "Ready",
		LastTransitionTime: now,
		ObservedGeneration: gp.Generation,
	}

	if reconcileErr != nil {
		condition.Status = metav1.ConditionFalse
		condition.Reason = "CompilationFailed"
		condition.Message = reconcileErr.Error()
	} else {
		condition.Status = metav1.ConditionTrue
		condition.Reason = "PolicyCompiled"
		condition.Message = "Policy successfully compiled and loaded"
	}

	found := false
	for i, c := range gp.Status.Conditions {
		if c.Type == "Ready" {
			gp.Status.Conditions[i] = condition
			found = true
			break
		}
	}
	if !found {
		gp.Status.Conditions = append(gp.Status.Conditions, condition)
	}

	return r.Status().Update(ctx, gp)
}

// computeHash generates a hash of the Rego module for change detection.
func computeHash(regoModule string) string {
	if regoModule == "" {
		return ""
	}
	h := sha256.Sum256([]byte(regoModule))
	return fmt.Sprintf("%x", h[:8])
}

// SetupWithManager sets up the controller with the Manager.
// This registers the controller to watch GovernancePolicy CRDs.
func (r *GovernancePolicyReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&agentsv1alpha1.GovernancePolicy{}).
		Complete(r)
}
