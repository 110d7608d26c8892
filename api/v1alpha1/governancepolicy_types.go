package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// EDIT THIS FILE!  THIS IS SCAFFOLDING FOR YOU TO OWN!
// NOTE: json tags are required.  Any new fields you add must have json tags for the fields to be serialized.

// ============================================================================
// Tool Permission Types
// ============================================================================

// DecisionAction represents the outcome of a policy evaluation.
// +kubebuilder:validation:Enum=allow;deny
type DecisionAction string

const (
	// DecisionAllow permits the tool call.
	DecisionAllow DecisionAction = "allow"
	// DecisionDeny blocks the tool call.
	DecisionDeny DecisionAction = "deny"
)

// EnforcementMode controls how policy decisions are applied.
// +kubebuilder:validation:Enum=permissive;enforcing
type EnforcementMode string

const (
	// EnforcementModePermissive logs denials but allows all requests (for testing/rollout).
	EnforcementModePermissive EnforcementMode = "permissive"
	// EnforcementModeEnforcing actually blocks denied requests.
	EnforcementModeEnforcing EnforcementMode = "enforcing"
)

// MTSEnforceMode controls multi-tenant sandboxing strictness.
// +kubebuilder:validation:Enum=strict;permissive;disabled
type MTSEnforceMode string

const (
	// MTSEnforceModeStrict requires exact MTS label matches.
	MTSEnforceModeStrict MTSEnforceMode = "strict"
	// MTSEnforceModePermissive logs violations but allows cross-tenant access.
	MTSEnforceModePermissive MTSEnforceMode = "permissive"
	// MTSEnforceModeDisabled disables MTS checking.
	MTSEnforceModeDisabled MTSEnforceMode = "disabled"
)

// ToolConstraints define conditional access rules for tool permissions.
// These constraints mirror SELinux's fine-grained object class permissions.
type ToolConstraints struct {
	// PathPatterns are glob patterns for file operations.
	// Example: "/workspace/**", "/tmp/**"
	// +optional
	// +listType=atomic
	PathPatterns []string `json:"pathPatterns,omitempty"`

	// AllowedDomains are permitted domains for network operations.
	// Supports wildcards: "*.github.com"
	// +optional
	// +listType=atomic
	AllowedDomains []string `json:"allowedDomains,omitempty"`

	// DeniedDomains are explicitly blocked domains for network operations.
	// Takes precedence over AllowedDomains.
	// +optional
	// +listType=atomic
	DeniedDomains []string `json:"deniedDomains,omitempty"`

	// AllowedPorts are permitted ports for network operations.
	// Example: [80, 443]
	// +optional
	// +listType=atomic
	AllowedPorts []int32 `json:"allowedPorts,omitempty"`

	// MaxSizeBytes is the maximum size in bytes for write operations.
	// Example: 10485760 (10MB)
	// +optional
	// +kubebuilder:validation:Minimum=0
	MaxSizeBytes *int64 `json:"maxSizeBytes,omitempty"`

	// Timeout is the maximum execution time for operations.
	// Example: "60s", "5m"
	// +optional
	// +kubebuilder:validation:Pattern=`^([0-9]+(\.[0-9]+)?(s|m|h))+$`
	Timeout string `json:"timeout,omitempty"`
}

// ToolPermission defines access rules for a specific tool.
// This is analogous to SELinux type enforcement rules.
type ToolPermission struct {
	// Tool is the name of the tool being controlled.
	// Examples: "file.read", "file.write", "network.fetch", "code.execute"
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	// +kubebuilder:validation:Pattern=`^[a-z][a-z0-9]*(\.[a-z][a-z0-9]*)*$`
	Tool string `json:"tool"`

	// Action is the decision for this tool: allow or deny.
	// +kubebuilder:validation:Required
	Action DecisionAction `json:"action"`

	// Constraints are optional conditions that must be met for the permission.
	// Only applies when Action is "allow".
	// +optional
	Constraints *ToolConstraints `json:"constraints,omitempty"`
}

// ============================================================================
// Conditional Permissions (ABAC)
// ============================================================================

// Condition is a single ABAC predicate: {attributePath, operator, value}.
// Value is carried as its JSON text form since a CRD field can't hold Go's
// interface{} directly; the controller parses it back into policy.Condition
// via encoding/json before compiling the policy.
type Condition struct {
	// AttributePath is a dot-notation path into {args, context, agent},
	// e.g. "args.path" or "agent.tenant_id".
	// +kubebuilder:validation:Required
	AttributePath string `json:"attributePath"`

	// Operator is one of: eq, ne, gt, lt, gte, lte, in, not_in, contains,
	// starts_with, not_starts_with, not_contains, matches.
	// +kubebuilder:validation:Required
	Operator string `json:"operator"`

	// Value is the JSON-encoded comparison value, e.g. `"\"/workspace\""`
	// or `"[\"a\",\"b\"]"`.
	// +optional
	Value string `json:"value,omitempty"`
}

// ConditionalPermission is a targeted allow/deny override inside a policy:
// {toolName, conditions, requireAll}.
type ConditionalPermission struct {
	// ToolName is the tool this override applies to.
	// +kubebuilder:validation:Required
	ToolName string `json:"toolName"`

	// Conditions are evaluated per RequireAll's AND/OR semantics.
	// +optional
	Conditions []Condition `json:"conditions,omitempty"`

	// RequireAll selects AND semantics (true) or OR semantics (false,
	// default) across Conditions.
	// +optional
	RequireAll bool `json:"requireAll,omitempty"`
}

// ============================================================================
// Quotas and Risk Scoring
// ============================================================================

// ResourceQuota bounds an agent's request rate and concurrency. A zero
// value means unlimited for that dimension.
type ResourceQuota struct {
	// +optional
	MaxRequestsPerMinute int `json:"maxRequestsPerMinute,omitempty"`
	// +optional
	MaxRequestsPerHour int `json:"maxRequestsPerHour,omitempty"`
	// +optional
	MaxExecSeconds int `json:"maxExecSeconds,omitempty"`
	// +optional
	MaxConcurrent int `json:"maxConcurrent,omitempty"`
	// +optional
	// +listType=set
	AllowedActionTypes []string `json:"allowedActionTypes,omitempty"`
}

// RiskPolicy configures the risk-scoring evaluation step.
type RiskPolicy struct {
	// +kubebuilder:validation:Required
	Name string `json:"name"`
	// +optional
	MaxRiskScore float64 `json:"maxRiskScore,omitempty"`
	// +optional
	RequireApprovalAbove float64 `json:"requireApprovalAbove,omitempty"`
	// +optional
	DenyAbove float64 `json:"denyAbove,omitempty"`
	// +optional
	// +listType=atomic
	HighRiskPatterns []string `json:"highRiskPatterns,omitempty"`
	// +optional
	// +listType=atomic
	AllowedDomains []string `json:"allowedDomains,omitempty"`
	// +optional
	// +listType=atomic
	BlockedDomains []string `json:"blockedDomains,omitempty"`
}

// PolicyRuleEffect is the five-way outcome a cross-cutting rule can
// produce.
// +kubebuilder:validation:Enum=allow;deny;warn;require_approval;log
type PolicyRuleEffect string

const (
	PolicyEffectAllow            PolicyRuleEffect = "allow"
	PolicyEffectDeny             PolicyRuleEffect = "deny"
	PolicyEffectWarn             PolicyRuleEffect = "warn"
	PolicyEffectRequireApproval  PolicyRuleEffect = "require_approval"
	PolicyEffectLog              PolicyRuleEffect = "log"
)

// PolicyRule is a cross-cutting rule evaluated in descending Priority
// (ties broken by declaration order).
type PolicyRule struct {
	// +kubebuilder:validation:Required
	RuleID string `json:"ruleId"`
	// +optional
	Name string `json:"name,omitempty"`
	// +optional
	Description string `json:"description,omitempty"`
	// AppliesTo restricts the rule to specific action types; empty means
	// "every action type".
	// +optional
	// +listType=set
	AppliesTo []string `json:"appliesTo,omitempty"`
	// +kubebuilder:validation:Required
	Predicate Condition `json:"predicate"`
	// +kubebuilder:validation:Required
	Effect PolicyRuleEffect `json:"effect"`
	// +optional
	Priority int `json:"priority,omitempty"`
}

// ============================================================================
// Multi-Tenant Sandboxing (MTS) Configuration
// ============================================================================

// MTSConfig defines multi-tenant sandboxing settings.
// This is analogous to SELinux's Multi-Category Security (MCS).
type MTSConfig struct {
	// MTSLabel is the security label for tenant isolation.
	// Format follows SELinux MCS convention: "s0:c100,c200"
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:Pattern=`^s[0-9]+(:c[0-9]+(,c[0-9]+)*)?$`
	MTSLabel string `json:"mtsLabel"`

	// EnforceMode controls how MTS violations are handled.
	// +kubebuilder:default=strict
	EnforceMode MTSEnforceMode `json:"enforceMode,omitempty"`
}

// ============================================================================
// Policy Reference (for SandboxClaim to reference policies)
// ============================================================================

// PolicyReference identifies a GovernancePolicy resource.
type PolicyReference struct {
	// Name is the name of the GovernancePolicy resource.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	Name string `json:"name"`

	// Namespace is the namespace of the GovernancePolicy resource.
	// If empty, defaults to the referencing resource's namespace.
	// +optional
	Namespace string `json:"namespace,omitempty"`
}

// ============================================================================
// GovernancePolicy Spec and Status
// ============================================================================

// GovernancePolicySpec defines the desired state of GovernancePolicy.
// This is the declarative policy configuration that administrators create.
type GovernancePolicySpec struct {
	// AgentTypes is a list of agent types this policy applies to.
	// Example: ["coding-assistant", "code-reviewer"]
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinItems=1
	// +listType=set
	AgentTypes []string `json:"agentTypes"`

	// DefaultAction for tools not explicitly listed in ToolPermissions.
	// +kubebuilder:validation:Required
	// +kubebuilder:default=deny
	DefaultAction DecisionAction `json:"defaultAction"`

	// Mode is the enforcement mode for this policy.
	// "permissive" logs denials but allows all requests.
	// "enforcing" actually blocks denied requests.
	// +kubebuilder:default=enforcing
	Mode EnforcementMode `json:"mode,omitempty"`

	// ToolPermissions is the list of explicit tool permission rules.
	// Rules are evaluated in order; first match wins.
	// +optional
	// +listType=map
	// +listMapKey=tool
	ToolPermissions []ToolPermission `json:"toolPermissions,omitempty"`

	// ConditionalPermissions are ABAC overrides evaluated before the
	// ToolPermissions allow-list (spec §4.1 step 3).
	// +optional
	ConditionalPermissions []ConditionalPermission `json:"conditionalPermissions,omitempty"`

	// Quota bounds this policy's agents' request rate and concurrency.
	// +optional
	Quota *ResourceQuota `json:"quota,omitempty"`

	// RiskPolicy configures the risk-scoring evaluation step.
	// +optional
	RiskPolicy *RiskPolicy `json:"riskPolicy,omitempty"`

	// CrossCuttingRules are evaluated after the allow-list, in descending
	// Priority order (spec §4.1 step 4).
	// +optional
	CrossCuttingRules []PolicyRule `json:"crossCuttingRules,omitempty"`

	// UseOPA compiles this policy to a Rego module and evaluates it with
	// OPA's prepared queries instead of the legacy ToolTable.
	// +optional
	UseOPA bool `json:"useOPA,omitempty"`

	// TenantIsolation configures Multi-Tenant Sandboxing (MTS).
	// When set, cross-tenant access is controlled based on MTS labels.
	// +optional
	TenantIsolation *MTSConfig `json:"tenantIsolation,omitempty"`
}

// GovernancePolicyStatus defines the observed state of GovernancePolicy.
// This is updated by the controller to reflect the current state.
type GovernancePolicyStatus struct {
	// CompiledHash is the hash of the compiled policy.
	// Used to detect when recompilation is needed.
	// +optional
	CompiledHash string `json:"compiledHash,omitempty"`

	// LastUpdated is the timestamp of the last policy compilation.
	// +optional
	LastUpdated *metav1.Time `json:"lastUpdated,omitempty"`

	// ActiveBindings is the count of SandboxClaims referencing this policy.
	// +optional
	// +kubebuilder:default=0
	ActiveBindings int32 `json:"activeBindings,omitempty"`

	// Conditions represent the latest available observations of the policy's state.
	// +optional
	// +listType=map
	// +listMapKey=type
	Conditions []metav1.Condition `json:"conditions,omitempty"`

	// ObservedGeneration is the most recent generation observed by the controller.
	// +optional
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`
}

// ============================================================================
// GovernancePolicy Resource Definition
// ============================================================================

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=gp;govpol
// +kubebuilder:printcolumn:name="Mode",type="string",JSONPath=".spec.mode",description="Enforcement mode"
// +kubebuilder:printcolumn:name="Default",type="string",JSONPath=".spec.defaultAction",description="Default action"
// +kubebuilder:printcolumn:name="Bindings",type="integer",JSONPath=".status.activeBindings",description="Active sandbox bindings"
// +kubebuilder:printcolumn:name="Age",type="date",JSONPath=".metadata.creationTimestamp"

// GovernancePolicy is the Schema for the governancepolicies API.
// It defines Mandatory Access Control rules for AI agent tool invocations,
// following the SELinux pattern applied to the agentic kernel.
type GovernancePolicy struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   GovernancePolicySpec   `json:"spec,omitempty"`
	Status GovernancePolicyStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// GovernancePolicyList contains a list of GovernancePolicy resources.
type GovernancePolicyList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []GovernancePolicy `json:"items"`
}

func init() {
	SchemeBuilder.Register(&GovernancePolicy{}, &GovernancePolicyList{})
}
