// Package config loads the kernel's policy documents and runtime
// configuration from disk. The policy YAML loader here generalizes the
// hand-rolled PolicyFile struct the teacher's IEC 62443 experiment used
// into the production document shape (spec §6): a single file can declare
// several agent roles at once, each with its own tool allow-list,
// conditional permissions, quota, risk policy and cross-cutting rules.
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/agentgovernor/kernel/pkg/policy"
	"github.com/agentgovernor/kernel/pkg/primitives"
)

// conditionDoc is the YAML shape of a policy.Condition.
type conditionDoc struct {
	AttributePath string      `yaml:"attribute_path"`
	Operator      string      `yaml:"operator"`
	Value         interface{} `yaml:"value"`
}

// conditionalPermissionDoc is the YAML shape of a policy.ConditionalPermission.
type conditionalPermissionDoc struct {
	ToolName   string         `yaml:"tool_name"`
	Conditions []conditionDoc `yaml:"conditions"`
	RequireAll bool           `yaml:"require_all"`
}

// quotaDoc is the YAML shape of a policy.ResourceQuota.
type quotaDoc struct {
	MaxRequestsPerMinute    int      `yaml:"max_requests_per_minute"`
	MaxRequestsPerHour      int      `yaml:"max_requests_per_hour"`
	MaxExecutionTimeSeconds int      `yaml:"max_execution_time_seconds"`
	MaxConcurrentExecutions int      `yaml:"max_concurrent_executions"`
	AllowedActionTypes      []string `yaml:"allowed_action_types"`
}

// riskPolicyDoc is the YAML shape of a policy.RiskPolicy.
type riskPolicyDoc struct {
	MaxRiskScore         float64  `yaml:"max_risk_score"`
	RequireApprovalAbove float64  `yaml:"require_approval_above"`
	DenyAbove            float64  `yaml:"deny_above"`
	HighRiskPatterns     []string `yaml:"high_risk_patterns"`
	AllowedDomains       []string `yaml:"allowed_domains"`
	BlockedDomains       []string `yaml:"blocked_domains"`
}

// customRuleDoc is the YAML shape of a cross-cutting policy.PolicyRule.
type customRuleDoc struct {
	RuleID      string   `yaml:"rule_id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	ActionTypes []string `yaml:"action_types"`
	Priority    int      `yaml:"priority"`
}

// policyDocument is the full §6 policy YAML shape.
type policyDocument struct {
	Version                string                                `yaml:"version"`
	AgentConstraints        map[string][]string                  `yaml:"agent_constraints"`
	ConditionalPermissions  map[string][]conditionalPermissionDoc `yaml:"conditional_permissions"`
	Quotas                  map[string]quotaDoc                  `yaml:"quotas"`
	RiskPolicies            map[string]riskPolicyDoc             `yaml:"risk_policies"`
	CustomRules             []customRuleDoc                      `yaml:"custom_rules"`
}

// LoadError reports an unknown key or malformed field at a specific
// document path, per spec §6: "Unknown keys at any level → load error
// with the offending path."
type LoadError struct {
	Path string
	Msg  string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("policy document: %s: %s", e.Path, e.Msg)
}

var topLevelKeys = map[string]bool{
	"version": true, "agent_constraints": true, "conditional_permissions": true,
	"quotas": true, "risk_policies": true, "custom_rules": true,
}

var conditionalPermissionKeys = map[string]bool{
	"tool_name": true, "conditions": true, "require_all": true,
}

var conditionKeys = map[string]bool{
	"attribute_path": true, "operator": true, "value": true,
}

var quotaKeys = map[string]bool{
	"max_requests_per_minute": true, "max_requests_per_hour": true,
	"max_execution_time_seconds": true, "max_concurrent_executions": true,
	"allowed_action_types": true,
}

var riskPolicyKeys = map[string]bool{
	"max_risk_score": true, "require_approval_above": true, "deny_above": true,
	"high_risk_patterns": true, "allowed_domains": true, "blocked_domains": true,
}

var customRuleKeys = map[string]bool{
	"rule_id": true, "name": true, "description": true, "action_types": true, "priority": true,
}

// checkMappingKeys walks a mapping node's keys and returns a *LoadError for
// the first one not present in allowed.
func checkMappingKeys(node *yaml.Node, allowed map[string]bool, path string) error {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i < len(node.Content); i += 2 {
		key := node.Content[i].Value
		if !allowed[key] {
			return &LoadError{Path: path, Msg: fmt.Sprintf("unknown key %q", key)}
		}
	}
	return nil
}

// validateKeys walks the whole document tree checking every mapping's keys
// against the §6 grammar, since yaml.Unmarshal silently drops keys a Go
// struct doesn't declare.
func validateKeys(root *yaml.Node) error {
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) == 0 {
			return nil
		}
		root = root.Content[0]
	}

	if err := checkMappingKeys(root, topLevelKeys, "$"); err != nil {
		return err
	}

	for i := 0; i < len(root.Content); i += 2 {
		key := root.Content[i].Value
		val := root.Content[i+1]

		switch key {
		case "conditional_permissions":
			for ri := 0; ri < len(val.Content); ri += 2 {
				role := val.Content[ri].Value
				perms := val.Content[ri+1]
				for pi, permNode := range perms.Content {
					path := fmt.Sprintf("$.conditional_permissions.%s[%d]", role, pi)
					if err := checkMappingKeys(permNode, conditionalPermissionKeys, path); err != nil {
						return err
					}
					condsNode := mappingValue(permNode, "conditions")
					if condsNode != nil {
						for ci, condNode := range condsNode.Content {
							cpath := fmt.Sprintf("%s.conditions[%d]", path, ci)
							if err := checkMappingKeys(condNode, conditionKeys, cpath); err != nil {
								return err
							}
						}
					}
				}
			}
		case "quotas":
			for ri := 0; ri < len(val.Content); ri += 2 {
				role := val.Content[ri].Value
				if err := checkMappingKeys(val.Content[ri+1], quotaKeys, "$.quotas."+role); err != nil {
					return err
				}
			}
		case "risk_policies":
			for ri := 0; ri < len(val.Content); ri += 2 {
				name := val.Content[ri].Value
				if err := checkMappingKeys(val.Content[ri+1], riskPolicyKeys, "$.risk_policies."+name); err != nil {
					return err
				}
			}
		case "custom_rules":
			for ri, ruleNode := range val.Content {
				path := fmt.Sprintf("$.custom_rules[%d]", ri)
				if err := checkMappingKeys(ruleNode, customRuleKeys, path); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// mappingValue returns the value node for key inside a mapping node, or
// nil if absent.
func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

// Load parses a §6 policy document and compiles one policy.CompiledPolicy
// per role named in agent_constraints. Quotas and risk policies are looked
// up by the same role name (a document's risk_policies/quotas maps are
// keyed by role, matching agent_constraints); custom_rules
// is a single cross-cutting list shared by every role, as the grammar has
// no per-role scoping for it.
func Load(data []byte) (map[string]*policy.CompiledPolicy, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &LoadError{Path: "$", Msg: err.Error()}
	}
	if err := validateKeys(&root); err != nil {
		return nil, err
	}

	var doc policyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &LoadError{Path: "$", Msg: err.Error()}
	}

	sharedRules := make([]policy.PolicyRule, 0, len(doc.CustomRules))
	for _, cr := range doc.CustomRules {
		appliesTo := make(map[primitives.ActionType]struct{}, len(cr.ActionTypes))
		for _, a := range cr.ActionTypes {
			appliesTo[primitives.ParseActionType(a)] = struct{}{}
		}
		sharedRules = append(sharedRules, policy.PolicyRule{
			RuleID:      cr.RuleID,
			Name:        cr.Name,
			Description: cr.Description,
			AppliesTo:   appliesTo,
			Effect:      primitives.EffectDeny,
			Priority:    cr.Priority,
		})
	}
	sharedRules = policy.WithInsertionOrder(sharedRules)

	compiled := make(map[string]*policy.CompiledPolicy, len(doc.AgentConstraints))
	for role, tools := range doc.AgentConstraints {
		perms := make([]policy.ToolPermission, 0, len(tools))
		for _, tool := range tools {
			// Normalized the same way Kernel.Submit normalizes an
			// incoming tool name, so "file_read" in the YAML document
			// matches a caller that asked for "file_read", "FileRead",
			// or "file.read" alike.
			perms = append(perms, policy.ToolPermission{Tool: policy.NormalizeToolName(tool), Action: policy.Allow})
		}

		cp := policy.CompilePolicy(role, []string{role}, policy.Deny, perms, policy.Enforcing, "")

		if condPerms, ok := doc.ConditionalPermissions[role]; ok {
			cp.ConditionalPermissions = convertConditionalPermissions(condPerms)
		}
		if q, ok := doc.Quotas[role]; ok {
			cp.Quota = convertQuota(q)
		}
		if rp, ok := doc.RiskPolicies[role]; ok {
			cp.RiskPolicy = convertRiskPolicy(role, rp)
		}
		cp.CrossCuttingRules = sharedRules

		compiled[role] = cp
	}

	return compiled, nil
}

func convertConditionalPermissions(docs []conditionalPermissionDoc) []policy.ConditionalPermission {
	out := make([]policy.ConditionalPermission, 0, len(docs))
	for _, d := range docs {
		conds := make([]policy.Condition, 0, len(d.Conditions))
		for _, c := range d.Conditions {
			conds = append(conds, policy.Condition{
				AttributePath: c.AttributePath,
				Operator:      c.Operator,
				Value:         c.Value,
			})
		}
		out = append(out, policy.ConditionalPermission{
			ToolName:   policy.NormalizeToolName(d.ToolName),
			Conditions: conds,
			RequireAll: d.RequireAll,
		})
	}
	return out
}

func convertQuota(d quotaDoc) *policy.ResourceQuota {
	allowed := make([]primitives.ActionType, 0, len(d.AllowedActionTypes))
	for _, a := range d.AllowedActionTypes {
		allowed = append(allowed, primitives.ParseActionType(a))
	}
	return &policy.ResourceQuota{
		MaxRequestsPerMinute: d.MaxRequestsPerMinute,
		MaxRequestsPerHour:   d.MaxRequestsPerHour,
		MaxExecSeconds:       d.MaxExecutionTimeSeconds,
		MaxConcurrent:        d.MaxConcurrentExecutions,
		AllowedActionTypes:   allowed,
	}
}

func convertRiskPolicy(name string, d riskPolicyDoc) *policy.RiskPolicy {
	return &policy.RiskPolicy{
		Name:                 name,
		MaxRiskScore:         d.MaxRiskScore,
		RequireApprovalAbove: d.RequireApprovalAbove,
		DenyAbove:            d.DenyAbove,
		HighRiskPatterns:     d.HighRiskPatterns,
		AllowedDomains:       d.AllowedDomains,
		BlockedDomains:       d.BlockedDomains,
	}
}
