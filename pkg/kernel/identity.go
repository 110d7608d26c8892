package kernel

import "github.com/agentgovernor/kernel/pkg/policy"

// RequestMetadata carries the caller identity and context attached to every
// tool-call RPC. It is the wire-level analogue of policy.AgentContext -
// fields map 1:1 onto the ExecuteRequest message.
type RequestMetadata struct {
	AgentID   string
	AgentType string
	SandboxID string
	TenantID  string
	SessionID string
	MTSLabel  string
	PolicyRef string
	Role      string
}

// extractToolName parses the tool name from a request and normalizes it to
// the "category.action" form policy.NormalizeToolName defines, so every
// caller (gRPC, the CLI, a policy.yaml loaded from disk) keys off the same
// ToolTable entry regardless of which casing/separator it submitted.
func extractToolName(rawName string) string {
	return policy.NormalizeToolName(rawName)
}
