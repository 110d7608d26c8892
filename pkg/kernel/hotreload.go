package kernel

import (
	"github.com/agentgovernor/kernel/pkg/config"
	"github.com/agentgovernor/kernel/pkg/policy"
)

// WatchPolicyFile starts hot-reloading path into this Kernel's Policy
// Engine: every write recompiles the §6 document and swaps each role's
// CompiledPolicy in place via LoadPolicy, without restarting the process.
// Roles present in a previous version of the file but absent from the new
// one are left loaded; operators that want a role removed call
// RemovePolicy explicitly, since a transient bad write (an editor's
// intermediate save) must never silently strip live policy.
func (k *Kernel) WatchPolicyFile(path string, onError func(error)) (*config.PolicyWatcher, error) {
	return config.WatchPolicyFile(path, func(compiled map[string]*policy.CompiledPolicy) {
		for role, cp := range compiled {
			k.LoadPolicy(role, cp)
		}
	}, onError)
}
