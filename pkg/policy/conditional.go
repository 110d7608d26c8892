package policy

import "github.com/agentgovernor/kernel/pkg/value"

// conditionalOutcome is the result of evaluating one ConditionalPermission
// against a request's attribute tree.
type conditionalOutcome struct {
	matched      bool
	regexTimeout bool
}

// evaluate applies require_all AND/OR semantics (spec §3/§4.1 step 3) over
// cp.Conditions against root.
func (cp ConditionalPermission) evaluate(root value.Value) conditionalOutcome {
	if len(cp.Conditions) == 0 {
		return conditionalOutcome{matched: false}
	}

	anyTimeout := false
	if cp.RequireAll {
		for _, c := range cp.Conditions {
			r := c.Evaluate(root)
			anyTimeout = anyTimeout || r.RegexTimeout
			if !r.Matched {
				return conditionalOutcome{matched: false, regexTimeout: anyTimeout}
			}
		}
		return conditionalOutcome{matched: true, regexTimeout: anyTimeout}
	}

	for _, c := range cp.Conditions {
		r := c.Evaluate(root)
		anyTimeout = anyTimeout || r.RegexTimeout
		if r.Matched {
			return conditionalOutcome{matched: true, regexTimeout: anyTimeout}
		}
	}
	return conditionalOutcome{matched: false, regexTimeout: anyTimeout}
}

// evaluateConditionalPermissions implements spec §4.1 step 3: for each
// ConditionalPermission targeting toolName, evaluate its condition set. If
// any matches, ALLOW. If permissions exist for toolName but none match,
// DENY. If no ConditionalPermission targets toolName at all, the caller
// should fall through to the next evaluation step (found=false).
func evaluateConditionalPermissions(perms []ConditionalPermission, toolName string, root value.Value) (decision PolicyDecision, found bool) {
	var relevant []ConditionalPermission
	for _, cp := range perms {
		if cp.ToolName == toolName {
			relevant = append(relevant, cp)
		}
	}
	if len(relevant) == 0 {
		return PolicyDecision{}, false
	}

	anyTimeout := false
	for _, cp := range relevant {
		outcome := cp.evaluate(root)
		anyTimeout = anyTimeout || outcome.regexTimeout
		if outcome.matched {
			d := allow("conditional permission matched", "conditional:"+toolName)
			d.RegexTimeoutSignal = anyTimeout
			return d, true
		}
	}
	d := deny("conditional permission present but none matched", "conditional:"+toolName)
	d.RegexTimeoutSignal = anyTimeout
	return d, true
}
