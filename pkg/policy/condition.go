package policy

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/agentgovernor/kernel/pkg/value"
)

// regexEvalDeadline bounds a single Condition's regex evaluation (spec
// §4.1: "per-pattern evaluation capped at 5 ms and on timeout the rule is
// treated as NOT MATCHED plus a regex_timeout audit event").
const regexEvalDeadline = 5 * time.Millisecond

var (
	regexCacheMu sync.Mutex
	regexCache   = map[string]*regexp.Regexp{}
)

func compileRegexCached(pattern string) (*regexp.Regexp, error) {
	regexCacheMu.Lock()
	defer regexCacheMu.Unlock()
	if re, ok := regexCache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexCache[pattern] = re
	return re, nil
}

// EvalResult is the outcome of evaluating one Condition.
type EvalResult struct {
	Matched      bool
	RegexTimeout bool
}

// Evaluate resolves c.AttributePath against root and applies c.Operator.
// A missing attribute_path or type mismatch is treated as NOT MATCHED,
// never as an error that aborts the enclosing ConditionalPermission/rule
// evaluation (spec requires a deterministic total function here).
func (c Condition) Evaluate(root value.Value) EvalResult {
	resolved, err := value.Resolve(root, c.AttributePath)
	if err != nil {
		// "in"/"not_in" still make sense against an absent value for not_in.
		if c.Operator == "not_in" {
			return EvalResult{Matched: true}
		}
		return EvalResult{Matched: false}
	}

	want := value.FromAny(c.Value)

	switch c.Operator {
	case "eq":
		return EvalResult{Matched: value.Equal(resolved, want)}
	case "ne":
		return EvalResult{Matched: !value.Equal(resolved, want)}
	case "gt":
		r, ok := value.Compare(resolved, want)
		return EvalResult{Matched: ok && r > 0}
	case "lt":
		r, ok := value.Compare(resolved, want)
		return EvalResult{Matched: ok && r < 0}
	case "gte":
		r, ok := value.Compare(resolved, want)
		return EvalResult{Matched: ok && r >= 0}
	case "lte":
		r, ok := value.Compare(resolved, want)
		return EvalResult{Matched: ok && r <= 0}
	case "in":
		return EvalResult{Matched: evalMembership(resolved, c.Value)}
	case "not_in":
		return EvalResult{Matched: !evalMembership(resolved, c.Value)}
	case "contains":
		rs, _ := resolved.AsString()
		ws, _ := want.AsString()
		return EvalResult{Matched: strings.Contains(rs, ws)}
	case "not_contains":
		rs, _ := resolved.AsString()
		ws, _ := want.AsString()
		return EvalResult{Matched: !strings.Contains(rs, ws)}
	case "starts_with":
		rs, _ := resolved.AsString()
		ws, _ := want.AsString()
		return EvalResult{Matched: strings.HasPrefix(rs, ws)}
	case "not_starts_with":
		rs, _ := resolved.AsString()
		ws, _ := want.AsString()
		return EvalResult{Matched: !strings.HasPrefix(rs, ws)}
	case "matches":
		return evalMatches(resolved, c.Value)
	default:
		return EvalResult{Matched: false}
	}
}

func evalMembership(resolved value.Value, raw interface{}) bool {
	items, ok := raw.([]interface{})
	if !ok {
		return false
	}
	for _, item := range items {
		if value.Equal(resolved, value.FromAny(item)) {
			return true
		}
	}
	return false
}

func evalMatches(resolved value.Value, pattern interface{}) EvalResult {
	ps, ok := pattern.(string)
	if !ok {
		return EvalResult{Matched: false}
	}
	re, err := compileRegexCached(ps)
	if err != nil {
		return EvalResult{Matched: false}
	}
	rs, _ := resolved.AsString()

	type outcome struct {
		matched bool
	}
	done := make(chan outcome, 1)
	go func() {
		done <- outcome{matched: re.MatchString(rs)}
	}()
	select {
	case o := <-done:
		return EvalResult{Matched: o.matched}
	case <-time.After(regexEvalDeadline):
		return EvalResult{Matched: false, RegexTimeout: true}
	}
}

// String renders a Condition for rule/audit descriptions.
func (c Condition) String() string {
	return fmt.Sprintf("%s %s %v", c.AttributePath, c.Operator, c.Value)
}
