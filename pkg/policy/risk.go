package policy

import (
	"regexp"
	"strings"
	"sync"

	"github.com/agentgovernor/kernel/pkg/primitives"
)

// actionBaseWeight is the base risk contribution of an action type (spec
// §4.1 step 5: "action type base weight").
var actionBaseWeight = map[primitives.ActionType]float64{
	primitives.ActionFileRead:        0.05,
	primitives.ActionFileWrite:       0.15,
	primitives.ActionCodeExecution:   0.35,
	primitives.ActionAPICall:         0.15,
	primitives.ActionDatabaseQuery:   0.10,
	primitives.ActionDatabaseWrite:   0.25,
	primitives.ActionWorkflowTrigger: 0.20,
	primitives.ActionToolCallGeneric: 0.10,
}

const (
	patternHitWeight       = 0.30
	argLengthWeight        = 0.15
	argLengthThresholdBytes = 4096
	unknownDomainWeight    = 0.20
)

var patternCacheMu sync.Mutex
var patternCache = map[string][]*regexp.Regexp{}

func compilePatterns(policyName string, patterns []string) []*regexp.Regexp {
	patternCacheMu.Lock()
	defer patternCacheMu.Unlock()
	if cached, ok := patternCache[policyName]; ok {
		return cached
	}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			compiled = append(compiled, re)
		}
	}
	patternCache[policyName] = compiled
	return compiled
}

// score computes risk in [0,1] per spec §4.1 step 5: pattern hits, action
// type base weight, argument length heuristic, and unknown-domain penalty
// for API_CALL.
func (rp *RiskPolicy) score(req ExecutionRequest) float64 {
	if rp == nil {
		return 0
	}

	total := actionBaseWeight[req.ActionType]

	patterns := compilePatterns(rp.Name, rp.HighRiskPatterns)
	for _, v := range req.Arguments {
		s, ok := v.(string)
		if !ok {
			continue
		}
		for _, re := range patterns {
			if re.MatchString(s) {
				total += patternHitWeight
			}
		}
	}

	argBytes := 0
	for k, v := range req.Arguments {
		argBytes += len(k)
		if s, ok := v.(string); ok {
			argBytes += len(s)
		}
	}
	if argBytes > argLengthThresholdBytes {
		total += argLengthWeight
	}

	if req.ActionType == primitives.ActionAPICall {
		if domain, ok := req.Arguments["domain"].(string); ok && domain != "" {
			if !domainAllowed(rp.AllowedDomains, domain) {
				total += unknownDomainWeight
			}
		}
	}

	if total > 1 {
		total = 1
	}
	if total < 0 {
		total = 0
	}
	return total
}

func domainAllowed(allowed []string, domain string) bool {
	if len(allowed) == 0 {
		return true
	}
	domain = strings.ToLower(domain)
	for _, d := range allowed {
		if matchDomain(d, domain) {
			return true
		}
	}
	return false
}
