package policy

import (
	"regexp"
	"strings"

	"github.com/agentgovernor/kernel/pkg/primitives"
)

// safetyScreen implements spec §4.1 step 1: the mandatory safety screen,
// always active and never configurable off.

var systemPathPrefixes = []string{"/etc/", "/sys/", "/proc/", "/dev/", `C:\Windows\`}

// genericDestructivePatterns are shell-level destructive commands, named
// safety.no_destructive_command when they fire.
var genericDestructivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)rm\s+-rf`),
	regexp.MustCompile(`(?i)\bformat\b`),
}

// sqlDestructivePatterns are destructive SQL statements, named
// safety.no_destructive_sql when they fire - even inside a CODE_EXECUTION
// request whose source happens to embed SQL (spec §8's seed scenario).
var sqlDestructivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bDROP\s+(TABLE|DATABASE)\b`),
	regexp.MustCompile(`(?i)\bTRUNCATE\s+TABLE\b`),
	regexp.MustCompile(`(?i)\bDELETE\s+FROM\s+\S+\s*(;|$)`), // DELETE FROM ... without WHERE
}

var sqlCommentPattern = regexp.MustCompile(`(?s)(--[^\n]*|/\*.*?\*/)`)
var stackedStatementPattern = regexp.MustCompile(`;\s*\S`)

// safetyScreen's ruleName, when non-empty, names the mandatory rule that fired.
func safetyScreen(req ExecutionRequest) (ruleName string, reason string, violated bool) {
	if name, reason := pathTraversalViolation(req.Arguments); name != "" {
		return name, reason, true
	}

	if req.ActionType == primitives.ActionCodeExecution {
		if name, reason := destructiveCommandViolation(req.Arguments); name != "" {
			return name, reason, true
		}
	}

	if req.ActionType == primitives.ActionDatabaseQuery || req.ActionType == primitives.ActionDatabaseWrite {
		if name, reason := sqlSanitationViolation(req.Arguments); name != "" {
			return name, reason, true
		}
	}

	return "", "", false
}

func pathTraversalViolation(args map[string]interface{}) (string, string) {
	for key, v := range args {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if !looksLikePathField(key) {
			continue
		}
		if strings.Contains(s, "..") {
			return "safety.no_path_traversal", "path argument contains '..'"
		}
		for _, prefix := range systemPathPrefixes {
			if strings.HasPrefix(s, prefix) {
				return "safety.no_system_paths", "path argument resolves into a system prefix"
			}
		}
	}
	return "", ""
}

func looksLikePathField(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "path") || strings.Contains(k, "file") || k == "dir" || k == "directory"
}

func destructiveCommandViolation(args map[string]interface{}) (string, string) {
	for _, v := range args {
		s, ok := v.(string)
		if !ok {
			continue
		}
		for _, re := range sqlDestructivePatterns {
			if re.MatchString(s) {
				return "safety.no_destructive_sql", "destructive SQL pattern detected"
			}
		}
		for _, re := range genericDestructivePatterns {
			if re.MatchString(s) {
				return "safety.no_destructive_command", "destructive command pattern detected"
			}
		}
	}
	return "", ""
}

func sqlSanitationViolation(args map[string]interface{}) (string, string) {
	for _, v := range args {
		s, ok := v.(string)
		if !ok {
			continue
		}
		// strip comments for pattern matching only; the query itself is
		// never rewritten (spec: "never rewrite the query itself").
		stripped := sqlCommentPattern.ReplaceAllString(s, " ")
		if stackedStatementPattern.MatchString(strings.TrimSpace(stripped)) {
			return "safety.no_stacked_statements", "stacked SQL statements detected"
		}
		for _, re := range sqlDestructivePatterns {
			if re.MatchString(stripped) {
				return "safety.no_destructive_sql", "destructive SQL pattern detected"
			}
		}
	}
	return "", ""
}
