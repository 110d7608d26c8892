package policy

import "strings"

// NormalizeToolName canonicalizes a tool name from any caller-supplied
// form into the "category.action" shape ToolTable and ConditionalPermission
// lookups key off, so a gRPC caller's "FileRead", a CLI's "file_read", and
// a policy document's "file.read" all resolve to the same entry:
//
//	"file.read" -> "file.read"
//	"FileRead"  -> "file.read"
//	"file_read" -> "file.read"
func NormalizeToolName(rawName string) string {
	if rawName == "" {
		return ""
	}

	if strings.Contains(rawName, ".") {
		return strings.ToLower(rawName)
	}

	var result strings.Builder
	for i, r := range rawName {
		if i > 0 && r >= 'A' && r <= 'Z' {
			result.WriteRune('.')
		}
		result.WriteRune(r)
	}

	normalized := strings.ToLower(result.String())
	return strings.ReplaceAll(normalized, "_", ".")
}
