package recorder

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/agentgovernor/kernel/pkg/value"
)

const redactionToken = "[REDACTED]"

// redactAndDigest implements spec §4.3's sensitive-data scrubbing pass:
// the pre-redaction sha256 is preserved as args_digest (chain-of-custody),
// while the on-disk payload itself is never stored raw by this package —
// callers that need the scrubbed payload persisted separately should run
// RedactArgs and store the result themselves; the recorder only ever
// writes the digest into the chain.
func redactAndDigest(args map[string]interface{}) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	canonical := make(map[string]interface{}, len(args))
	for _, k := range keys {
		canonical[k] = args[k]
	}
	b, _ := json.Marshal(canonical)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// RedactArgs replaces Luhn-valid credit-card numbers, SSNs, and emails in
// every string-typed argument with a fixed redaction token.
func RedactArgs(args map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok {
			out[k] = RedactString(s)
			continue
		}
		out[k] = v
	}
	return out
}

// RedactString applies the shared sensitive-data detectors to a single
// string value.
func RedactString(s string) string {
	for _, hit := range value.FindCreditCards(s) {
		s = strings.ReplaceAll(s, hit, redactionToken)
	}
	for _, hit := range value.FindSSNs(s) {
		s = strings.ReplaceAll(s, hit, redactionToken)
	}
	for _, hit := range value.FindEmails(s) {
		s = strings.ReplaceAll(s, hit, redactionToken)
	}
	return s
}
