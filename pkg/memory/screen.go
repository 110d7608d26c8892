package memory

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/agentgovernor/kernel/pkg/primitives"
)

// Screen implements spec §4.5 step 1: injection/code-injection/unicode-
// manipulation detectors run over write-path content. Each firing detector
// produces one Alert at the severity spec assigns it.

var injectionPhrases = []string{
	"ignore previous instructions",
	"ignore all previous instructions",
	"disregard the above",
	"you are now",
	"new instructions:",
	"system prompt:",
}

var codeInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bexec\s*\(`),
	regexp.MustCompile(`(?i)\beval\s*\(`),
	regexp.MustCompile(`(?i)__import__\s*\(`),
	regexp.MustCompile(`(?i)\bos\.system\s*\(`),
	regexp.MustCompile(`(?i)\bsubprocess\.`),
}

var delimiterInjectionPattern = regexp.MustCompile(`(?i)(\[/?(system|assistant|user)\]|<\|.*?\|>)`)
var canaryExfilPattern = regexp.MustCompile(`(?i)canary[_-]?token`)

// bidiOverrideChars are Unicode bidirectional-control code points that can
// visually hide malicious instructions inside otherwise-benign text.
var bidiOverrideChars = []rune{
	'‪', '‫', '‬', '‭', '‮',
}

// Screen inspects content and returns every detector hit, tagged with the
// source's content ref for traceability.
func Screen(contentRef, content string) []Alert {
	var alerts []Alert

	lower := strings.ToLower(content)
	for _, phrase := range injectionPhrases {
		if strings.Contains(lower, phrase) {
			alerts = append(alerts, Alert{ContentRef: contentRef, Detector: "injection_phrase", Severity: primitives.SeverityCritical})
		}
	}

	if delimiterInjectionPattern.MatchString(content) {
		alerts = append(alerts, Alert{ContentRef: contentRef, Detector: "delimiter_injection", Severity: primitives.SeverityError})
	}

	if canaryExfilPattern.MatchString(content) {
		alerts = append(alerts, Alert{ContentRef: contentRef, Detector: "canary_token_exfiltration", Severity: primitives.SeverityCritical})
	}

	for _, re := range codeInjectionPatterns {
		if re.MatchString(content) {
			alerts = append(alerts, Alert{ContentRef: contentRef, Detector: "code_injection", Severity: primitives.SeverityCritical})
		}
	}

	if hasBidiOverride(content) {
		alerts = append(alerts, Alert{ContentRef: contentRef, Detector: "bidi_override", Severity: primitives.SeverityCritical})
	}

	if hasMixedScriptHomoglyphs(content) {
		alerts = append(alerts, Alert{ContentRef: contentRef, Detector: "homoglyph_mixed_script", Severity: primitives.SeverityError})
	}

	return alerts
}

func hasBidiOverride(s string) bool {
	for _, r := range s {
		for _, bad := range bidiOverrideChars {
			if r == bad {
				return true
			}
		}
	}
	return false
}

// hasMixedScriptHomoglyphs flags a string that mixes Latin and Cyrillic
// letters within the same word-like run, a classic homoglyph spoofing
// technique (e.g. Cyrillic 'а' substituted for Latin 'a').
func hasMixedScriptHomoglyphs(s string) bool {
	sawLatin, sawCyrillic := false, false
	for _, r := range s {
		switch {
		case unicode.Is(unicode.Latin, r):
			sawLatin = true
		case unicode.Is(unicode.Cyrillic, r):
			sawCyrillic = true
		case unicode.IsSpace(r):
			sawLatin, sawCyrillic = false, false
		}
		if sawLatin && sawCyrillic {
			return true
		}
	}
	return false
}
