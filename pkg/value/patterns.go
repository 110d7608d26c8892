package value

import "regexp"

// Shared sensitive-data detectors used by the Flight Recorder's redaction
// pass (K3) and the Trust Sidecar's payload screen (K6). Kept in one place
// so both subsystems agree on what counts as a credit card, an SSN, or an
// email address.

var (
	ssnPattern   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)
	// candidate digit runs (with optional spaces/dashes) long enough to be
	// a card number; Luhn validation below narrows to actual hits.
	cardCandidate = regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`)
)

// FindSSNs returns every SSN-shaped substring in s.
func FindSSNs(s string) []string {
	return ssnPattern.FindAllString(s, -1)
}

// FindEmails returns every email-shaped substring in s.
func FindEmails(s string) []string {
	return emailPattern.FindAllString(s, -1)
}

// FindCreditCards returns substrings that are digit runs passing Luhn
// validation, i.e. real candidate credit-card numbers rather than any
// 13-19 digit sequence.
func FindCreditCards(s string) []string {
	var hits []string
	for _, candidate := range cardCandidate.FindAllString(s, -1) {
		digits := stripNonDigits(candidate)
		if len(digits) < 13 || len(digits) > 19 {
			continue
		}
		if luhnValid(digits) {
			hits = append(hits, candidate)
		}
	}
	return hits
}

func stripNonDigits(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			out = append(out, s[i])
		}
	}
	return string(out)
}

// luhnValid implements the Luhn checksum algorithm over a digit string.
func luhnValid(digits string) bool {
	sum := 0
	alt := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if alt {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		alt = !alt
	}
	return sum%10 == 0
}
