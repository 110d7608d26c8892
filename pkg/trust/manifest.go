// Package trust implements the Inter-Agent Trust Sidecar (K6): capability
// manifest exchange, sensitive-data screening, and quarantine/override of
// cross-agent HTTP traffic (spec §4.6).
package trust

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TrustLevel is the coarse authority label a manifest asserts for its agent.
type TrustLevel string

const (
	TrustVerifiedPartner TrustLevel = "verified_partner"
	TrustTrusted         TrustLevel = "trusted"
	TrustStandard        TrustLevel = "standard"
	TrustUnknown         TrustLevel = "unknown"
	TrustUntrusted       TrustLevel = "untrusted"
)

// Reversibility describes how recoverable the agent's actions are.
type Reversibility string

const (
	ReversibilityFull    Reversibility = "full"
	ReversibilityPartial Reversibility = "partial"
	ReversibilityNone    Reversibility = "none"
)

// Retention describes how long the agent retains data it receives.
type Retention string

const (
	RetentionEphemeral Retention = "ephemeral"
	RetentionTemporary Retention = "temporary"
	RetentionPermanent Retention = "permanent"
	RetentionForever   Retention = "forever"
)

// CapabilityManifest is published at agent startup and is immutable for
// the session (spec §3).
type CapabilityManifest struct {
	AgentID          string        `json:"agent_id"`
	Version          string        `json:"version"`
	AgentMetadata    map[string]string `json:"agent_metadata,omitempty"`
	TrustLevel       TrustLevel    `json:"trust_level"`
	Reversibility    Reversibility `json:"reversibility"`
	UndoWindowSeconds int          `json:"undo_window_seconds"`
	SLALatencyMS     int           `json:"sla_latency_ms"`
	Retention        Retention     `json:"retention"`
	StorageLocation  string        `json:"storage_location,omitempty"`
	HumanReview      bool          `json:"human_review"`
	Capabilities     []string      `json:"capabilities"`
	TrustScore       int           `json:"trust_score"`
}

// trustLevelBase implements spec §4.6's base score by trust_level.
var trustLevelBase = map[TrustLevel]int{
	TrustVerifiedPartner: 10,
	TrustTrusted:         8,
	TrustStandard:        5,
	TrustUnknown:         3,
	TrustUntrusted:       0,
}

const oneDaySeconds = 24 * 3600

// ComputeTrustScore derives the manifest's trust score deterministically,
// clamped to [0,10] (spec §4.6, invariant I5).
func ComputeTrustScore(m CapabilityManifest) int {
	score := trustLevelBase[m.TrustLevel]

	switch m.Reversibility {
	case ReversibilityNone:
		score -= 2
	case ReversibilityPartial:
		score -= 1
	}

	switch m.Retention {
	case RetentionPermanent:
		score -= 2
	case RetentionForever:
		score -= 3
	}

	if m.HumanReview {
		score -= 1
	}

	for _, c := range m.Capabilities {
		if c == "idempotent" {
			score++
			break
		}
	}

	if m.UndoWindowSeconds >= oneDaySeconds {
		score++
	}

	if score < 0 {
		score = 0
	}
	if score > 10 {
		score = 10
	}
	return score
}

// WithComputedScore returns a copy of m with TrustScore populated.
func WithComputedScore(m CapabilityManifest) CapabilityManifest {
	m.TrustScore = ComputeTrustScore(m)
	return m
}

// manifestClaims embeds a CapabilityManifest inside a signed JWT so
// manifests fetched cross-process carry tamper evidence beyond the bare
// JSON payload (SPEC_FULL.md enrichment; spec.md only requires JSON
// serialisation).
type manifestClaims struct {
	jwt.RegisteredClaims
	Manifest CapabilityManifest `json:"manifest"`
}

// SignManifest produces a compact JWT (HS256) carrying m, signed with key.
func SignManifest(m CapabilityManifest, key []byte) (string, error) {
	m = WithComputedScore(m)
	claims := manifestClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   m.AgentID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Manifest: m,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(key)
}

// VerifyManifest parses and validates a manifest JWT produced by
// SignManifest, returning the embedded manifest.
func VerifyManifest(tokenString string, key []byte) (CapabilityManifest, error) {
	claims := &manifestClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return key, nil
	})
	if err != nil {
		return CapabilityManifest{}, err
	}
	return claims.Manifest, nil
}
