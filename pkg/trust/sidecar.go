package trust

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/agentgovernor/kernel/pkg/breaker"
	"github.com/agentgovernor/kernel/pkg/signal"
	"github.com/agentgovernor/kernel/pkg/value"
)

// Warning is one machine-readable advisory attached to a 449 response
// (spec §6).
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Policy  string `json:"policy"`
}

// warningResponse is the body of a 449 Retry With response (spec §6).
type warningResponse struct {
	Warnings        []Warning `json:"warnings"`
	RequiresOverride bool     `json:"requires_override"`
}

// Backend is the protected agent the sidecar fronts.
type Backend interface {
	Forward(traceID string, body []byte) (status int, respBody []byte, err error)
}

// AuditSink is the minimal Flight Recorder surface the sidecar writes to.
type AuditSink interface {
	RecordProxyEvent(traceID, decision, reason string, latencyMS int64, quarantined bool)
}

type nullAuditSink struct{}

func (nullAuditSink) RecordProxyEvent(string, string, string, int64, bool) {}

// QuarantineRecord holds details of a session that proceeded past a
// warning via explicit override.
type QuarantineRecord struct {
	TraceID   string
	Warnings  []Warning
	Timestamp time.Time
}

// Sidecar is the K6 reverse proxy in front of a protected backend.
type Sidecar struct {
	manifest   CapabilityManifest
	signingKey []byte
	backend    Backend
	breaker    *breaker.Breaker
	audit      AuditSink
	signals    *signal.Dispatcher

	mu          sync.RWMutex
	traces      map[string][]AuditEntryLite
	quarantines map[string]QuarantineRecord
}

// AuditEntryLite is the trace-slice shape served by GET /trace/{trace_id}.
type AuditEntryLite struct {
	TraceID   string    `json:"trace_id"`
	Decision  string    `json:"decision"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Option configures a Sidecar.
type Option func(*Sidecar)

func WithAuditSink(a AuditSink) Option {
	return func(s *Sidecar) { s.audit = a }
}

func WithBreaker(b *breaker.Breaker) Option {
	return func(s *Sidecar) { s.breaker = b }
}

// WithSignals wires the K2 dispatcher the sidecar raises SIGBUDGET on when
// a forwarded request exceeds the backend's deadline (spec §4.6).
func WithSignals(d *signal.Dispatcher) Option {
	return func(s *Sidecar) { s.signals = d }
}

// NewSidecar constructs a Sidecar for manifest, signed with signingKey and
// forwarding accepted requests to backend.
func NewSidecar(manifest CapabilityManifest, signingKey []byte, backend Backend, opts ...Option) *Sidecar {
	s := &Sidecar{
		manifest:    WithComputedScore(manifest),
		signingKey:  signingKey,
		backend:     backend,
		audit:       nullAuditSink{},
		traces:      make(map[string][]AuditEntryLite),
		quarantines: make(map[string]QuarantineRecord),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.breaker == nil {
		s.breaker = breaker.New("backend", breaker.Config{FailureThreshold: 5, ResetTimeout: 30 * time.Second, HalfOpenMaxCalls: 1}, nil)
	}
	return s
}

// Router builds the gorilla/mux router exposing the five K6 endpoints.
func (s *Sidecar) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/.well-known/agent-manifest", s.handleManifest).Methods(http.MethodGet)
	r.HandleFunc("/proxy", s.handleProxy).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/trace/{trace_id}", s.handleTrace).Methods(http.MethodGet)
	r.HandleFunc("/quarantine/{trace_id}", s.handleQuarantine).Methods(http.MethodGet)
	return r
}

func (s *Sidecar) handleManifest(w http.ResponseWriter, r *http.Request) {
	token, err := SignManifest(s.manifest, s.signingKey)
	if err != nil {
		http.Error(w, "manifest signing failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"manifest": s.manifest,
		"jwt":      token,
	})
}

func (s *Sidecar) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Sidecar) handleTrace(w http.ResponseWriter, r *http.Request) {
	traceID := mux.Vars(r)["trace_id"]
	s.mu.RLock()
	entries := s.traces[traceID]
	s.mu.RUnlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}

func (s *Sidecar) handleQuarantine(w http.ResponseWriter, r *http.Request) {
	traceID := mux.Vars(r)["trace_id"]
	s.mu.RLock()
	rec, ok := s.quarantines[traceID]
	s.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rec)
}

func newTraceID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// handleProxy implements the per-request pipeline of spec §4.6 steps 1-7.
func (s *Sidecar) handleProxy(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	traceID := r.Header.Get("X-Agent-Trace-ID")
	if traceID == "" {
		traceID = newTraceID()
	}
	override := r.Header.Get("X-User-Override") == "true"

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.respondError(w, traceID, http.StatusBadRequest, "malformed request body")
		return
	}

	var parsed map[string]interface{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &parsed); err != nil {
			s.record(traceID, "BLOCKED", "malformed JSON body", time.Since(start), false)
			s.respondError(w, traceID, http.StatusBadRequest, "malformed JSON body")
			return
		}
	}

	findings := screenPayload(body)

	if blocked, reason := s.hardBlock(findings); blocked {
		s.record(traceID, "BLOCKED", reason, time.Since(start), false)
		s.respondError(w, traceID, http.StatusForbidden, reason)
		return
	}

	warnings := s.warningsFor()
	quarantined := false
	if len(warnings) > 0 {
		if !override {
			s.respondWarnings(w, traceID, warnings)
			s.record(traceID, "WARNED", "warning rules fired without override", time.Since(start), false)
			return
		}
		quarantined = true
		s.mu.Lock()
		s.quarantines[traceID] = QuarantineRecord{TraceID: traceID, Warnings: warnings, Timestamp: time.Now()}
		s.mu.Unlock()
	}

	status, respBody, err := s.forward(r.Context(), traceID, body)
	latency := time.Since(start)

	if err != nil {
		s.record(traceID, "ERROR", err.Error(), latency, quarantined)
		if status >= 500 {
			// Backend 5xx: forwarded to the caller as-is, already recorded
			// as ERROR above (spec §4.6).
			w.Header().Set("X-Agent-Trace-ID", traceID)
			w.WriteHeader(status)
			_, _ = w.Write(respBody)
			return
		}
		s.writeCircuitError(w, traceID, err)
		return
	}

	w.Header().Set("X-Agent-Trace-ID", traceID)
	w.Header().Set("X-Agent-Trust-Score", fmt.Sprintf("%d", s.manifest.TrustScore))
	w.Header().Set("X-Agent-Latency-Ms", fmt.Sprintf("%d", latency.Milliseconds()))
	if quarantined {
		w.Header().Set("X-Agent-Quarantined", "true")
	}
	w.WriteHeader(status)
	_, _ = w.Write(respBody)

	s.record(traceID, "ALLOWED", "", latency, quarantined)
}

// payloadFindings summarises the sensitive-data detectors that fired on a
// proxied request body (spec §4.6 step 2).
type payloadFindings struct {
	hasCreditCard bool
	hasSSN        bool
}

func screenPayload(body []byte) payloadFindings {
	text := string(body)
	return payloadFindings{
		hasCreditCard: len(value.FindCreditCards(text)) > 0,
		hasSSN:        len(value.FindSSNs(text)) > 0,
	}
}

// hardBlock implements spec §4.6's non-negotiable rules: a credit card
// number flowing to a backend that retains data permanently, or an SSN
// flowing to any backend that isn't strictly ephemeral, is rejected
// outright regardless of override.
func (s *Sidecar) hardBlock(f payloadFindings) (bool, string) {
	if f.hasCreditCard && s.manifest.Retention == RetentionPermanent {
		return true, "credit card number rejected: backend retention is permanent"
	}
	if f.hasSSN && s.manifest.Retention != RetentionEphemeral {
		return true, "SSN rejected: backend retention is not ephemeral"
	}
	return false, ""
}

// warningsFor evaluates the soft rules of spec §4.6: conditions that do
// not block the request outright but require an explicit
// X-User-Override to proceed, surfaced as a 449 Retry With otherwise.
func (s *Sidecar) warningsFor() []Warning {
	var warnings []Warning

	if s.manifest.TrustScore < 7 {
		warnings = append(warnings, Warning{
			Code:    "low_trust_score",
			Message: fmt.Sprintf("backend trust score %d is below the 7 threshold", s.manifest.TrustScore),
			Policy:  "trust_score_floor",
		})
	}
	if s.manifest.Reversibility == ReversibilityNone {
		warnings = append(warnings, Warning{
			Code:    "irreversible_action",
			Message: "backend actions are not reversible",
			Policy:  "reversibility",
		})
	}
	if s.manifest.Retention == RetentionPermanent || s.manifest.Retention == RetentionForever {
		warnings = append(warnings, Warning{
			Code:    "long_retention",
			Message: fmt.Sprintf("backend retains data %q", string(s.manifest.Retention)),
			Policy:  "retention",
		})
	}
	if s.manifest.HumanReview {
		warnings = append(warnings, Warning{
			Code:    "human_review_required",
			Message: "backend requires human review before acting",
			Policy:  "human_review",
		})
	}

	return warnings
}

func (s *Sidecar) respondError(w http.ResponseWriter, traceID string, status int, reason string) {
	w.Header().Set("X-Agent-Trace-ID", traceID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": reason, "trace_id": traceID})
}

// respondWarnings writes the 449 Retry With response (spec §6).
func (s *Sidecar) respondWarnings(w http.ResponseWriter, traceID string, warnings []Warning) {
	w.Header().Set("X-Agent-Trace-ID", traceID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(449)
	_ = json.NewEncoder(w).Encode(warningResponse{Warnings: warnings, RequiresOverride: true})
}

// forward calls the backend through the circuit breaker so a flapping or
// downed backend trips the breaker rather than stacking up latency on
// every proxied request. A backend 5xx still trips the breaker but its
// status and body are returned alongside the error so the caller can
// forward them as-is (spec §4.6: "Backend 5xx -> forwarded to caller with
// a recorded ERROR"), rather than being swallowed into a generic failure.
func (s *Sidecar) forward(ctx context.Context, traceID string, body []byte) (int, []byte, error) {
	var status int
	var respBody []byte

	err := s.breaker.Wrap(ctx, func(ctx context.Context) error {
		st, rb, ferr := s.backend.Forward(traceID, body)
		if ferr != nil {
			return ferr
		}
		status, respBody = st, rb
		if st >= 500 {
			return fmt.Errorf("trust: backend returned status %d", st)
		}
		return nil
	})
	if err != nil {
		return status, respBody, err
	}
	return status, respBody, nil
}

// isBackendTimeout reports whether err is the backend missing its deadline
// rather than a hard failure - a context deadline or a net.Error with
// Timeout() set.
func isBackendTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// writeCircuitError writes the response for a forward failure that carried
// no usable backend status (breaker open, timeout, or transport error). A
// backend 5xx is handled by the caller directly, since its real status and
// body are forwarded rather than mapped to one of these.
func (s *Sidecar) writeCircuitError(w http.ResponseWriter, traceID string, err error) {
	var openErr *breaker.CircuitOpenError
	if errors.As(err, &openErr) {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(openErr.RetryAfter.Seconds())))
		http.Error(w, "backend circuit open", http.StatusServiceUnavailable)
		return
	}
	if isBackendTimeout(err) {
		if s.signals != nil {
			s.signals.Send(traceID, signal.Signal{Kind: signal.SIGBUDGET, Source: "trust", Payload: err.Error()})
		}
		http.Error(w, "backend timeout: "+err.Error(), http.StatusGatewayTimeout)
		return
	}
	http.Error(w, "backend error: "+err.Error(), http.StatusBadGateway)
}

func (s *Sidecar) record(traceID, decision, reason string, latency time.Duration, quarantined bool) {
	s.mu.Lock()
	s.traces[traceID] = append(s.traces[traceID], AuditEntryLite{
		TraceID:   traceID,
		Decision:  decision,
		Reason:    reason,
		Timestamp: time.Now(),
	})
	s.mu.Unlock()

	s.audit.RecordProxyEvent(traceID, decision, reason, latency.Milliseconds(), quarantined)
}
