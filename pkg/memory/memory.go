// Package memory implements the Memory Guard (K5): integrity-checked,
// injection-screened agent memory storage (spec §4.5).
package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/agentgovernor/kernel/pkg/primitives"
)

// MemoryEntry records one piece of persisted agent memory (spec §3).
type MemoryEntry struct {
	ContentRef       string
	Source           string
	WrittenAt        time.Time
	ContentHash      string
	IntegrityVerified bool
}

// MemoryTampered is raised when a read's recomputed hash disagrees with
// the stored ContentHash.
type MemoryTampered struct {
	ContentRef string
}

func (e *MemoryTampered) Error() string {
	return fmt.Sprintf("memory entry %q failed integrity check", e.ContentRef)
}

// Alert is produced by the write-path screen or a batch scan when a
// detector fires.
type Alert struct {
	ContentRef string
	Detector   string
	Severity   primitives.Severity
}

// Guard is the K5 Memory Guard: a per-agent store with a write-path
// injection/unicode screen and a read-path integrity check.
type Guard struct {
	fs   afero.Fs
	root string
	mu   sync.Mutex
}

// New constructs a Guard rooted at root on fs (layout:
// <root>/<agent_id>/*.entry, spec §6).
func New(fs afero.Fs, root string) *Guard {
	return &Guard{fs: fs, root: root}
}

// ErrRejected is returned when the write-path screen finds a CRITICAL
// violation; the write never reaches storage (fail-closed, spec §4.5).
type ErrRejected struct {
	Alerts []Alert
}

func (e *ErrRejected) Error() string {
	return fmt.Sprintf("memory write rejected: %d critical finding(s)", len(e.Alerts))
}

// Write screens content, then persists it iff no CRITICAL alert fired.
// Alerts of WARN severity or above (short of CRITICAL, which rejects the
// write) are returned alongside a successful write ("allow with alert");
// alerts below WARN are not returned.
func (g *Guard) Write(agentID, contentRef, source, content string) (MemoryEntry, []Alert, error) {
	alerts := Screen(contentRef, content)

	for _, a := range alerts {
		if a.Severity >= primitives.SeverityCritical {
			return MemoryEntry{}, alerts, &ErrRejected{Alerts: alerts}
		}
	}

	hash := sha256.Sum256([]byte(content))
	entry := MemoryEntry{
		ContentRef:        contentRef,
		Source:            source,
		WrittenAt:         time.Now().UTC(),
		ContentHash:       hex.EncodeToString(hash[:]),
		IntegrityVerified: true,
	}

	if err := g.persist(agentID, entry, content); err != nil {
		return MemoryEntry{}, alerts, err
	}

	var surfaced []Alert
	for _, a := range alerts {
		if a.Severity >= primitives.SeverityWarn {
			surfaced = append(surfaced, a)
		}
	}
	return entry, surfaced, nil
}

func (g *Guard) persist(agentID string, entry MemoryEntry, content string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	dir := fmt.Sprintf("%s/%s", g.root, agentID)
	if err := g.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("memory: create agent dir: %w", err)
	}
	path := fmt.Sprintf("%s/%s.entry", dir, entry.ContentRef)
	body := fmt.Sprintf("content_hash: %s\nwritten_at: %s\nsource: %s\n---\n%s",
		entry.ContentHash, entry.WrittenAt.Format(time.RFC3339Nano), entry.Source, content)
	return afero.WriteFile(g.fs, path, []byte(body), 0o644)
}

// Read loads content for contentRef and verifies its hash against what was
// stored at write time. A mismatch returns *MemoryTampered; the caller
// (typically the Policy Engine) must DENY the current action on this error.
func (g *Guard) Read(agentID, contentRef string) (string, MemoryEntry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	path := fmt.Sprintf("%s/%s/%s.entry", g.root, agentID, contentRef)
	raw, err := afero.ReadFile(g.fs, path)
	if err != nil {
		return "", MemoryEntry{}, fmt.Errorf("memory: read %q: %w", contentRef, err)
	}

	storedHash, writtenAt, source, content, err := parseEntry(string(raw))
	if err != nil {
		return "", MemoryEntry{}, err
	}

	sum := sha256.Sum256([]byte(content))
	recomputed := hex.EncodeToString(sum[:])

	entry := MemoryEntry{ContentRef: contentRef, Source: source, WrittenAt: writtenAt, ContentHash: storedHash}
	if recomputed != storedHash {
		entry.IntegrityVerified = false
		return content, entry, &MemoryTampered{ContentRef: contentRef}
	}
	entry.IntegrityVerified = true
	return content, entry, nil
}

func parseEntry(raw string) (hash string, writtenAt time.Time, source string, content string, err error) {
	const sep = "\n---\n"
	idx := strings.Index(raw, sep)
	if idx < 0 {
		return "", time.Time{}, "", "", fmt.Errorf("memory: malformed entry")
	}
	header, body := raw[:idx], raw[idx+len(sep):]

	for _, line := range strings.Split(header, "\n") {
		switch {
		case strings.HasPrefix(line, "content_hash: "):
			hash = strings.TrimPrefix(line, "content_hash: ")
		case strings.HasPrefix(line, "written_at: "):
			writtenAt, _ = time.Parse(time.RFC3339Nano, strings.TrimPrefix(line, "written_at: "))
		case strings.HasPrefix(line, "source: "):
			source = strings.TrimPrefix(line, "source: ")
		}
	}
	return hash, writtenAt, source, body, nil
}

// BatchScan independently scans every stored entry for agentID and
// returns an alert set; it never mutates state (spec §4.5).
func (g *Guard) BatchScan(agentID string) ([]Alert, error) {
	dir := fmt.Sprintf("%s/%s", g.root, agentID)
	infos, err := afero.ReadDir(g.fs, dir)
	if err != nil {
		return nil, nil
	}

	var alerts []Alert
	for _, info := range infos {
		raw, err := afero.ReadFile(g.fs, dir+"/"+info.Name())
		if err != nil {
			continue
		}
		_, _, _, content, err := parseEntry(string(raw))
		if err != nil {
			continue
		}
		alerts = append(alerts, Screen(info.Name(), content)...)
	}
	return alerts, nil
}
