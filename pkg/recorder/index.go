package recorder

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Index is the Flight Recorder's query index, mapping (agent_id, seq) to
// the segment file and byte offset that holds the corresponding entry, so
// bounded-time retrieval of "the last N entries for an agent" never
// requires scanning every segment. Backed by modernc.org/sqlite (pure Go,
// no cgo) rather than a flat file, per SPEC_FULL.md.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (creating if necessary) the sqlite-backed index at path.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("recorder: open index: %w", err)
	}
	schema := `
CREATE TABLE IF NOT EXISTS audit_index (
	agent_id    TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	segment     TEXT NOT NULL,
	byte_offset INTEGER NOT NULL,
	PRIMARY KEY (agent_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_audit_index_agent_seq ON audit_index(agent_id, seq DESC);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("recorder: init index schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Put records where entry (agentID, seq) physically lives.
func (idx *Index) Put(agentID string, seq uint64, segment string, offset int64) error {
	_, err := idx.db.Exec(
		`INSERT OR REPLACE INTO audit_index(agent_id, seq, segment, byte_offset) VALUES (?, ?, ?, ?)`,
		agentID, seq, segment, offset,
	)
	return err
}

// RenameSegment repoints every index row still pointing at oldPath to
// newPath, since the Recorder records entries against the in-progress
// segment's path and only learns the sealed start-end name once it rotates.
func (idx *Index) RenameSegment(oldPath, newPath string) error {
	_, err := idx.db.Exec(
		`UPDATE audit_index SET segment = ? WHERE segment = ?`,
		newPath, oldPath,
	)
	return err
}

// Location is where one AuditEntry lives on disk.
type Location struct {
	Segment string
	Offset  int64
	Seq     uint64
}

// LastN returns the locations of the most recent n entries for agentID,
// newest first.
func (idx *Index) LastN(agentID string, n int) ([]Location, error) {
	rows, err := idx.db.Query(
		`SELECT seq, segment, byte_offset FROM audit_index WHERE agent_id = ? ORDER BY seq DESC LIMIT ?`,
		agentID, n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Location
	for rows.Next() {
		var loc Location
		if err := rows.Scan(&loc.Seq, &loc.Segment, &loc.Offset); err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}
