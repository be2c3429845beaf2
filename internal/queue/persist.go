package queue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// load reads the JSONL log at q.path into memory.
//
// A missing file is an empty queue. A file that cannot be read at all
// is treated as empty with a warning; availability wins over a stale
// log. Individual bad entries are skipped, not fatal.
func (q *Queue) load() error {
	data, err := os.ReadFile(q.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		q.logger.Printf("WARNING: cannot read queue log %s: %v (starting empty)", q.path, err)
		return nil
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	lineNum := 0
	for {
		var op Op
		err := decoder.Decode(&op)
		if errors.Is(err, io.EOF) {
			break
		}
		lineNum++
		if err != nil {
			// A garbled entry poisons the decoder's position, so skip
			// the remainder rather than looping on the same bytes.
			q.logger.Printf("WARNING: skipping corrupt queue entries from line %d: %v", lineNum, err)
			break
		}
		if op.Type.precedence() > 3 || op.NodeID == "" {
			q.logger.Printf("WARNING: skipping invalid queue entry at line %d (type=%q node=%q)", lineNum, op.Type, op.NodeID)
			continue
		}
		if op.Meta == nil {
			op.Meta = map[string]string{}
		}
		q.ops = append(q.ops, op)
	}

	return nil
}

// persistLocked rewrites the full queue to the durable log. Callers
// hold q.mu. Persistence failures are logged, never surfaced to the
// mutator; the in-memory queue stays authoritative and the next
// successful write catches up.
func (q *Queue) persistLocked() {
	if err := q.writeFile(); err != nil {
		q.logger.Printf("WARNING: failed to persist queue: %v", err)
	}
}

// writeFile serializes the queue as JSONL and swaps it into place
// atomically via a temp file.
func (q *Queue) writeFile() error {
	if err := os.MkdirAll(filepath.Dir(q.path), 0755); err != nil {
		return fmt.Errorf("failed to create queue directory: %w", err)
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, op := range q.ops {
		if err := encoder.Encode(op); err != nil {
			return fmt.Errorf("failed to encode op for %s: %w", op.NodeID, err)
		}
	}

	tmpPath := q.path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, q.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
