// Package cache provides the durable on-disk snapshot of the node tree.
//
// The cache is the availability fallback: on a cold start while
// offline it is the only source of data, so correctness of the
// snapshot dominates everything else here. It is an embedded SQLite
// database (WAL mode) living in a cache directory that may also
// accumulate auxiliary files (exports, debug dumps, backups); the
// maintenance pass bounds the directory's age and size without ever
// touching the snapshot itself.
//
// Layout:
//   - Database file: <dir>/nodes.db (protected)
//   - Queue log:     <dir>/queue.jsonl (protected, owned by the queue)
//   - Anything else: evictable by age and size
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/treetopapp/treetop/internal/node"
)

// DBFileName is the snapshot database file inside the cache directory.
const DBFileName = "nodes.db"

// QueueFileName is the operation queue's log file. The cache does not
// write it, but maintenance must never evict it.
const QueueFileName = "queue.jsonl"

// Metadata describes the snapshot written alongside every full save.
type Metadata struct {
	NodeCount  int       `json:"node_count"`
	TagCount   int       `json:"tag_count"`
	RuleCount  int       `json:"rule_count"`
	LastSyncAt time.Time `json:"last_sync_at"`
	OwnerID    string    `json:"owner_id"`
}

// Store persists node snapshots and metadata under a cache directory.
type Store struct {
	conn   *sql.DB
	dir    string
	logger *log.Logger

	// AutoMaintenanceBytes triggers a maintenance pass after a save
	// when the directory exceeds this size. Zero disables it.
	AutoMaintenanceBytes int64
	// MaxAgeDays and MaxSizeMB parameterize the automatic pass.
	MaxAgeDays int
	MaxSizeMB  int
}

// Open creates or opens the cache under dir.
//
// The caller MUST call Close() when done to checkpoint the WAL.
//
// If logger is nil, a default logger writing to stderr is used.
func Open(dir string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[cache] ", log.LstdFlags)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	path := filepath.Join(dir, DBFileName)
	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping cache database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, dir: dir, logger: logger}

	// WAL mode for concurrent readers during writes
	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := s.initSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Dir returns the cache directory path.
func (s *Store) Dir() string {
	return s.dir
}

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("WARNING: failed to checkpoint WAL: %v", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close cache database: %w", err)
	}
	s.conn = nil
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		id_kind TEXT NOT NULL DEFAULT 'canonical',
		title TEXT NOT NULL,
		node_type TEXT NOT NULL,
		parent_id TEXT,
		sort_order INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		payload TEXT,  -- JSON for the type-specific payload
		tags TEXT      -- JSON array
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(parent_id);
	CREATE INDEX IF NOT EXISTS idx_nodes_type ON nodes(node_type);
	CREATE INDEX IF NOT EXISTS idx_nodes_order ON nodes(parent_id, sort_order);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize cache schema: %w", err)
	}
	return nil
}

// payloadJSON carries whichever payload the node type needs.
type payloadJSON struct {
	Task        *node.TaskPayload        `json:"task,omitempty"`
	Note        *node.NotePayload        `json:"note,omitempty"`
	Template    *node.TemplatePayload    `json:"template,omitempty"`
	SmartFolder *node.SmartFolderPayload `json:"smart_folder,omitempty"`
}

// SaveNodes replaces the full snapshot in one transaction.
//
// After a successful save, a maintenance pass runs automatically if the
// cache directory exceeds AutoMaintenanceBytes.
func (s *Store) SaveNodes(ctx context.Context, nodes []node.Node) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM nodes"); err != nil {
		return fmt.Errorf("failed to clear nodes: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO nodes (id, id_kind, title, node_type, parent_id, sort_order,
	                   created_at, updated_at, payload, tags)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range nodes {
		n := &nodes[i]

		payload, err := json.Marshal(payloadJSON{
			Task:        n.Task,
			Note:        n.Note,
			Template:    n.Template,
			SmartFolder: n.SmartFolder,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal payload for %s: %w", n.ID, err)
		}

		tagsJSON, err := json.Marshal(n.Tags)
		if err != nil {
			return fmt.Errorf("failed to marshal tags for %s: %w", n.ID, err)
		}

		kind := n.IDKind
		if kind == "" {
			kind = node.KindOfID(n.ID)
		}

		if _, err := stmt.ExecContext(ctx,
			n.ID,
			string(kind),
			n.Title,
			string(n.Type),
			nullIfEmpty(n.ParentID),
			n.SortOrder,
			n.CreatedAt.Format(time.RFC3339Nano),
			n.UpdatedAt.Format(time.RFC3339Nano),
			string(payload),
			string(tagsJSON),
		); err != nil {
			return fmt.Errorf("failed to insert node %s: %w", n.ID, err)
		}
	}

	// Mark that a snapshot exists so a cached-empty tree is
	// distinguishable from never-cached.
	if _, err := tx.ExecContext(ctx, `
	INSERT INTO meta (key, value) VALUES ('snapshot_saved_at', ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to record snapshot marker: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}

	s.maybeAutoMaintain()
	return nil
}

// LoadNodes returns the last-saved snapshot, or a nil slice with a nil
// error if nothing was ever saved. Callers must treat nil as "never
// cached", not as an empty tree.
func (s *Store) LoadNodes(ctx context.Context) ([]node.Node, error) {
	var marker string
	err := s.conn.QueryRowContext(ctx,
		"SELECT value FROM meta WHERE key = 'snapshot_saved_at'").Scan(&marker)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot marker: %w", err)
	}

	rows, err := s.conn.QueryContext(ctx, `
	SELECT id, id_kind, title, node_type, parent_id, sort_order,
	       created_at, updated_at, payload, tags
	FROM nodes
	ORDER BY parent_id, sort_order, created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	nodes := []node.Node{}
	for rows.Next() {
		var n node.Node
		var kind, typ, createdAt, updatedAt string
		var parentID sql.NullString
		var payload, tagsJSON sql.NullString

		if err := rows.Scan(&n.ID, &kind, &n.Title, &typ, &parentID, &n.SortOrder,
			&createdAt, &updatedAt, &payload, &tagsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}

		n.IDKind = node.IDKind(kind)
		n.Type = node.NodeType(typ)
		if parentID.Valid {
			n.ParentID = parentID.String
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			n.CreatedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			n.UpdatedAt = t
		}

		if payload.Valid && payload.String != "" && payload.String != "{}" {
			var p payloadJSON
			if err := json.Unmarshal([]byte(payload.String), &p); err != nil {
				// One bad row degrades that row, not the whole load.
				s.logger.Printf("WARNING: skipping node %s with corrupt payload: %v", n.ID, err)
				continue
			}
			n.Task = p.Task
			n.Note = p.Note
			n.Template = p.Template
			n.SmartFolder = p.SmartFolder
		}

		if tagsJSON.Valid && tagsJSON.String != "" && tagsJSON.String != "null" {
			if err := json.Unmarshal([]byte(tagsJSON.String), &n.Tags); err != nil {
				s.logger.Printf("WARNING: dropping corrupt tags for node %s: %v", n.ID, err)
				n.Tags = nil
			}
		}

		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nodes: %w", err)
	}

	return nodes, nil
}

// SaveMetadata writes the snapshot metadata.
func (s *Store) SaveMetadata(ctx context.Context, m Metadata) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if _, err := s.conn.ExecContext(ctx, `
	INSERT INTO meta (key, value) VALUES ('metadata', ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, string(data)); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	return nil
}

// LoadMetadata returns the snapshot metadata, or nil if never saved.
func (s *Store) LoadMetadata(ctx context.Context) (*Metadata, error) {
	var data string
	err := s.conn.QueryRowContext(ctx,
		"SELECT value FROM meta WHERE key = 'metadata'").Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query metadata: %w", err)
	}

	var m Metadata
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return &m, nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
