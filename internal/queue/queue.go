// Package queue provides the durable log of mutations made while the
// remote service was unreachable.
//
// The queue is an ordered, deduplicated list of pending operations
// keyed by node id. Every mutation updates the in-memory list
// synchronously and then rewrites the backing JSONL file, so the
// in-memory state is always the source of the durable form and a
// restart reconstructs the same logical queue.
//
// Load is fail-open: a missing or unreadable file yields an empty
// queue, and a garbled individual entry is skipped with a warning
// rather than failing the whole load. Losing one corrupt entry beats
// losing every pending change.
package queue

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/treetopapp/treetop/internal/node"
)

// OpType identifies the kind of pending mutation.
type OpType string

const (
	OpCreate OpType = "create"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
	OpToggle OpType = "toggle_task"
)

// precedence is the fixed drain order. Deletes must not race ahead of
// creates for the same subtree, and structural creates should resolve
// before the updates that reference them.
func (t OpType) precedence() int {
	switch t {
	case OpCreate:
		return 0
	case OpUpdate:
		return 1
	case OpToggle:
		return 2
	case OpDelete:
		return 3
	default:
		return 4
	}
}

// Op is one durable pending mutation.
type Op struct {
	// Type is the kind of mutation.
	Type OpType `json:"type"`

	// NodeID is the id the operation targets, temporary or canonical.
	NodeID string `json:"node_id"`

	// Snapshot is the full node at enqueue time. Set for creates only.
	Snapshot *node.Node `json:"snapshot,omitempty"`

	// Meta holds small display/dedup fields: title, node_type, completed.
	Meta map[string]string `json:"meta,omitempty"`

	// EnqueuedAt orders same-type operations within a drain batch.
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue is the in-memory operation list with write-through persistence.
// Safe for concurrent use.
type Queue struct {
	mu     sync.Mutex
	ops    []Op
	path   string
	logger *log.Logger
}

// Open loads (or creates) the queue backed by the JSONL file at path.
//
// If logger is nil, a default logger writing to stderr is used.
func Open(path string, logger *log.Logger) (*Queue, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[queue] ", log.LstdFlags)
	}
	q := &Queue{path: path, logger: logger}
	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

// EnqueueCreate records a create for a node made while offline. The
// snapshot carries the full node so the replay can reconstruct it.
func (q *Queue) EnqueueCreate(n node.Node) {
	q.mu.Lock()
	defer q.mu.Unlock()

	snap := n.Clone()
	q.ops = append(q.ops, Op{
		Type:     OpCreate,
		NodeID:   n.ID,
		Snapshot: &snap,
		Meta: map[string]string{
			"title":     n.Title,
			"node_type": string(n.Type),
		},
		EnqueuedAt: time.Now().UTC(),
	})
	q.persistLocked()
}

// EnqueueUpdate records an update, superseding any previous update for
// the same node in place (latest wins, position preserved). If the
// node's create is still pending, its snapshot absorbs the update
// instead so the replay sends one create with the final state.
func (q *Queue) EnqueueUpdate(n node.Node) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.ops {
		if q.ops[i].NodeID != n.ID {
			continue
		}
		switch q.ops[i].Type {
		case OpCreate:
			snap := n.Clone()
			q.ops[i].Snapshot = &snap
			q.ops[i].Meta["title"] = n.Title
			q.persistLocked()
			return
		case OpUpdate:
			snap := n.Clone()
			q.ops[i].Snapshot = &snap
			q.ops[i].Meta["title"] = n.Title
			q.ops[i].EnqueuedAt = time.Now().UTC()
			q.persistLocked()
			return
		}
	}

	snap := n.Clone()
	q.ops = append(q.ops, Op{
		Type:     OpUpdate,
		NodeID:   n.ID,
		Snapshot: &snap,
		Meta: map[string]string{
			"title":     n.Title,
			"node_type": string(n.Type),
		},
		EnqueuedAt: time.Now().UTC(),
	})
	q.persistLocked()
}

// EnqueueDelete records a delete for a canonical-id node. Any pending
// update or toggle for the id is dropped; the delete makes them moot.
func (q *Queue) EnqueueDelete(nodeID, displayTitle string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.ops[:0]
	for _, op := range q.ops {
		if op.NodeID == nodeID && (op.Type == OpUpdate || op.Type == OpToggle) {
			continue
		}
		kept = append(kept, op)
	}
	q.ops = kept

	q.ops = append(q.ops, Op{
		Type:   OpDelete,
		NodeID: nodeID,
		Meta: map[string]string{
			"title": displayTitle,
		},
		EnqueuedAt: time.Now().UTC(),
	})
	q.persistLocked()
}

// EnqueueToggle records a task completion toggle. Toggles are
// idempotent-replaceable: a pending toggle for the same node is
// superseded in place rather than appended.
func (q *Queue) EnqueueToggle(nodeID string, completed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.ops {
		if q.ops[i].NodeID == nodeID && q.ops[i].Type == OpToggle {
			q.ops[i].Meta["completed"] = strconv.FormatBool(completed)
			q.ops[i].EnqueuedAt = time.Now().UTC()
			q.persistLocked()
			return
		}
	}

	q.ops = append(q.ops, Op{
		Type:   OpToggle,
		NodeID: nodeID,
		Meta: map[string]string{
			"completed": strconv.FormatBool(completed),
		},
		EnqueuedAt: time.Now().UTC(),
	})
	q.persistLocked()
}

// RemoveAllFor strips every entry for nodeID without producing a
// delete. Used when a temp-id node is deleted before ever syncing;
// the server never learned of it, so there is nothing to delete there.
func (q *Queue) RemoveAllFor(nodeID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.ops[:0]
	for _, op := range q.ops {
		if op.NodeID != nodeID {
			kept = append(kept, op)
		}
	}
	if len(kept) == len(q.ops) {
		return
	}
	q.ops = kept
	q.persistLocked()
}

// Remove drops one successfully replayed entry, matched by node id,
// type and enqueue time.
func (q *Queue) Remove(op Op) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.ops {
		if q.ops[i].NodeID == op.NodeID && q.ops[i].Type == op.Type &&
			q.ops[i].EnqueuedAt.Equal(op.EnqueuedAt) {
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
			q.persistLocked()
			return
		}
	}
}

// Drain returns a copy of the pending operations in replay order:
// creates, then updates, then toggles, then deletes, with enqueue time
// as the tie-break within a type.
func (q *Queue) Drain() []Op {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Op, len(q.ops))
	copy(out, q.ops)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Type.precedence() != out[j].Type.precedence() {
			return out[i].Type.precedence() < out[j].Type.precedence()
		}
		return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
	})
	return out
}

// Rewrite replaces temp ids with server ids across every entry: the
// target id and, for creates, the snapshot's id and parent id.
func (q *Queue) Rewrite(mapping map[string]string) {
	if len(mapping) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	changed := false
	for i := range q.ops {
		if serverID, ok := mapping[q.ops[i].NodeID]; ok {
			q.ops[i].NodeID = serverID
			changed = true
		}
		if snap := q.ops[i].Snapshot; snap != nil {
			rewritten := snap.Clone()
			if serverID, ok := mapping[rewritten.ID]; ok {
				rewritten.ID = serverID
				rewritten.IDKind = node.IDCanonical
				changed = true
			}
			if serverID, ok := mapping[rewritten.ParentID]; ok {
				rewritten.ParentID = serverID
				changed = true
			}
			q.ops[i].Snapshot = &rewritten
		}
	}
	if changed {
		q.persistLocked()
	}
}

// Clear empties the queue and truncates the durable log.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = nil
	q.persistLocked()
}

// Len returns the number of pending operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Pending returns a copy of the queue in enqueue order.
func (q *Queue) Pending() []Op {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Op, len(q.ops))
	copy(out, q.ops)
	return out
}

// NoPendingChanges is the Summary result for an empty queue.
const NoPendingChanges = "No pending changes"

// Summary returns a human-readable count of pending work, e.g.
// "2 new nodes, 1 update, 3 deletions, 1 task status change".
func (q *Queue) Summary() string {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ops) == 0 {
		return NoPendingChanges
	}

	counts := map[OpType]int{}
	for _, op := range q.ops {
		counts[op.Type]++
	}

	var parts []string
	if c := counts[OpCreate]; c > 0 {
		parts = append(parts, fmt.Sprintf("%d new %s", c, plural(c, "node", "nodes")))
	}
	if c := counts[OpUpdate]; c > 0 {
		parts = append(parts, fmt.Sprintf("%d %s", c, plural(c, "update", "updates")))
	}
	if c := counts[OpDelete]; c > 0 {
		parts = append(parts, fmt.Sprintf("%d %s", c, plural(c, "deletion", "deletions")))
	}
	if c := counts[OpToggle]; c > 0 {
		parts = append(parts, fmt.Sprintf("%d task status %s", c, plural(c, "change", "changes")))
	}
	return strings.Join(parts, ", ")
}

func plural(n int, singular, pluralForm string) string {
	if n == 1 {
		return singular
	}
	return pluralForm
}
