package sync

import (
	"context"
	"fmt"
	"strconv"

	"github.com/treetopapp/treetop/internal/node"
	"github.com/treetopapp/treetop/internal/queue"
	"github.com/treetopapp/treetop/internal/remote"
)

// SyncPendingOperations drains the operation queue against the remote
// service. Invoked on every offline→online transition and available
// for manual sync.
//
// The batch is replayed in the queue's fixed precedence order: creates
// first (in enqueue order, which is parent-before-child), then updates,
// toggles, deletes. Each successful create records its temp→server id
// mapping; later operations in the same batch referencing an already
// resolved temp id are rewritten before being sent. After the batch,
// the accumulated mapping is applied once to the whole collection and
// the remaining queue, then a reconciling full sync runs.
//
// Failure policy: retryable failures leave the operation queued for
// the next drain; a definitive not-found response drops it. Losing
// connectivity mid-drain abandons the unsent remainder of the batch.
func (e *Engine) SyncPendingOperations(ctx context.Context) error {
	batch := e.queue.Drain()
	mapping := map[string]string{}
	failed := 0
	abandoned := false

	for _, op := range batch {
		if !e.online() {
			abandoned = true
			break
		}

		// Rewrite references resolved earlier in this batch. The
		// queued entry still carries the original id until the
		// batch-end Rewrite, so removals must match on that.
		queued := op
		if serverID, ok := mapping[op.NodeID]; ok {
			op.NodeID = serverID
		}

		var err error
		switch op.Type {
		case queue.OpCreate:
			err = e.replayCreate(ctx, op, mapping)
		case queue.OpUpdate:
			err = e.replayUpdate(ctx, op)
		case queue.OpToggle:
			err = e.replayToggle(ctx, op)
		case queue.OpDelete:
			err = e.replayDelete(ctx, op)
		default:
			e.logger.Printf("WARNING: dropping queue entry with unknown type %q", op.Type)
			e.queue.Remove(queued)
			continue
		}

		switch {
		case err == nil:
			e.queue.Remove(queued)
		case remote.Definitive(err):
			e.logger.Printf("dropping %s for %s: %v", op.Type, op.NodeID, err)
			e.queue.Remove(queued)
			e.setAdvisory(fmt.Sprintf("Skipped syncing %q; no longer exists on server", op.Meta["title"]))
		case remote.IsOffline(err):
			e.logger.Printf("connectivity lost mid-drain at %s for %s; remaining operations stay queued", op.Type, op.NodeID)
			abandoned = true
		default:
			e.logger.Printf("WARNING: %s for %s failed, will retry next drain: %v", op.Type, op.NodeID, err)
			failed++
		}
		if abandoned {
			break
		}
	}

	// One pass applies every id resolved in this batch to the
	// collection and to whatever the batch left queued.
	if len(mapping) > 0 {
		e.mu.Lock()
		e.nodes = Remap(e.nodes, mapping)
		e.mu.Unlock()
		e.queue.Rewrite(mapping)
		e.persistCache(ctx)
		e.publish(EventNodesChanged)
	}
	e.publish(EventQueueChanged)

	if abandoned {
		e.setAdvisory("Sync interrupted; remaining changes will retry when connected")
		return nil
	}
	if failed > 0 {
		e.setAdvisory(fmt.Sprintf("%d pending %s could not sync and will retry", failed, plural(failed, "change", "changes")))
	}

	if _, err := e.SyncAllData(ctx); err != nil && err != ErrNoCachedData {
		return fmt.Errorf("reconciling sync after drain failed: %w", err)
	}
	return nil
}

func (e *Engine) replayCreate(ctx context.Context, op queue.Op, mapping map[string]string) error {
	if op.Snapshot == nil {
		return fmt.Errorf("%w: create for %s has no snapshot", remote.ErrNotFound, op.NodeID)
	}
	snap := op.Snapshot.Clone()
	if serverID, ok := mapping[snap.ParentID]; ok {
		snap.ParentID = serverID
	}

	created, err := e.remote.CreateNode(ctx, snap)
	if err != nil {
		return err
	}
	// The local optimistic node keeps representing this create until
	// the batch-end remap rewrites its id; the reconciling sync then
	// adopts the server's canonical record.
	mapping[op.NodeID] = created.ID
	return nil
}

func (e *Engine) replayUpdate(ctx context.Context, op queue.Op) error {
	if op.Snapshot == nil {
		return fmt.Errorf("%w: update for %s has no snapshot", remote.ErrNotFound, op.NodeID)
	}
	_, err := e.remote.UpdateNode(ctx, op.NodeID, fullUpdate(*op.Snapshot))
	return err
}

func (e *Engine) replayToggle(ctx context.Context, op queue.Op) error {
	completed, _ := strconv.ParseBool(op.Meta["completed"])
	// The queued boolean is the target state; the server flips from
	// the opposite.
	_, err := e.remote.ToggleCompletion(ctx, op.NodeID, !completed)
	return err
}

func (e *Engine) replayDelete(ctx context.Context, op queue.Op) error {
	err := e.remote.DeleteNode(ctx, op.NodeID)
	if remote.Definitive(err) {
		// Already gone; the delete achieved its goal.
		return nil
	}
	return err
}

// fullUpdate converts an offline-rebuilt snapshot into a whole-node
// update for replay. Last-writer-wins at the node level.
func fullUpdate(n node.Node) node.Update {
	u := node.Update{
		Title:     &n.Title,
		ParentID:  &n.ParentID,
		SortOrder: &n.SortOrder,
	}
	if n.Tags != nil {
		tags := append([]string(nil), n.Tags...)
		u.Tags = &tags
	}
	if n.Task != nil {
		u.Status = &n.Task.Status
		u.Priority = &n.Task.Priority
		u.DueAt = &n.Task.DueAt
		u.StartAt = &n.Task.StartAt
		u.CompletedAt = &n.Task.CompletedAt
		u.Archived = &n.Task.Archived
	}
	if n.Note != nil {
		u.Body = &n.Note.Body
	}
	return u
}

func plural(n int, singular, pluralForm string) string {
	if n == 1 {
		return singular
	}
	return pluralForm
}
