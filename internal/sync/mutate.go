package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/treetopapp/treetop/internal/node"
	"github.com/treetopapp/treetop/internal/remote"
)

// CreateInput describes a node creation intent. Exactly one payload
// field may be set; a nil payload gets the type's default.
type CreateInput struct {
	Title    string
	Type     node.NodeType
	ParentID string

	Task        *node.TaskPayload
	Note        *node.NotePayload
	Template    *node.TemplatePayload
	SmartFolder *node.SmartFolderPayload

	Tags []string
}

// CreateNode creates a node, online or offline. It never blocks or
// fails purely due to connectivity: when the remote is unreachable the
// node is built locally under a temporary id, inserted in sibling sort
// order, and a create operation is queued for the next drain.
func (e *Engine) CreateNode(ctx context.Context, input CreateInput) (*node.Node, error) {
	if input.Title == "" {
		return nil, fmt.Errorf("title is required")
	}
	if !input.Type.Valid() {
		return nil, fmt.Errorf("unknown node type %q", input.Type)
	}

	e.mu.Lock()
	if input.ParentID != "" {
		idx := e.find(input.ParentID)
		if idx < 0 {
			e.mu.Unlock()
			return nil, fmt.Errorf("parent %s not found", input.ParentID)
		}
		if !e.nodes[idx].Type.CanHaveChildren() {
			parentType := e.nodes[idx].Type
			e.mu.Unlock()
			return nil, fmt.Errorf("%s nodes cannot have children", parentType)
		}
	}
	siblings := node.Children(e.nodes, input.ParentID)
	order := node.NextSortOrder(siblings)
	e.mu.Unlock()

	now := time.Now().UTC()
	n := node.Node{
		Title:     input.Title,
		Type:      input.Type,
		ParentID:  input.ParentID,
		SortOrder: order,
		CreatedAt: now,
		UpdatedAt: now,
		Tags:      append([]string(nil), input.Tags...),
	}
	applyCreatePayload(&n, input)

	if e.online() {
		n.ID = node.NewTempID()
		n.IDKind = node.IDTemporary
		created, err := e.remote.CreateNode(ctx, n)
		if err == nil {
			e.insert(*created)
			e.persistCache(ctx)
			e.publish(EventNodesChanged)
			return created, nil
		}
		if !remote.Retryable(err) {
			return nil, fmt.Errorf("failed to create node: %w", err)
		}
		e.logger.Printf("create failed (%v); falling back to offline path", err)
	} else {
		n.ID = node.NewTempID()
		n.IDKind = node.IDTemporary
	}

	// Offline path: optimistic insert + durable queue entry.
	e.insert(n)
	e.queue.EnqueueCreate(n)
	e.persistCache(ctx)
	e.publish(EventNodesChanged)
	e.publish(EventQueueChanged)
	e.setAdvisory(fmt.Sprintf("%q created offline; will sync when connected", n.Title))

	out := n.Clone()
	return &out, nil
}

// applyCreatePayload attaches the input payload, or the type default.
func applyCreatePayload(n *node.Node, input CreateInput) {
	switch input.Type {
	case node.TypeTask:
		if input.Task != nil {
			p := *input.Task
			n.Task = &p
		} else {
			n.Task = &node.TaskPayload{Status: node.StatusTodo, Priority: 2}
		}
		if n.Task.Status == "" {
			n.Task.Status = node.StatusTodo
		}
	case node.TypeNote:
		if input.Note != nil {
			p := *input.Note
			n.Note = &p
		} else {
			n.Note = &node.NotePayload{}
		}
	case node.TypeTemplate:
		if input.Template != nil {
			p := *input.Template
			n.Template = &p
		} else {
			n.Template = &node.TemplatePayload{}
		}
	case node.TypeSmartFolder:
		if input.SmartFolder != nil {
			p := *input.SmartFolder
			n.SmartFolder = &p
		} else {
			n.SmartFolder = &node.SmartFolderPayload{}
		}
	}
}

// insert adds n to the collection, replacing any node with the same id.
func (e *Engine) insert(n node.Node) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if idx := e.find(n.ID); idx >= 0 {
		e.nodes[idx] = n
		return
	}
	e.nodes = append(e.nodes, n)
}

// UpdateNode applies a partial update to the node with the given id.
// Returns nil without error if the node is unknown. Connectivity
// failures route to the offline path; the updated node is rebuilt
// locally and queued.
func (e *Engine) UpdateNode(ctx context.Context, id string, u node.Update) (*node.Node, error) {
	e.mu.Lock()
	idx := e.find(id)
	if idx < 0 {
		e.mu.Unlock()
		return nil, nil
	}
	current := e.nodes[idx].Clone()
	e.mu.Unlock()

	// A temp-id node does not exist server-side yet; its updates fold
	// into the pending create.
	if current.IDKind != node.IDTemporary && e.online() {
		updated, err := e.remote.UpdateNode(ctx, id, u)
		if err == nil {
			e.insert(*updated)
			e.persistCache(ctx)
			e.publish(EventNodesChanged)
			return updated, nil
		}
		if !remote.Retryable(err) {
			return nil, fmt.Errorf("failed to update node %s: %w", id, err)
		}
		e.logger.Printf("update of %s failed (%v); falling back to offline path", id, err)
	}

	rebuilt := current.Apply(u)
	e.insert(rebuilt)
	e.queue.EnqueueUpdate(rebuilt)
	e.persistCache(ctx)
	e.publish(EventNodesChanged)
	e.publish(EventQueueChanged)
	e.setAdvisory(fmt.Sprintf("%q updated offline; will sync when connected", rebuilt.Title))

	out := rebuilt.Clone()
	return &out, nil
}

// ToggleNodeCompletion flips a task between todo and done, setting or
// clearing its completion time. Returns nil and performs no mutation
// for non-task nodes.
func (e *Engine) ToggleNodeCompletion(ctx context.Context, n node.Node) (*node.Node, error) {
	if n.Type != node.TypeTask {
		return nil, nil
	}
	e.mu.Lock()
	idx := e.find(n.ID)
	if idx < 0 {
		e.mu.Unlock()
		return nil, nil
	}
	current := e.nodes[idx].Clone()
	e.mu.Unlock()

	if current.IDKind != node.IDTemporary && e.online() {
		toggled, err := e.remote.ToggleCompletion(ctx, current.ID, current.Completed())
		if err == nil {
			e.insert(*toggled)
			e.persistCache(ctx)
			e.publish(EventNodesChanged)
			return toggled, nil
		}
		if !remote.Retryable(err) {
			return nil, fmt.Errorf("failed to toggle node %s: %w", current.ID, err)
		}
		e.logger.Printf("toggle of %s failed (%v); falling back to offline path", current.ID, err)
	}

	toggled := current.Toggled(time.Now().UTC())
	e.insert(toggled)
	// Toggle is idempotent-replaceable: only the target boolean is
	// queued, and a later toggle supersedes it in place.
	e.queue.EnqueueToggle(toggled.ID, toggled.Completed())
	e.persistCache(ctx)
	e.publish(EventNodesChanged)
	e.publish(EventQueueChanged)
	e.setAdvisory(fmt.Sprintf("%q toggled offline; will sync when connected", toggled.Title))

	out := toggled.Clone()
	return &out, nil
}

// DeleteNode removes the node and its entire descendant subtree from
// the collection in one step, regardless of connectivity.
//
// Descendants that never reached the server (temp ids) have their
// queued entries purged instead of producing a network delete; the
// server never learned of them. Canonical descendants are deleted
// remotely (online) or enqueued (offline).
func (e *Engine) DeleteNode(ctx context.Context, n node.Node) error {
	e.mu.Lock()
	doomed := node.Descendants(e.nodes, n.ID)

	var removed []node.Node
	kept := e.nodes[:0]
	for _, existing := range e.nodes {
		if doomed[existing.ID] {
			removed = append(removed, existing)
		} else {
			kept = append(kept, existing)
		}
	}
	e.nodes = kept
	e.mu.Unlock()

	if len(removed) == 0 {
		return nil
	}

	online := e.online()
	offlineCount := 0
	for _, victim := range removed {
		kind := victim.IDKind
		if kind == "" {
			kind = node.KindOfID(victim.ID)
		}
		if kind == node.IDTemporary {
			e.queue.RemoveAllFor(victim.ID)
			continue
		}

		if online {
			err := e.remote.DeleteNode(ctx, victim.ID)
			switch {
			case err == nil, remote.Definitive(err):
				// Gone either way; a cascade on the server side may
				// have removed descendants before we got to them.
			default:
				// The node is already gone locally, so even a
				// non-retryable failure queues rather than leaving
				// the subtree half deleted.
				e.logger.Printf("delete of %s failed (%v); queueing", victim.ID, err)
				e.queue.EnqueueDelete(victim.ID, victim.Title)
				offlineCount++
			}
		} else {
			e.queue.EnqueueDelete(victim.ID, victim.Title)
			offlineCount++
		}
	}

	e.persistCache(ctx)
	e.publish(EventNodesChanged)
	e.publish(EventQueueChanged)
	if offlineCount > 0 {
		e.setAdvisory(fmt.Sprintf("%q deleted offline; will sync when connected", n.Title))
	}
	return nil
}
