package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/treetopapp/treetop/internal/node"
	"github.com/treetopapp/treetop/internal/remote"
)

// RefreshNode fetches the node and its direct children from the remote
// and reconciles them in place.
//
// Any previously-known child that is not among the returned children
// is pruned together with its whole subtree: a partial refresh must
// never leave stale descendants whose parent no longer acknowledges
// them.
func (e *Engine) RefreshNode(ctx context.Context, nodeID string) error {
	fresh, err := e.remote.GetNode(ctx, nodeID)
	if err != nil {
		if remote.Definitive(err) {
			// The node is gone server-side; drop its local subtree.
			e.pruneSubtree(nodeID)
			e.persistCache(ctx)
			e.publish(EventNodesChanged)
			return nil
		}
		return fmt.Errorf("failed to refresh node %s: %w", nodeID, err)
	}

	children, err := e.remote.GetChildren(ctx, nodeID)
	if err != nil {
		return fmt.Errorf("failed to fetch children of %s: %w", nodeID, err)
	}

	newChildIDs := make(map[string]bool, len(children))
	for i := range children {
		newChildIDs[children[i].ID] = true
	}

	e.mu.Lock()
	// Old children the server no longer acknowledges lose their whole
	// subtree. Offline-created children (temp ids) are not orphans;
	// the server cannot know them yet.
	var stale []string
	for i := range e.nodes {
		n := &e.nodes[i]
		if n.ParentID != nodeID || newChildIDs[n.ID] {
			continue
		}
		kind := n.IDKind
		if kind == "" {
			kind = node.KindOfID(n.ID)
		}
		if kind != node.IDTemporary {
			stale = append(stale, n.ID)
		}
	}
	for _, id := range stale {
		doomed := node.Descendants(e.nodes, id)
		kept := e.nodes[:0]
		for _, n := range e.nodes {
			if !doomed[n.ID] {
				kept = append(kept, n)
			}
		}
		e.nodes = kept
	}
	e.mu.Unlock()

	e.insert(*fresh)
	for i := range children {
		e.insert(children[i])
	}

	e.persistCache(ctx)
	e.publish(EventNodesChanged)
	return nil
}

// pruneSubtree removes id and all its descendants from the collection.
func (e *Engine) pruneSubtree(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	doomed := node.Descendants(e.nodes, id)
	kept := e.nodes[:0]
	for _, n := range e.nodes {
		if !doomed[n.ID] {
			kept = append(kept, n)
		}
	}
	e.nodes = kept
}

// SyncAllData performs the full reconciling sync.
//
// On success the server's tree replaces the collection, with one
// exception each way: local nodes that never synced (temp ids) are
// preserved even if absent from the response, and an empty server
// response is never allowed to wipe a non-empty local or cached state.
//
// On failure (including plain offline) the durable cache is the
// fallback. Only when the cache has never been written does the call
// surface ErrNoCachedData.
func (e *Engine) SyncAllData(ctx context.Context) ([]node.Node, error) {
	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		return e.Snapshot(), nil
	}
	e.syncing = true
	e.mu.Unlock()
	e.publish(EventSyncStarted)

	defer func() {
		e.mu.Lock()
		e.syncing = false
		e.mu.Unlock()
		e.publish(EventSyncCompleted)
	}()

	serverNodes, err := e.remote.GetAllNodes(ctx)
	if err != nil {
		return e.fallbackToCache(ctx, err)
	}

	e.mu.Lock()
	var temps []node.Node
	for _, n := range e.nodes {
		kind := n.IDKind
		if kind == "" {
			kind = node.KindOfID(n.ID)
		}
		if kind == node.IDTemporary {
			temps = append(temps, n)
		}
	}
	localCount := len(e.nodes)
	e.mu.Unlock()

	if len(serverNodes) == 0 {
		// A transient server hiccup must not wipe local or cached data.
		if localCount > 0 {
			e.logger.Printf("WARNING: server returned an empty tree against %d local nodes; keeping local state", localCount)
			e.setAdvisory("Server returned no data; keeping local copy")
			return e.Snapshot(), nil
		}
		if cached, err := e.cache.LoadNodes(ctx); err == nil && len(cached) > 0 {
			e.logger.Printf("WARNING: server returned an empty tree against %d cached nodes; keeping cache", len(cached))
			e.mu.Lock()
			e.nodes = cached
			e.mu.Unlock()
			e.publish(EventNodesChanged)
			e.setAdvisory("Server returned no data; keeping cached copy")
			return e.Snapshot(), nil
		}
	}

	merged := make([]node.Node, 0, len(serverNodes)+len(temps))
	merged = append(merged, serverNodes...)
	merged = append(merged, temps...)

	e.mu.Lock()
	e.nodes = merged
	e.lastSyncAt = time.Now().UTC()
	e.mu.Unlock()

	e.persistCache(ctx)
	e.publish(EventNodesChanged)
	e.setAdvisory("")
	return e.Snapshot(), nil
}

// fallbackToCache serves the last durable snapshot when the remote is
// unavailable. An in-memory collection that already has data wins over
// the cache, since it may hold newer optimistic mutations.
func (e *Engine) fallbackToCache(ctx context.Context, cause error) ([]node.Node, error) {
	e.logger.Printf("full sync unavailable (%v); serving cached data", cause)

	e.mu.Lock()
	haveMemory := len(e.nodes) > 0
	e.mu.Unlock()

	if haveMemory {
		e.setAdvisory("Offline: showing local data")
		return e.Snapshot(), nil
	}

	cached, err := e.cache.LoadNodes(ctx)
	if err != nil {
		e.logger.Printf("WARNING: cache load failed: %v", err)
		cached = nil
	}
	if cached == nil {
		e.setAdvisory("Offline and no cached data available")
		return nil, ErrNoCachedData
	}

	e.mu.Lock()
	e.nodes = cached
	e.mu.Unlock()
	e.publish(EventNodesChanged)
	e.setAdvisory("Offline: showing cached data")
	return e.Snapshot(), nil
}

// LoadFromCache primes the in-memory collection from the durable cache
// without touching the network. Used on cold start and by the daemon
// when another process rewrites the snapshot.
func (e *Engine) LoadFromCache(ctx context.Context) error {
	cached, err := e.cache.LoadNodes(ctx)
	if err != nil {
		return fmt.Errorf("failed to load cache: %w", err)
	}
	if cached == nil {
		return nil
	}
	e.mu.Lock()
	e.nodes = cached
	e.mu.Unlock()
	e.publish(EventNodesChanged)
	return nil
}
