package sync

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	stdsync "sync"
	"testing"

	"github.com/treetopapp/treetop/internal/cache"
	"github.com/treetopapp/treetop/internal/netmon"
	"github.com/treetopapp/treetop/internal/node"
	"github.com/treetopapp/treetop/internal/queue"
	"github.com/treetopapp/treetop/internal/remote"
)

// fakeRemote is an in-memory Service with switchable failure modes.
type fakeRemote struct {
	mu     stdsync.Mutex
	nodes  map[string]node.Node
	nextID int

	offline   bool  // every call fails as unreachable
	updateErr error // forced failure for UpdateNode
	deleteErr error // forced failure for DeleteNode
	// maxCreates caps successful creates before the fake goes
	// unreachable; -1 means unlimited.
	maxCreates int

	createCalls []node.Node
	updateCalls []string
	toggleCalls []string
	deleteCalls []string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{nodes: map[string]node.Node{}, maxCreates: -1}
}

func errUnreachable() error {
	return fmt.Errorf("%w: dial tcp 127.0.0.1:1: connection refused", remote.ErrUnreachable)
}

func errNotFound(id string) error {
	return fmt.Errorf("%w: node %s", remote.ErrNotFound, id)
}

func (f *fakeRemote) seed(nodes ...node.Node) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range nodes {
		f.nodes[n.ID] = n.Clone()
	}
}

func (f *fakeRemote) forget(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.nodes, id)
}

func (f *fakeRemote) setOffline(offline bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = offline
}

func (f *fakeRemote) get(id string) (node.Node, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[id]
	return n.Clone(), ok
}

func (f *fakeRemote) CreateNode(ctx context.Context, n node.Node) (*node.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return nil, errUnreachable()
	}
	if f.maxCreates >= 0 && len(f.createCalls) >= f.maxCreates {
		f.offline = true
		return nil, errUnreachable()
	}
	f.createCalls = append(f.createCalls, n.Clone())

	f.nextID++
	created := n.Clone()
	created.ID = fmt.Sprintf("srv-%d", f.nextID)
	created.IDKind = node.IDCanonical
	f.nodes[created.ID] = created
	out := created.Clone()
	return &out, nil
}

func (f *fakeRemote) UpdateNode(ctx context.Context, id string, u node.Update) (*node.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return nil, errUnreachable()
	}
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	current, ok := f.nodes[id]
	if !ok {
		return nil, errNotFound(id)
	}
	f.updateCalls = append(f.updateCalls, id)
	updated := current.Apply(u)
	f.nodes[id] = updated
	out := updated.Clone()
	return &out, nil
}

func (f *fakeRemote) DeleteNode(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return errUnreachable()
	}
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.nodes[id]; !ok {
		return errNotFound(id)
	}
	f.deleteCalls = append(f.deleteCalls, id)
	delete(f.nodes, id)
	return nil
}

func (f *fakeRemote) ToggleCompletion(ctx context.Context, id string, currentlyCompleted bool) (*node.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return nil, errUnreachable()
	}
	current, ok := f.nodes[id]
	if !ok {
		return nil, errNotFound(id)
	}
	f.toggleCalls = append(f.toggleCalls, id)

	toggled := current.Clone()
	if toggled.Task != nil {
		if currentlyCompleted {
			toggled.Task.Status = node.StatusTodo
			toggled.Task.CompletedAt = nil
		} else {
			toggled.Task.Status = node.StatusDone
		}
	}
	f.nodes[id] = toggled
	out := toggled.Clone()
	return &out, nil
}

func (f *fakeRemote) GetNode(ctx context.Context, id string) (*node.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return nil, errUnreachable()
	}
	n, ok := f.nodes[id]
	if !ok {
		return nil, errNotFound(id)
	}
	out := n.Clone()
	return &out, nil
}

func (f *fakeRemote) GetChildren(ctx context.Context, parentID string) ([]node.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return nil, errUnreachable()
	}
	var out []node.Node
	for _, n := range f.nodes {
		if n.ParentID == parentID {
			out = append(out, n.Clone())
		}
	}
	return out, nil
}

func (f *fakeRemote) GetAllNodes(ctx context.Context) ([]node.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return nil, errUnreachable()
	}
	out := []node.Node{}
	for _, n := range f.nodes {
		out = append(out, n.Clone())
	}
	return out, nil
}

// harness wires an engine over a fake remote, a real cache and queue in
// a temp dir, and a monitor driven directly through SetState.
type harness struct {
	engine  *Engine
	remote  *fakeRemote
	queue   *queue.Queue
	store   *cache.Store
	monitor *netmon.Prober
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	logger := log.New(io.Discard, "", 0)

	store, err := cache.Open(dir, logger)
	if err != nil {
		t.Fatalf("cache open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	q, err := queue.Open(filepath.Join(dir, cache.QueueFileName), logger)
	if err != nil {
		t.Fatalf("queue open failed: %v", err)
	}

	fake := newFakeRemote()
	monitor := netmon.NewProber(netmon.ProberConfig{Addr: "127.0.0.1:1", Logger: logger})

	return &harness{
		engine:  New(fake, q, store, monitor, Options{Logger: logger, OwnerID: "user-1"}),
		remote:  fake,
		queue:   q,
		store:   store,
		monitor: monitor,
	}
}

func (h *harness) goOnline() {
	h.remote.setOffline(false)
	h.monitor.SetState(true, netmon.ClassWiFi)
}

func (h *harness) goOffline() {
	h.remote.setOffline(true)
	h.monitor.SetState(false, netmon.ClassUnavailable)
}

func (h *harness) findNode(t *testing.T, title string) node.Node {
	t.Helper()
	for _, n := range h.engine.Snapshot() {
		if n.Title == title {
			return n
		}
	}
	t.Fatalf("node %q not in collection", title)
	return node.Node{}
}
