// Package sync provides the orchestrator at the center of the treetop
// offline engine.
//
// The Engine is the single owner of the authoritative in-memory node
// collection. Every mutation goes through it: online, the mutation is
// sent to the remote service and the canonical result stored; offline,
// the mutation is applied optimistically to the local collection and
// recorded in the durable operation queue. When connectivity returns,
// the engine drains the queue in dependency order, rewrites temporary
// ids to server ids, and performs a reconciling full sync.
//
// Error handling follows the availability-first policy: connectivity
// and server-unavailable failures never surface as hard errors from a
// mutation; they route the mutation into the offline path and set a
// user-visible advisory message instead.
package sync

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/treetopapp/treetop/internal/cache"
	"github.com/treetopapp/treetop/internal/netmon"
	"github.com/treetopapp/treetop/internal/node"
	"github.com/treetopapp/treetop/internal/queue"
	"github.com/treetopapp/treetop/internal/remote"
)

// ErrNoCachedData indicates a full sync failed and no cached snapshot
// exists to fall back on.
var ErrNoCachedData = errors.New("no cached data available")

// EventKind classifies engine events.
type EventKind string

const (
	// EventNodesChanged fires after any change to the node collection.
	EventNodesChanged EventKind = "nodes_changed"
	// EventAdvisory fires when the advisory message changes.
	EventAdvisory EventKind = "advisory"
	// EventSyncStarted and EventSyncCompleted bracket a full sync.
	EventSyncStarted   EventKind = "sync_started"
	EventSyncCompleted EventKind = "sync_completed"
	// EventQueueChanged fires when the pending-operation count moves.
	EventQueueChanged EventKind = "queue_changed"
	// EventConnectivity mirrors monitor transitions.
	EventConnectivity EventKind = "connectivity"
)

// Event is one observable engine state change.
type Event struct {
	Kind      EventKind `json:"kind"`
	Advisory  string    `json:"advisory,omitempty"`
	NodeCount int       `json:"node_count"`
	Pending   int       `json:"pending"`
	Connected bool      `json:"connected"`
	At        time.Time `json:"at"`
}

// Engine routes mutations between the remote service and the offline
// path, and owns the in-memory node collection.
type Engine struct {
	remote  remote.Service
	queue   *queue.Queue
	cache   *cache.Store
	monitor netmon.Monitor
	logger  *log.Logger
	ownerID string

	mu         sync.Mutex
	nodes      []node.Node
	advisory   string
	syncing    bool
	lastSyncAt time.Time

	subsMu      sync.Mutex
	subscribers map[int]chan Event
	nextSubID   int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Options configures optional engine behavior.
type Options struct {
	// Logger for engine activity (default: stderr logger).
	Logger *log.Logger

	// OwnerID is recorded in the cache metadata.
	OwnerID string
}

// New creates an engine over the given collaborators. The cache and
// queue must be open; the monitor may be nil for a purely manual
// engine (no automatic drain on reconnect).
func New(svc remote.Service, q *queue.Queue, store *cache.Store, monitor netmon.Monitor, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Engine{
		remote:  svc,
		queue:   q,
		cache:   store,
		monitor: monitor,
		logger:  logger,
		ownerID: opts.OwnerID,
	}
}

// Start subscribes the engine to connectivity transitions. On every
// offline→online transition a pending-operation drain is scheduled.
// Blocks nothing; call Stop to tear down.
func (e *Engine) Start(ctx context.Context) {
	if e.monitor == nil {
		return
	}
	ctx, e.cancel = context.WithCancel(ctx)
	changes := e.monitor.Subscribe()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case change, ok := <-changes:
				if !ok {
					return
				}
				e.publish(EventConnectivity)
				if change.Connected {
					e.logger.Printf("connectivity restored (%s); draining pending operations", change.Class)
					if err := e.SyncPendingOperations(ctx); err != nil {
						e.logger.Printf("WARNING: drain after reconnect failed: %v", err)
					}
				}
			}
		}
	}()
}

// Stop unsubscribes from the monitor and waits for background work.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// Snapshot returns a copy of the authoritative node collection.
func (e *Engine) Snapshot() []node.Node {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]node.Node, len(e.nodes))
	for i := range e.nodes {
		out[i] = e.nodes[i].Clone()
	}
	return out
}

// Advisory returns the last user-visible status message.
func (e *Engine) Advisory() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.advisory
}

// Syncing reports whether a full sync is in flight.
func (e *Engine) Syncing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncing
}

// LastSyncAt returns the completion time of the last successful full
// sync, zero if none has completed.
func (e *Engine) LastSyncAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSyncAt
}

// Events returns a channel receiving engine events and a func that
// unsubscribes and closes it. The channel is buffered; slow consumers
// drop events rather than blocking mutations.
func (e *Engine) Events() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	e.subsMu.Lock()
	if e.subscribers == nil {
		e.subscribers = make(map[int]chan Event)
	}
	id := e.nextSubID
	e.nextSubID++
	e.subscribers[id] = ch
	e.subsMu.Unlock()

	return ch, func() {
		e.subsMu.Lock()
		defer e.subsMu.Unlock()
		if _, ok := e.subscribers[id]; ok {
			delete(e.subscribers, id)
			close(ch)
		}
	}
}

// publish emits an event describing the current state.
func (e *Engine) publish(kind EventKind) {
	e.mu.Lock()
	event := Event{
		Kind:      kind,
		Advisory:  e.advisory,
		NodeCount: len(e.nodes),
		Pending:   e.queue.Len(),
		At:        time.Now(),
	}
	e.mu.Unlock()
	if e.monitor != nil {
		event.Connected = e.monitor.Connected()
	}

	// Sending under the lock keeps an unsubscribe from closing a
	// channel mid-send; sends never block.
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	for _, ch := range e.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// setAdvisory records a user-visible status message and publishes it.
func (e *Engine) setAdvisory(msg string) {
	e.mu.Lock()
	e.advisory = msg
	e.mu.Unlock()
	e.publish(EventAdvisory)
}

// online reports whether the engine should attempt remote calls.
// Without a monitor the engine assumes online and lets call failures
// route to the offline path.
func (e *Engine) online() bool {
	if e.monitor == nil {
		return true
	}
	return e.monitor.Connected()
}

// find returns the index of id in the collection, or -1. Callers hold e.mu.
func (e *Engine) find(id string) int {
	for i := range e.nodes {
		if e.nodes[i].ID == id {
			return i
		}
	}
	return -1
}

// persistCache writes the collection and metadata behind the in-memory
// update. A failed save is logged and advised, never rolled back; the
// in-memory collection stays the most current truth and the next
// successful save catches up.
func (e *Engine) persistCache(ctx context.Context) {
	e.mu.Lock()
	nodes := make([]node.Node, len(e.nodes))
	copy(nodes, e.nodes)
	lastSync := e.lastSyncAt
	e.mu.Unlock()

	if err := e.cache.SaveNodes(ctx, nodes); err != nil {
		e.logger.Printf("WARNING: failed to persist cache: %v", err)
		e.setAdvisory("Changes saved in memory; local cache write failed")
		return
	}

	tags := map[string]bool{}
	rules := 0
	for i := range nodes {
		for _, tag := range nodes[i].Tags {
			tags[tag] = true
		}
		if nodes[i].Type == node.TypeSmartFolder {
			rules++
		}
	}
	meta := cache.Metadata{
		NodeCount:  len(nodes),
		TagCount:   len(tags),
		RuleCount:  rules,
		LastSyncAt: lastSync,
		OwnerID:    e.ownerID,
	}
	if err := e.cache.SaveMetadata(ctx, meta); err != nil {
		e.logger.Printf("WARNING: failed to persist cache metadata: %v", err)
	}
}
