// Package dashboard bridges engine events onto the WebSocket server.
package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/treetopapp/treetop/internal/node"
	syncengine "github.com/treetopapp/treetop/internal/sync"
)

// Handler subscribes to engine events and forwards them as dashboard
// messages.
type Handler struct {
	server *Server
	engine *syncengine.Engine
	logger *log.Logger
}

// NewHandler creates an event handler connected to a dashboard server.
func NewHandler(server *Server, engine *syncengine.Engine, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		server: server,
		engine: engine,
		logger: logger,
	}
}

// Run consumes engine events until ctx is cancelled. Call on its own
// goroutine.
func (h *Handler) Run(ctx context.Context) {
	events, unsubscribe := h.engine.Events()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			h.dispatch(event)
		}
	}
}

func (h *Handler) dispatch(event syncengine.Event) {
	var msgType MessageType
	switch event.Kind {
	case syncengine.EventNodesChanged:
		msgType = MessageTypeNodeUpdate
	case syncengine.EventQueueChanged:
		msgType = MessageTypeQueueUpdate
	case syncengine.EventSyncStarted:
		msgType = MessageTypeSyncStarted
	case syncengine.EventSyncCompleted:
		msgType = MessageTypeSyncComplete
	case syncengine.EventConnectivity:
		msgType = MessageTypeConnectivity
	case syncengine.EventAdvisory:
		msgType = MessageTypeAdvisory
	default:
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Printf("Failed to marshal event: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      msgType,
		Timestamp: event.At,
		Data:      data,
	})

	// Collection changes also refresh the stats panel
	if event.Kind == syncengine.EventNodesChanged {
		h.broadcastStats(event)
	}
}

func (h *Handler) broadcastStats(event syncengine.Event) {
	nodes := h.engine.Snapshot()
	byType := make(map[string]int)
	for i := range nodes {
		byType[string(nodes[i].Type)]++
	}

	tasks, done := countTasks(nodes)
	stats := StatsData{
		Total:      len(nodes),
		ByType:     byType,
		Tasks:      tasks,
		TasksDone:  done,
		Pending:    event.Pending,
		Connected:  event.Connected,
		LastSyncAt: h.engine.LastSyncAt(),
	}

	data, err := json.Marshal(stats)
	if err != nil {
		h.logger.Printf("Failed to marshal stats: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeStats,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// countTasks returns how many task nodes are complete.
func countTasks(nodes []node.Node) (total, done int) {
	for i := range nodes {
		if nodes[i].Type == node.TypeTask {
			total++
			if nodes[i].Completed() {
				done++
			}
		}
	}
	return total, done
}
