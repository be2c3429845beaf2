// Package dashboard provides a real-time WebSocket view of the sync
// engine.
//
// The server broadcasts node collection changes, queue movement,
// connectivity transitions and sync progress to connected WebSocket
// clients, so an external UI (or a second device on the LAN) can
// observe the engine without polling.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeNodeUpdate indicates the node collection changed
	MessageTypeNodeUpdate MessageType = "node_update"

	// MessageTypeQueueUpdate indicates pending operations changed
	MessageTypeQueueUpdate MessageType = "queue_update"

	// MessageTypeSyncStarted and MessageTypeSyncComplete bracket a full sync
	MessageTypeSyncStarted  MessageType = "sync_started"
	MessageTypeSyncComplete MessageType = "sync_complete"

	// MessageTypeConnectivity indicates a network transition
	MessageTypeConnectivity MessageType = "connectivity"

	// MessageTypeAdvisory carries the engine's user-visible status line
	MessageTypeAdvisory MessageType = "advisory"

	// MessageTypeStats indicates updated tree statistics
	MessageTypeStats MessageType = "stats"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// StatsData contains node tree statistics
type StatsData struct {
	Total      int            `json:"total"`
	ByType     map[string]int `json:"by_type"`
	Tasks      int            `json:"tasks"`
	TasksDone  int            `json:"tasks_done"`
	Pending    int            `json:"pending"`
	Connected  bool           `json:"connected"`
	LastSyncAt time.Time      `json:"last_sync_at,omitempty"`
}

const writeTimeout = 5 * time.Second

// Server accepts WebSocket clients and fans broadcast messages out to
// them. It remembers the most recent stats message so a client that
// connects between engine events still gets a current snapshot.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	mu        sync.RWMutex
	clients   map[*websocket.Conn]struct{}
	lastStats *Message

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds server configuration
type Config struct {
	// Port to listen on (default: 8080)
	Port int

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// NewServer creates a dashboard server. A nil config listens on 8080
// and logs to the default logger.
func NewServer(config *Config) *Server {
	port := 8080
	logger := log.Default()
	if config != nil {
		port = config.Port
		if config.Logger != nil {
			logger = config.Logger
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      fmt.Sprintf(":%d", port),
		clients:   make(map[*websocket.Conn]struct{}),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
}

// Start begins listening and serving WebSocket clients.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(2)
	go s.fanOut()
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop disconnects every client and shuts the server down.
func (s *Server) Stop() error {
	s.logger.Println("Stopping dashboard server")

	s.cancel()

	s.mu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()

	s.logger.Println("Dashboard server stopped")
	return nil
}

// Broadcast queues a message for every connected client. Messages are
// dropped rather than blocking the caller when the channel is full.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// fanOut delivers queued broadcasts to every client.
func (s *Server) fanOut() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			if msg.Type == MessageTypeStats {
				s.rememberStats(msg)
			}

			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			// Snapshot the client set first so a slow client cannot
			// hold the lock against new connections.
			s.mu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.mu.RUnlock()

			for _, conn := range clients {
				if err := s.write(conn, data); err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) write(conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *Server) rememberStats(msg Message) {
	s.mu.Lock()
	s.lastStats = &msg
	s.mu.Unlock()
}

// welcome returns the message a freshly connected client receives:
// the last stats broadcast, or an empty stats snapshot when the
// engine has not reported yet.
func (s *Server) welcome() Message {
	s.mu.RLock()
	last := s.lastStats
	s.mu.RUnlock()
	if last != nil {
		return *last
	}

	data, _ := json.Marshal(StatsData{ByType: map[string]int{}})
	return Message{
		Type:      MessageTypeStats,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// handleWebSocket upgrades the connection, greets the client with the
// current stats and keeps it registered until it goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"}, // Allow all origins for development
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.mu.Lock()
	s.clients[conn] = struct{}{}
	clientCount := len(s.clients)
	s.mu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	if data, err := json.Marshal(s.welcome()); err == nil {
		_ = s.write(conn, data)
	}

	go s.readLoop(conn)
}

// readLoop keeps the WebSocket connection alive and handles client disconnects
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
		// Clients only listen; their messages are ignored
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	_, exists := s.clients[conn]
	delete(s.clients, conn)
	clientCount := len(s.clients)
	s.mu.Unlock()

	if exists {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	clientCount := len(s.clients)
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": clientCount,
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Treetop Dashboard</title>
</head>
<body>
    <h1>Treetop Dashboard Server</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Health check: <a href="/health">/health</a></p>
    <p>Connect a WebSocket client to receive real-time sync updates.</p>
</body>
</html>`, r.Host)
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
