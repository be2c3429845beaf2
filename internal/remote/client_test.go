package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/treetopapp/treetop/internal/node"
)

func serverNode(id, title string) node.Node {
	now := time.Now().UTC().Truncate(time.Second)
	return node.Node{
		ID:        id,
		Title:     title,
		Type:      node.TypeTask,
		CreatedAt: now,
		UpdatedAt: now,
		Task:      &node.TaskPayload{Status: node.StatusTodo, Priority: 2},
	}
}

func newTestClient(handler http.Handler) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	return NewClient(ClientConfig{BaseURL: srv.URL, Token: "test-token"}), srv
}

func TestCreateNodeSendsClientID(t *testing.T) {
	var gotAuth string
	var gotBody map[string]interface{}

	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/nodes" {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		json.NewEncoder(w).Encode(serverNode("srv-100", "Offline task"))
	}))
	defer srv.Close()

	n := serverNode("tmp-01ABC", "Offline task")
	n.IDKind = node.IDTemporary

	created, err := client.CreateNode(context.Background(), n)
	if err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}

	if gotAuth != "Bearer test-token" {
		t.Errorf("Expected bearer token, got %q", gotAuth)
	}
	if gotBody["client_id"] != "tmp-01ABC" {
		t.Errorf("Expected client_id with the temp id, got %v", gotBody["client_id"])
	}
	if id, _ := gotBody["id"].(string); id != "" {
		t.Errorf("Temp id must not be sent as the node id, got %q", id)
	}
	if created.ID != "srv-100" {
		t.Errorf("Expected server id, got %s", created.ID)
	}
	if created.IDKind != node.IDCanonical {
		t.Errorf("Created node should be canonical, got %s", created.IDKind)
	}
}

func TestUpdateNodeSendsOnlySetFields(t *testing.T) {
	var gotBody map[string]interface{}

	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/api/v1/nodes/srv-1" {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		json.NewEncoder(w).Encode(serverNode("srv-1", "Renamed"))
	}))
	defer srv.Close()

	title := "Renamed"
	var clearedDue *time.Time
	_, err := client.UpdateNode(context.Background(), "srv-1", node.Update{
		Title: &title,
		DueAt: &clearedDue,
	})
	if err != nil {
		t.Fatalf("UpdateNode failed: %v", err)
	}

	if gotBody["title"] != "Renamed" {
		t.Errorf("Expected title in body, got %v", gotBody["title"])
	}
	if due, present := gotBody["due_at"]; !present || due != nil {
		t.Errorf("Expected explicit null due_at, got %v (present=%v)", due, present)
	}
	if _, present := gotBody["priority"]; present {
		t.Error("Unset field leaked into the body")
	}
}

func TestToggleCompletionSendsTargetState(t *testing.T) {
	var gotBody map[string]bool

	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/nodes/srv-1/toggle" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		n := serverNode("srv-1", "Task")
		n.Task.Status = node.StatusDone
		json.NewEncoder(w).Encode(n)
	}))
	defer srv.Close()

	toggled, err := client.ToggleCompletion(context.Background(), "srv-1", false)
	if err != nil {
		t.Fatalf("ToggleCompletion failed: %v", err)
	}
	if !gotBody["completed"] {
		t.Error("Expected completed=true for a currently incomplete task")
	}
	if !toggled.Completed() {
		t.Error("Expected the toggled node back")
	}
}

func TestGetAllNodesMarksCanonical(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]node.Node{
			serverNode("srv-1", "One"),
			serverNode("srv-2", "Two"),
		})
	}))
	defer srv.Close()

	nodes, err := client.GetAllNodes(context.Background())
	if err != nil {
		t.Fatalf("GetAllNodes failed: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("Expected 2 nodes, got %d", len(nodes))
	}
	for _, n := range nodes {
		if n.IDKind != node.IDCanonical {
			t.Errorf("Node %s not marked canonical", n.ID)
		}
	}
}

func TestNotFoundIsDefinitive(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such node", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := client.GetNode(context.Background(), "srv-gone")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
	if !Definitive(err) {
		t.Error("404 should be definitive")
	}
	if Retryable(err) {
		t.Error("404 must not be retryable")
	}
}

func TestServerErrorIsRetryable(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := client.GetAllNodes(context.Background())
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Expected StatusError, got %v", err)
	}
	if statusErr.Code != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", statusErr.Code)
	}
	if !Retryable(err) {
		t.Error("5xx should be retryable")
	}
	if Definitive(err) {
		t.Error("5xx is not definitive")
	}
}

func TestClientErrorIsNotRetryable(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "validation failed", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := client.CreateNode(context.Background(), serverNode("tmp-x", "Bad"))
	if err == nil {
		t.Fatal("Expected error")
	}
	if Retryable(err) {
		t.Error("4xx must not be retryable")
	}
	if IsOffline(err) {
		t.Error("4xx is not an offline condition")
	}
}

func TestUnreachableServerIsOffline(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close() // port is now dead

	client := NewClient(ClientConfig{BaseURL: url, Timeout: 2 * time.Second})
	_, err := client.GetAllNodes(context.Background())
	if err == nil {
		t.Fatal("Expected error against a closed port")
	}
	if !IsOffline(err) {
		t.Errorf("Connection refused should classify as offline: %v", err)
	}
	if !Retryable(err) {
		t.Error("Offline errors are retryable")
	}
}

func TestGarbledResponseIsDecodeError(t *testing.T) {
	client, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>login page</html>"))
	}))
	defer srv.Close()

	_, err := client.GetAllNodes(context.Background())
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("Expected DecodeError, got %v", err)
	}
	if Retryable(err) {
		t.Error("Decode failures must not be retried")
	}
}
