package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/treetopapp/treetop/internal/node"
)

// Client is the HTTP implementation of Service.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// ClientConfig configures the HTTP client.
type ClientConfig struct {
	// BaseURL is the server root, e.g. "https://api.treetop.app".
	BaseURL string

	// Token is the bearer token attached to every request.
	Token string

	// Timeout bounds each call (default: 15s).
	Timeout time.Duration
}

// NewClient creates an HTTP client for the treetop API.
func NewClient(config ClientConfig) *Client {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		token:   config.Token,
		http:    &http.Client{Timeout: timeout},
	}
}

// CreateNode implements Service.CreateNode.
func (c *Client) CreateNode(ctx context.Context, n node.Node) (*node.Node, error) {
	// The server assigns the id; the client's temp id travels in a
	// separate field so the server can echo it for correlation.
	body := struct {
		node.Node
		ClientID string `json:"client_id,omitempty"`
	}{Node: n}
	if n.IDKind == node.IDTemporary {
		body.ClientID = n.ID
		body.Node.ID = ""
		body.Node.IDKind = ""
	}

	var out node.Node
	if err := c.do(ctx, http.MethodPost, "/api/v1/nodes", body, &out); err != nil {
		return nil, err
	}
	out.IDKind = node.IDCanonical
	return &out, nil
}

// UpdateNode implements Service.UpdateNode.
func (c *Client) UpdateNode(ctx context.Context, id string, u node.Update) (*node.Node, error) {
	var out node.Node
	path := "/api/v1/nodes/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodPatch, path, updateBody(u), &out); err != nil {
		return nil, err
	}
	out.IDKind = node.IDCanonical
	return &out, nil
}

// DeleteNode implements Service.DeleteNode.
func (c *Client) DeleteNode(ctx context.Context, id string) error {
	path := "/api/v1/nodes/" + url.PathEscape(id)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// ToggleCompletion implements Service.ToggleCompletion.
func (c *Client) ToggleCompletion(ctx context.Context, id string, currentlyCompleted bool) (*node.Node, error) {
	body := map[string]bool{"completed": !currentlyCompleted}
	var out node.Node
	path := "/api/v1/nodes/" + url.PathEscape(id) + "/toggle"
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	out.IDKind = node.IDCanonical
	return &out, nil
}

// GetNode implements Service.GetNode.
func (c *Client) GetNode(ctx context.Context, id string) (*node.Node, error) {
	var out node.Node
	path := "/api/v1/nodes/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	out.IDKind = node.IDCanonical
	return &out, nil
}

// GetChildren implements Service.GetChildren.
func (c *Client) GetChildren(ctx context.Context, parentID string) ([]node.Node, error) {
	var out []node.Node
	path := "/api/v1/nodes/" + url.PathEscape(parentID) + "/children"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	markCanonical(out)
	return out, nil
}

// GetAllNodes implements Service.GetAllNodes.
func (c *Client) GetAllNodes(ctx context.Context) ([]node.Node, error) {
	var out []node.Node
	if err := c.do(ctx, http.MethodGet, "/api/v1/nodes", nil, &out); err != nil {
		return nil, err
	}
	markCanonical(out)
	return out, nil
}

func markCanonical(nodes []node.Node) {
	for i := range nodes {
		nodes[i].IDKind = node.IDCanonical
	}
}

// updateBody converts an Update into its wire form. Only fields the
// caller set are sent; a set-but-nil optional time clears the field
// server-side with an explicit null.
func updateBody(u node.Update) map[string]interface{} {
	body := map[string]interface{}{}
	if u.Title != nil {
		body["title"] = *u.Title
	}
	if u.ParentID != nil {
		body["parent_id"] = *u.ParentID
	}
	if u.SortOrder != nil {
		body["sort_order"] = *u.SortOrder
	}
	if u.Tags != nil {
		body["tags"] = *u.Tags
	}
	if u.Status != nil {
		body["status"] = *u.Status
	}
	if u.Priority != nil {
		body["priority"] = *u.Priority
	}
	if u.DueAt != nil {
		body["due_at"] = *u.DueAt
	}
	if u.StartAt != nil {
		body["start_at"] = *u.StartAt
	}
	if u.CompletedAt != nil {
		body["completed_at"] = *u.CompletedAt
	}
	if u.Archived != nil {
		body["archived"] = *u.Archived
	}
	if u.Body != nil {
		body["body"] = *u.Body
	}
	return body
}

// do runs one request/response cycle and maps failures onto the
// package's error taxonomy.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &DecodeError{Err: err}
	}
	return nil
}
