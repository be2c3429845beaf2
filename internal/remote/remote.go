// Package remote defines the boundary to the treetop server.
//
// The server is modeled purely as a request/response contract: every
// call either returns a canonical record or a typed failure. The sync
// engine routes on the failure class; unreachable and 5xx/timeout
// failures send a mutation down the offline path, definitive 4xx
// failures drop the operation.
package remote

import (
	"context"

	"github.com/treetopapp/treetop/internal/node"
)

// Service is the per-call contract the sync engine consumes.
type Service interface {
	// CreateNode sends a node to the server and returns the canonical
	// record, including the server-assigned id.
	CreateNode(ctx context.Context, n node.Node) (*node.Node, error)

	// UpdateNode applies a partial update and returns the new record.
	UpdateNode(ctx context.Context, id string, u node.Update) (*node.Node, error)

	// DeleteNode removes a node (and its server-side descendants).
	DeleteNode(ctx context.Context, id string) error

	// ToggleCompletion flips a task's completion state.
	ToggleCompletion(ctx context.Context, id string, currentlyCompleted bool) (*node.Node, error)

	// GetNode fetches a single node.
	GetNode(ctx context.Context, id string) (*node.Node, error)

	// GetChildren fetches the direct children of parentID.
	GetChildren(ctx context.Context, parentID string) ([]node.Node, error)

	// GetAllNodes fetches the complete tree.
	GetAllNodes(ctx context.Context) ([]node.Node, error)
}
