package sync

import "github.com/treetopapp/treetop/internal/node"

// Remap rewrites client-temporary ids to their server-assigned ids
// across a node collection: every matching ID and every matching
// ParentID is replaced, ids outside the map pass through unchanged.
//
// Pure function: the input slice is not modified. Idempotent: the
// rewritten ids are canonical and therefore never keys of the map, so
// applying the same mapping twice equals applying it once.
func Remap(nodes []node.Node, mapping map[string]string) []node.Node {
	if len(mapping) == 0 {
		out := make([]node.Node, len(nodes))
		copy(out, nodes)
		return out
	}

	out := make([]node.Node, 0, len(nodes))
	for _, n := range nodes {
		// Ids are rewritten in place without touching UpdatedAt; a
		// remap is an identity change, not an edit.
		n = n.Clone()
		if serverID, ok := mapping[n.ID]; ok {
			n.ID = serverID
			n.IDKind = node.IDCanonical
		}
		if serverID, ok := mapping[n.ParentID]; ok {
			n.ParentID = serverID
		}
		out = append(out, n)
	}
	return out
}
