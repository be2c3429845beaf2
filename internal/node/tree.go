package node

import "sort"

// SortSiblings orders nodes by SortOrder ascending, CreatedAt as the
// tie-break, in place.
func SortSiblings(nodes []Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].SortOrder != nodes[j].SortOrder {
			return nodes[i].SortOrder < nodes[j].SortOrder
		}
		return nodes[i].CreatedAt.Before(nodes[j].CreatedAt)
	})
}

// NextSortOrder returns the sort order for a node appended after the
// given siblings, leaving the standard gap so later inserts between
// siblings don't force renumbering.
func NextSortOrder(siblings []Node) int {
	max := 0
	for _, s := range siblings {
		if s.SortOrder > max {
			max = s.SortOrder
		}
	}
	return max + SortGap
}

// Children returns the direct children of parentID within nodes, in
// sibling order. An empty parentID selects root-level nodes.
func Children(nodes []Node, parentID string) []Node {
	var out []Node
	for _, n := range nodes {
		if n.ParentID == parentID {
			out = append(out, n)
		}
	}
	SortSiblings(out)
	return out
}

// Descendants returns the ids of rootID and every transitive descendant
// of it within nodes.
func Descendants(nodes []Node, rootID string) map[string]bool {
	children := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		if n.ParentID != "" {
			children[n.ParentID] = append(children[n.ParentID], n.ID)
		}
	}

	set := map[string]bool{rootID: true}
	stack := []string{rootID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, child := range children[id] {
			if !set[child] {
				set[child] = true
				stack = append(stack, child)
			}
		}
	}
	return set
}
