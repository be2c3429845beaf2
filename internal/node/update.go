package node

import "time"

// Update describes a partial update to a node. Nil fields are left
// unchanged; non-nil fields replace the current value.
type Update struct {
	Title     *string
	ParentID  *string
	SortOrder *int
	Tags      *[]string

	// Task payload fields (ignored unless the node is a task)
	Status      *string
	Priority    *int
	DueAt       **time.Time
	StartAt     **time.Time
	CompletedAt **time.Time
	Archived    *bool

	// Note payload fields (ignored unless the node is a note)
	Body *string
}

// Apply returns a copy of the node with the update applied and
// UpdatedAt refreshed. The receiver is not modified.
func (n Node) Apply(u Update) Node {
	out := n.Clone()

	if u.Title != nil {
		out.Title = *u.Title
	}
	if u.ParentID != nil {
		out.ParentID = *u.ParentID
	}
	if u.SortOrder != nil {
		out.SortOrder = *u.SortOrder
	}
	if u.Tags != nil {
		out.Tags = append([]string(nil), (*u.Tags)...)
	}

	if out.Type == TypeTask && out.Task != nil {
		if u.Status != nil {
			out.Task.Status = *u.Status
		}
		if u.Priority != nil {
			out.Task.Priority = *u.Priority
		}
		if u.DueAt != nil {
			out.Task.DueAt = *u.DueAt
		}
		if u.StartAt != nil {
			out.Task.StartAt = *u.StartAt
		}
		if u.CompletedAt != nil {
			out.Task.CompletedAt = *u.CompletedAt
		}
		if u.Archived != nil {
			out.Task.Archived = *u.Archived
		}
	}

	if out.Type == TypeNote && out.Note != nil && u.Body != nil {
		out.Note.Body = *u.Body
	}

	out.UpdatedAt = time.Now().UTC()
	return out
}

// WithTitle returns a copy with a new title.
func (n Node) WithTitle(title string) Node {
	return n.Apply(Update{Title: &title})
}

// WithParent returns a copy reparented under parentID (empty for root).
func (n Node) WithParent(parentID string) Node {
	return n.Apply(Update{ParentID: &parentID})
}

// WithSortOrder returns a copy with a new sibling sort order.
func (n Node) WithSortOrder(order int) Node {
	return n.Apply(Update{SortOrder: &order})
}

// WithID returns a copy carrying a different id of the given kind.
// Used by the identity remapper when a server id replaces a temp id.
func (n Node) WithID(id string, kind IDKind) Node {
	out := n.Clone()
	out.ID = id
	out.IDKind = kind
	return out
}

// Toggled returns a copy with the task completion flipped, setting or
// clearing CompletedAt accordingly. Returns the node unchanged if it is
// not a task.
func (n Node) Toggled(now time.Time) Node {
	if n.Type != TypeTask || n.Task == nil {
		return n
	}
	out := n.Clone()
	if out.Task.Status == StatusDone {
		out.Task.Status = StatusTodo
		out.Task.CompletedAt = nil
	} else {
		out.Task.Status = StatusDone
		t := now
		out.Task.CompletedAt = &t
	}
	out.UpdatedAt = now
	return out
}
