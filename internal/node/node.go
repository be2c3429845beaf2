// Package node provides the data model for the treetop node tree.
//
// A Node is the unit of the hierarchy: folders, tasks, notes, templates
// and smart folders, linked through ParentID. Nodes are treated as
// immutable values; every field change goes through a With* method or
// Apply, which returns a rebuilt copy. This keeps partial-update bugs
// out of the sync engine, which holds many aliases to the same node.
package node

import (
	"fmt"
	"time"
)

// NodeType identifies which payload a node carries.
type NodeType string

const (
	TypeFolder      NodeType = "folder"
	TypeTask        NodeType = "task"
	TypeNote        NodeType = "note"
	TypeTemplate    NodeType = "template"
	TypeSmartFolder NodeType = "smart_folder"
)

// Valid reports whether t is one of the known node types.
func (t NodeType) Valid() bool {
	switch t {
	case TypeFolder, TypeTask, TypeNote, TypeTemplate, TypeSmartFolder:
		return true
	}
	return false
}

// CanHaveChildren reports whether nodes of this type may be a ParentID
// target. Notes and smart folders are always leaves.
func (t NodeType) CanHaveChildren() bool {
	switch t {
	case TypeNote, TypeSmartFolder:
		return false
	}
	return true
}

// Task status values.
const (
	StatusTodo = "todo"
	StatusDone = "done"
)

// TaskPayload holds the task-specific fields of a node.
type TaskPayload struct {
	Status      string     `json:"status"`
	Priority    int        `json:"priority"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	StartAt     *time.Time `json:"start_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Archived    bool       `json:"archived,omitempty"`
}

// NotePayload holds the note body.
type NotePayload struct {
	Body string `json:"body"`
}

// TemplatePayload holds template-specific fields.
type TemplatePayload struct {
	TargetType NodeType `json:"target_type,omitempty"`
	Body       string   `json:"body,omitempty"`
}

// SmartFolderPayload holds the saved filter backing a smart folder.
type SmartFolderPayload struct {
	RuleID string `json:"rule_id,omitempty"`
	Query  string `json:"query,omitempty"`
}

// SortGap is the spacing left between sibling sort orders so a node can
// be inserted between two siblings without renumbering the whole run.
const SortGap = 100

// Node represents one entry in the tree.
//
// The structure is CRDT-friendly: flat fields with last-write-wins
// semantics, timestamps for conflict resolution, and exactly one
// type-specific payload populated per Type.
type Node struct {
	// ===== Identification =====
	ID     string `json:"id"`
	IDKind IDKind `json:"id_kind,omitempty"`

	// ===== Content =====
	Title string   `json:"title"`
	Type  NodeType `json:"node_type"`

	// ===== Hierarchy =====
	ParentID  string `json:"parent_id,omitempty"` // empty means root-level
	SortOrder int    `json:"sort_order"`

	// ===== Timestamps (conflict resolution) =====
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// ===== Type-specific payload (exactly one per Type) =====
	Task        *TaskPayload        `json:"task,omitempty"`
	Note        *NotePayload        `json:"note,omitempty"`
	Template    *TemplatePayload    `json:"template,omitempty"`
	SmartFolder *SmartFolderPayload `json:"smart_folder,omitempty"`

	// ===== Classification =====
	Tags []string `json:"tags,omitempty"`
}

// Validate checks that the node has valid field values and that its
// payload matches its type.
func (n *Node) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("id is required")
	}
	if n.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(n.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(n.Title))
	}
	if !n.Type.Valid() {
		return fmt.Errorf("unknown node type %q", n.Type)
	}
	if n.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if n.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}

	payloads := 0
	if n.Task != nil {
		payloads++
	}
	if n.Note != nil {
		payloads++
	}
	if n.Template != nil {
		payloads++
	}
	if n.SmartFolder != nil {
		payloads++
	}

	switch n.Type {
	case TypeFolder:
		if payloads != 0 {
			return fmt.Errorf("folder must not carry a payload")
		}
	case TypeTask:
		if n.Task == nil || payloads != 1 {
			return fmt.Errorf("task node requires exactly the task payload")
		}
		if n.Task.Status != StatusTodo && n.Task.Status != StatusDone {
			return fmt.Errorf("unknown task status %q", n.Task.Status)
		}
	case TypeNote:
		if n.Note == nil || payloads != 1 {
			return fmt.Errorf("note node requires exactly the note payload")
		}
	case TypeTemplate:
		if n.Template == nil || payloads != 1 {
			return fmt.Errorf("template node requires exactly the template payload")
		}
	case TypeSmartFolder:
		if n.SmartFolder == nil || payloads != 1 {
			return fmt.Errorf("smart folder node requires exactly the smart folder payload")
		}
	}

	return nil
}

// Completed reports whether the node is a task marked done.
func (n *Node) Completed() bool {
	return n.Type == TypeTask && n.Task != nil && n.Task.Status == StatusDone
}

// Clone returns a deep copy of the node. The sync engine hands copies
// to observers so a caller can never mutate the authoritative state.
func (n Node) Clone() Node {
	out := n
	if n.Task != nil {
		t := *n.Task
		out.Task = &t
	}
	if n.Note != nil {
		p := *n.Note
		out.Note = &p
	}
	if n.Template != nil {
		p := *n.Template
		out.Template = &p
	}
	if n.SmartFolder != nil {
		p := *n.SmartFolder
		out.SmartFolder = &p
	}
	if n.Tags != nil {
		out.Tags = append([]string(nil), n.Tags...)
	}
	return out
}
