package sync

import (
	"reflect"
	"testing"
	"time"

	"github.com/treetopapp/treetop/internal/node"
)

func TestRemap(t *testing.T) {
	now := time.Now().UTC()
	nodes := []node.Node{
		{ID: "tmp-a", IDKind: node.IDTemporary, Title: "Parent", Type: node.TypeFolder, CreatedAt: now, UpdatedAt: now},
		{ID: "tmp-b", IDKind: node.IDTemporary, Title: "Child", Type: node.TypeFolder, ParentID: "tmp-a", CreatedAt: now, UpdatedAt: now},
		{ID: "srv-9", IDKind: node.IDCanonical, Title: "Bystander", Type: node.TypeFolder, CreatedAt: now, UpdatedAt: now},
	}
	mapping := map[string]string{"tmp-a": "srv-1", "tmp-b": "srv-2"}

	out := Remap(nodes, mapping)

	if out[0].ID != "srv-1" || out[0].IDKind != node.IDCanonical {
		t.Errorf("Parent not remapped: %s/%s", out[0].ID, out[0].IDKind)
	}
	if out[1].ID != "srv-2" || out[1].ParentID != "srv-1" {
		t.Errorf("Child not remapped: id=%s parent=%s", out[1].ID, out[1].ParentID)
	}
	if out[2].ID != "srv-9" {
		t.Errorf("Unmapped node changed: %s", out[2].ID)
	}
	// Identity change, not an edit.
	if !out[0].UpdatedAt.Equal(now) {
		t.Error("Remap bumped UpdatedAt")
	}
	// Pure: input untouched.
	if nodes[0].ID != "tmp-a" {
		t.Error("Remap modified its input")
	}
}

func TestRemapIdempotent(t *testing.T) {
	now := time.Now().UTC()
	nodes := []node.Node{
		{ID: "tmp-a", IDKind: node.IDTemporary, Title: "A", Type: node.TypeFolder, CreatedAt: now, UpdatedAt: now},
		{ID: "tmp-b", IDKind: node.IDTemporary, Title: "B", Type: node.TypeFolder, ParentID: "tmp-a", CreatedAt: now, UpdatedAt: now},
	}
	mapping := map[string]string{"tmp-a": "srv-1", "tmp-b": "srv-2"}

	once := Remap(nodes, mapping)
	twice := Remap(once, mapping)

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("Remap is not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}
