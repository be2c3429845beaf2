package node

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// IDKind distinguishes client-generated temporary ids from server-issued
// canonical ids. The kind is carried explicitly on the node rather than
// inferred from the id's shape.
type IDKind string

const (
	// IDCanonical marks a server-assigned id, authoritative once synced.
	IDCanonical IDKind = "canonical"
	// IDTemporary marks a client-generated id for a node created while
	// offline, pending replacement by a server id.
	IDTemporary IDKind = "temporary"
)

// TempIDPrefix prefixes every client-generated id. KindOfID falls back
// to it when loading records written before the explicit kind tag.
const TempIDPrefix = "tmp-"

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewTempID returns a fresh temporary node id.
//
// Ids are ULIDs, so ids minted later sort after ids minted earlier.
// The drain path relies on this: creates are replayed in enqueue order,
// and a child's temp id can never precede its parent's.
func NewTempID() string {
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	entropyMu.Unlock()
	return TempIDPrefix + id.String()
}

// KindOfID classifies an id by its shape. Prefer the node's IDKind tag;
// this exists for records persisted without one.
func KindOfID(id string) IDKind {
	if strings.HasPrefix(id, TempIDPrefix) {
		return IDTemporary
	}
	return IDCanonical
}
