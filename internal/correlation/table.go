// Package correlation holds the per-provider, in-process-only mapping from
// a monotonically assigned correlation id back to the message UUID that
// produced it (spec component C3), plus the atomic counter that assigns
// those ids (spec section 5).
package correlation

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-push-gateway/pkg/push"
)

// Table is one provider kind's correlation id -> message UUID map plus its
// id counter. The counter is a plain atomic uint32: it wraps on overflow,
// which is safe because the number of messages in flight at once is always
// far smaller than 2^32.
type Table struct {
	counter atomic.Uint32

	mu sync.Mutex
	m  map[uint32]uuid.UUID
}

func newTable() *Table {
	return &Table{m: make(map[uint32]uuid.UUID)}
}

// NextID allocates the next correlation id for this provider kind.
func (t *Table) NextID() uint32 {
	return t.counter.Add(1)
}

// Put publishes id -> message before the caller submits to the provider
// client, satisfying the happens-before requirement in spec section 5:
// insertion must complete before the submission that will produce id's
// completion.
func (t *Table) Put(id uint32, message uuid.UUID) {
	t.mu.Lock()
	t.m[id] = message
	t.mu.Unlock()
}

// PopLookup atomically looks up and removes id's entry. A second
// completion for the same id (or one that was never registered) returns
// ok=false, which the completion handler treats as a fatal invariant
// violation rather than guessing at state.
func (t *Table) PopLookup(id uint32) (uuid.UUID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	message, ok := t.m[id]
	if ok {
		delete(t.m, id)
	}
	return message, ok
}

// Tables is the set of per-Kind correlation Tables the dispatcher,
// completion handler and redelivery loop all share.
type Tables struct {
	apns *Table
	gcm  *Table
}

// NewTables builds an empty correlation-table set for both provider kinds.
func NewTables() *Tables {
	return &Tables{apns: newTable(), gcm: newTable()}
}

// For returns the Table for a given provider kind, or nil if kind is not
// one of {APNS, GCM}.
func (t *Tables) For(kind push.Kind) *Table {
	switch kind {
	case push.KindAPNS:
		return t.apns
	case push.KindGCM:
		return t.gcm
	default:
		return nil
	}
}
