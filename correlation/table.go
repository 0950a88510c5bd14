// Package correlation tracks outbound requests until their reply arrives.
//
// Every outbound request gets an id from Allocate and is stored with Track. The matching
// reply removes the entry and runs exactly one handler:
//
//	Allocate ──→ Track ──→ pending ──┬─ ResolveCallback → OnSuccess
//	                                 ├─ ResolveError    → OnError(remote error)
//	                                 ├─ Expire          → OnError(local error)
//	                                 ├─ CloseAll        → OnError(local error)
//	                                 └─ Cancel          → no handler
//
// A reply whose id is not pending is an orphan: the Resolve methods report it by returning false.
package correlation

import (
	"errors"
	"sort"
	"sync"
	"time"

	"bridge-rpc/message"
)

var (
	ErrNotAllocated   = errors.New("correlation: id was not allocated by this table")
	ErrAlreadyTracked = errors.New("correlation: id is already tracked")
)

// Continuation holds the handlers run when a pending request completes.
// Either handler may be nil.
type Continuation struct {
	OnSuccess func(result any)
	OnError   func(err error)
}

// Pending describes one outstanding request.
type Pending struct {
	ID      message.ID
	Method  string
	Args    []any
	Created time.Time

	cont Continuation
}

// Table is the set of outstanding requests of one runtime. It is safe for
// concurrent use; handlers always run after the entry is removed and with no
// lock held, so they may issue new requests.
type Table struct {
	mu       sync.Mutex
	next     int64                   // Last allocated id; ids start at 1
	reserved map[message.ID]struct{} // Allocated but not yet tracked
	pending  map[message.ID]*Pending // Tracked, awaiting a reply
	now      func() time.Time
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		reserved: make(map[message.ID]struct{}),
		pending:  make(map[message.ID]*Pending),
		now:      time.Now,
	}
}

// Allocate reserves a fresh id. Ids increase monotonically and are never
// handed out twice by the same table.
func (t *Table) Allocate() message.ID {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.next++
	id := message.NumberID(t.next)
	t.reserved[id] = struct{}{}
	return id
}

// Track records a pending request under an id obtained from Allocate.
func (t *Table) Track(id message.ID, method string, args []any, cont Continuation) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.pending[id]; ok {
		return ErrAlreadyTracked
	}
	if _, ok := t.reserved[id]; !ok {
		return ErrNotAllocated
	}
	delete(t.reserved, id)
	t.pending[id] = &Pending{
		ID:      id,
		Method:  method,
		Args:    args,
		Created: t.now(),
		cont:    cont,
	}
	return nil
}

// Release drops a reserved id that will never be tracked.
func (t *Table) Release(id message.ID) {
	t.mu.Lock()
	delete(t.reserved, id)
	t.mu.Unlock()
}

// take removes and returns the pending entry for id. Atomic with respect to id:
// of all concurrent callers, at most one gets the entry.
func (t *Table) take(id message.ID) (*Pending, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	return p, ok
}

// ResolveCallback completes id successfully. It returns false when id is not
// pending, in which case result is an orphaned reply.
func (t *Table) ResolveCallback(id message.ID, result any) bool {
	p, ok := t.take(id)
	if !ok {
		return false
	}
	if p.cont.OnSuccess != nil {
		p.cont.OnSuccess(result)
	}
	return true
}

// ResolveError completes id with the remote side's error. Same orphan
// semantics as ResolveCallback.
func (t *Table) ResolveError(id message.ID, reason *message.Error) bool {
	p, ok := t.take(id)
	if !ok {
		return false
	}
	if reason == nil {
		reason = message.NewError(message.CodeInternalError, message.ReasonInternal)
	}
	p.fail(reason)
	return true
}

// Expire completes id with a locally produced error, typically a timeout.
func (t *Table) Expire(id message.ID, err error) bool {
	p, ok := t.take(id)
	if !ok {
		return false
	}
	p.fail(err)
	return true
}

// Cancel forgets id without running any handler. It returns true only the
// first time for a given pending id.
func (t *Table) Cancel(id message.ID) bool {
	_, ok := t.take(id)
	return ok
}

// CloseAll fails every pending request with err, in allocation order, and
// returns how many were failed.
func (t *Table) CloseAll(err error) int {
	t.mu.Lock()
	all := make([]*Pending, 0, len(t.pending))
	for _, p := range t.pending {
		all = append(all, p)
	}
	t.pending = make(map[message.ID]*Pending)
	t.reserved = make(map[message.ID]struct{})
	t.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		a, _ := all[i].ID.Number()
		b, _ := all[j].ID.Number()
		return a < b
	})
	for _, p := range all {
		p.fail(err)
	}
	return len(all)
}

// PendingCount returns the number of outstanding requests.
func (t *Table) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Lookup returns a copy of the pending entry for id.
func (t *Table) Lookup(id message.ID) (Pending, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.pending[id]
	if !ok {
		return Pending{}, false
	}
	return *p, true
}

// OlderThan returns the ids of requests tracked before cutoff.
func (t *Table) OlderThan(cutoff time.Time) []message.ID {
	t.mu.Lock()
	defer t.mu.Unlock()

	var ids []message.ID
	for id, p := range t.pending {
		if p.Created.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (p *Pending) fail(err error) {
	if p.cont.OnError != nil {
		p.cont.OnError(err)
	}
}
