package correlation

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bridge-rpc/message"
)

// recorder counts handler invocations for one pending request.
type recorder struct {
	mu        sync.Mutex
	successes []any
	failures  []error
}

func (r *recorder) cont() Continuation {
	return Continuation{
		OnSuccess: func(result any) {
			r.mu.Lock()
			r.successes = append(r.successes, result)
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.failures = append(r.failures, err)
			r.mu.Unlock()
		},
	}
}

func track(t *testing.T, tbl *Table, rec *recorder) message.ID {
	t.Helper()
	id := tbl.Allocate()
	require.NoError(t, tbl.Track(id, "m", nil, rec.cont()))
	return id
}

func TestAllocateIsUnique(t *testing.T) {
	tbl := NewTable()
	seen := map[message.ID]bool{}
	var last int64
	for i := 0; i < 1000; i++ {
		id := tbl.Allocate()
		require.False(t, seen[id], "id %s handed out twice", id)
		seen[id] = true

		n, ok := id.Number()
		require.True(t, ok)
		require.Greater(t, n, last)
		last = n
	}
}

func TestAllocateConcurrent(t *testing.T) {
	tbl := NewTable()
	var (
		mu   sync.Mutex
		seen = map[message.ID]bool{}
		wg   sync.WaitGroup
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := tbl.Allocate()
				mu.Lock()
				assert.False(t, seen[id])
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 1600)
}

func TestTrackPreconditions(t *testing.T) {
	tbl := NewTable()
	var rec recorder

	err := tbl.Track(message.NumberID(99), "m", nil, rec.cont())
	assert.ErrorIs(t, err, ErrNotAllocated)

	id := tbl.Allocate()
	require.NoError(t, tbl.Track(id, "m", []any{"x"}, rec.cont()))
	assert.ErrorIs(t, tbl.Track(id, "m", nil, rec.cont()), ErrAlreadyTracked)

	p, ok := tbl.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, "m", p.Method)
	assert.Equal(t, []any{"x"}, p.Args)
}

func TestResolveCallbackOnce(t *testing.T) {
	tbl := NewTable()
	var rec recorder
	id := track(t, tbl, &rec)
	require.Equal(t, 1, tbl.PendingCount())

	assert.True(t, tbl.ResolveCallback(id, float64(19)))
	assert.Equal(t, 0, tbl.PendingCount())
	assert.Equal(t, []any{float64(19)}, rec.successes)

	// a second reply of either kind is an orphan
	assert.False(t, tbl.ResolveCallback(id, float64(20)))
	assert.False(t, tbl.ResolveError(id, message.NewError(1, "late")))
	assert.Len(t, rec.successes, 1)
	assert.Empty(t, rec.failures)
}

func TestResolveErrorOnce(t *testing.T) {
	tbl := NewTable()
	var rec recorder
	id := track(t, tbl, &rec)

	reason := message.NewError(message.CodeMethodNotFound, message.ReasonUnknownMethod)
	assert.True(t, tbl.ResolveError(id, reason))
	assert.False(t, tbl.ResolveError(id, reason))
	assert.False(t, tbl.ResolveCallback(id, nil))

	require.Len(t, rec.failures, 1)
	var got *message.Error
	require.ErrorAs(t, rec.failures[0], &got)
	assert.Equal(t, message.ReasonUnknownMethod, got.Reason())
	assert.Empty(t, rec.successes)
}

func TestResolveErrorWithoutReason(t *testing.T) {
	tbl := NewTable()
	var rec recorder
	id := track(t, tbl, &rec)

	assert.True(t, tbl.ResolveError(id, nil))
	require.Len(t, rec.failures, 1)
	assert.NotNil(t, rec.failures[0])
}

func TestOrphanForUnknownID(t *testing.T) {
	tbl := NewTable()
	assert.False(t, tbl.ResolveCallback(message.NumberID(42), true))
	assert.False(t, tbl.ResolveError(message.StringID("x"), message.NewError(1, "x")))
}

func TestCancelIdempotent(t *testing.T) {
	tbl := NewTable()
	var rec recorder
	id := track(t, tbl, &rec)

	assert.True(t, tbl.Cancel(id))
	assert.False(t, tbl.Cancel(id))
	assert.Equal(t, 0, tbl.PendingCount())

	// late reply for a cancelled id is an orphan and runs nothing
	assert.False(t, tbl.ResolveCallback(id, true))
	assert.Empty(t, rec.successes)
	assert.Empty(t, rec.failures)
}

func TestOutOfOrderReplies(t *testing.T) {
	tbl := NewTable()
	var rec1, rec2 recorder
	id1 := track(t, tbl, &rec1)
	id2 := track(t, tbl, &rec2)

	assert.True(t, tbl.ResolveCallback(id2, "second"))
	assert.True(t, tbl.ResolveCallback(id1, "first"))

	assert.Equal(t, []any{"first"}, rec1.successes)
	assert.Equal(t, []any{"second"}, rec2.successes)
}

func TestExpire(t *testing.T) {
	tbl := NewTable()
	var rec recorder
	id := track(t, tbl, &rec)
	timeout := errors.New("timed out")

	assert.True(t, tbl.Expire(id, timeout))
	assert.False(t, tbl.Expire(id, timeout))
	assert.False(t, tbl.ResolveCallback(id, true))
	assert.Equal(t, []error{timeout}, rec.failures)
}

func TestCloseAll(t *testing.T) {
	tbl := NewTable()
	var order []int64
	var mu sync.Mutex
	for i := 0; i < 5; i++ {
		id := tbl.Allocate()
		n, _ := id.Number()
		require.NoError(t, tbl.Track(id, "m", nil, Continuation{
			OnError: func(err error) {
				mu.Lock()
				order = append(order, n)
				mu.Unlock()
			},
		}))
	}
	leftover := tbl.Allocate()

	closed := errors.New("closed")
	assert.Equal(t, 5, tbl.CloseAll(closed))
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, order)
	assert.Equal(t, 0, tbl.PendingCount())
	assert.ErrorIs(t, tbl.Track(leftover, "m", nil, Continuation{}), ErrNotAllocated)
	assert.Equal(t, 0, tbl.CloseAll(closed))
}

func TestHandlersMayReenterTable(t *testing.T) {
	tbl := NewTable()
	var nested message.ID
	id := tbl.Allocate()
	require.NoError(t, tbl.Track(id, "m", nil, Continuation{
		OnSuccess: func(result any) {
			nested = tbl.Allocate()
			require.NoError(t, tbl.Track(nested, "again", nil, Continuation{}))
		},
	}))

	require.True(t, tbl.ResolveCallback(id, nil))
	assert.Equal(t, 1, tbl.PendingCount())
	assert.True(t, tbl.Cancel(nested))
}

func TestOlderThan(t *testing.T) {
	tbl := NewTable()
	base := time.Unix(1000, 0)
	tbl.now = func() time.Time { return base }
	var rec recorder
	old := track(t, tbl, &rec)

	tbl.now = func() time.Time { return base.Add(time.Minute) }
	track(t, tbl, &rec)

	assert.Equal(t, []message.ID{old}, tbl.OlderThan(base.Add(time.Second)))
}

func TestReleaseReservedID(t *testing.T) {
	tbl := NewTable()
	id := tbl.Allocate()
	tbl.Release(id)
	assert.ErrorIs(t, tbl.Track(id, "m", nil, Continuation{}), ErrNotAllocated)
}

func TestConcurrentResolveRunsOneHandler(t *testing.T) {
	tbl := NewTable()
	var rec recorder
	id := track(t, tbl, &rec)

	var wg sync.WaitGroup
	wins := make(chan bool, 3)
	for _, f := range []func() bool{
		func() bool { return tbl.ResolveCallback(id, true) },
		func() bool { return tbl.ResolveError(id, message.NewError(1, "x")) },
		func() bool { return tbl.Cancel(id) },
	} {
		wg.Add(1)
		go func(f func() bool) {
			defer wg.Done()
			wins <- f()
		}(f)
	}
	wg.Wait()
	close(wins)

	won := 0
	for w := range wins {
		if w {
			won++
		}
	}
	assert.Equal(t, 1, won)
	assert.LessOrEqual(t, len(rec.successes)+len(rec.failures), 1)
}
