// Package rpcruntime ties a functor registry, a correlation table, a codec and a transport
// into one end of a bridge.
//
//	outbound: MakeRequest → Table.Allocate/Track → Codec.Encode → Transport.Send
//	inbound:  Transport → HandleMessage → Codec.Decode ─┬─ request  → middleware → Registry.Call → reply
//	                                                    ├─ callback → Table.ResolveCallback
//	                                                    └─ error    → Table.ResolveError
//
// Requests never block: the reply to MakeRequest arrives later through HandleMessage and runs
// the caller's continuation. Call is a blocking convenience built on top.
package rpcruntime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"bridge-rpc/codec"
	"bridge-rpc/correlation"
	"bridge-rpc/functor"
	"bridge-rpc/message"
	"bridge-rpc/middleware"
	"bridge-rpc/transport"
)

var (
	// ErrTransport wraps a failure to hand an envelope to the transport.
	ErrTransport = errors.New("rpc: transport failure")
	// ErrTimeout is delivered to the error handler of a request that outlived the request timeout.
	ErrTimeout = errors.New("rpc: request timed out")
	// ErrOrphanedReply describes a reply whose id has no pending request.
	ErrOrphanedReply = errors.New("rpc: orphaned reply")
)

// Runtime is one end of the bridge. It is safe for concurrent use.
type Runtime struct {
	t        transport.Transport
	registry *functor.Registry // nil: inbound requests follow opts.unhandled
	table    *correlation.Table
	opts     options
	log      *zap.Logger
	handler  middleware.HandlerFunc

	ctx    context.Context // Passed to functors; cancelled on close
	cancel context.CancelFunc
	sem    chan struct{} // Concurrency slots, nil when dispatching inline
	wg     sync.WaitGroup

	mu     sync.Mutex // Guards timers, and orders closed against wg.Add
	timers map[message.ID]*time.Timer

	started   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}

	stats counters
}

// New creates a runtime speaking over t. reg may be nil for a runtime that only
// issues requests. Call Start to begin receiving.
func New(t transport.Transport, reg *functor.Registry, opts ...Option) *Runtime {
	o := options{
		codec: codec.GetCodec(codec.CodecTypeJSON),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runtime{
		t:        t,
		registry: reg,
		table:    correlation.NewTable(),
		opts:     o,
		log:      o.log,
		ctx:      ctx,
		cancel:   cancel,
		timers:   make(map[message.ID]*time.Timer),
		done:     make(chan struct{}),
	}
	if o.concurrency > 0 {
		r.sem = make(chan struct{}, o.concurrency)
	}
	r.handler = middleware.Chain(o.middlewares...)(r.invoke)
	return r
}

// Start attaches the runtime to its transport. It must be called once.
func (r *Runtime) Start() {
	if !r.started.CompareAndSwap(false, true) {
		panic("rpcruntime: Start called twice")
	}
	r.t.Start(r)
}

// Registry returns the attached registry, or nil.
func (r *Runtime) Registry() *functor.Registry {
	return r.registry
}

// Done is closed once the runtime has shut down, locally or because the transport closed.
func (r *Runtime) Done() <-chan struct{} {
	return r.done
}

// MakeRequest sends a request for method and returns its correlation id at once.
// Exactly one of onSuccess and onError runs later, unless the request is cancelled.
//
// If the envelope cannot be encoded nothing is tracked and the id is absent. If the
// transport rejects it the error wraps ErrTransport and the request stays pending
// under the returned id until cancelled, timed out or the runtime closes.
func (r *Runtime) MakeRequest(method string, args []any, onSuccess func(any), onError func(error)) (message.ID, error) {
	if r.closed.Load() {
		return message.ID{}, fmt.Errorf("%w: %w", ErrTransport, transport.ErrClosed)
	}

	id := r.table.Allocate()
	data, err := r.opts.codec.Encode(message.NewRequest(id, method, args))
	if err != nil {
		r.table.Release(id)
		return message.ID{}, err
	}

	cont := correlation.Continuation{OnSuccess: onSuccess, OnError: onError}
	if r.opts.timeout > 0 {
		cont = r.withTimer(id, cont)
	}
	if err := r.table.Track(id, method, args, cont); err != nil {
		return message.ID{}, err
	}
	if r.opts.timeout > 0 {
		r.armTimer(id, method)
	}

	if err := r.t.Send(data); err != nil {
		r.stats.sendFailures.Add(1)
		r.log.Error("send request failed", zap.String("method", method), zap.Stringer("id", id), zap.Error(err))
		return id, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	r.log.Debug("request sent", zap.String("method", method), zap.Stringer("id", id))
	return id, nil
}

// Notify sends a request that expects no reply.
func (r *Runtime) Notify(method string, args []any) error {
	if r.closed.Load() {
		return fmt.Errorf("%w: %w", ErrTransport, transport.ErrClosed)
	}
	data, err := r.opts.codec.Encode(message.NewNotification(method, args))
	if err != nil {
		return err
	}
	if err := r.t.Send(data); err != nil {
		r.stats.sendFailures.Add(1)
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

// Call sends a request and waits for its reply. A remote failure is returned as
// a *message.Error. When ctx ends first the request is cancelled and ctx.Err() returned.
//
// Call must not be used from a functor running inline on the receive goroutine of
// the same runtime: the reply could never be delivered. Use WithConcurrency.
func (r *Runtime) Call(ctx context.Context, method string, args []any) (any, error) {
	type outcome struct {
		result any
		err    error
	}
	ch := make(chan outcome, 1)

	id, err := r.MakeRequest(method, args,
		func(result any) { ch <- outcome{result: result} },
		func(err error) { ch <- outcome{err: err} })
	if err != nil {
		if !id.IsAbsent() {
			r.Cancel(id)
		}
		return nil, err
	}

	select {
	case o := <-ch:
		return o.result, o.err
	case <-ctx.Done():
		r.Cancel(id)
		return nil, ctx.Err()
	}
}

// Cancel forgets a pending request without running its handlers. It returns
// false when id is not pending. A reply arriving later is treated as an orphan.
func (r *Runtime) Cancel(id message.ID) bool {
	r.stopTimer(id)
	return r.table.Cancel(id)
}

// PendingCount returns the number of requests awaiting a reply.
func (r *Runtime) PendingCount() int {
	return r.table.PendingCount()
}

// HandleMessage is the transport's entry point for every inbound message.
func (r *Runtime) HandleMessage(data []byte) {
	env, err := r.opts.codec.Decode(data)
	if err != nil {
		r.stats.decodeFailures.Add(1)
		r.log.Warn("dropping undecodable message", zap.Int("bytes", len(data)), zap.Error(err))
		return
	}

	switch env.Kind {
	case message.KindRequest:
		r.dispatch(env)
	case message.KindCallback:
		if !r.table.ResolveCallback(env.ID, env.Result) {
			r.orphan(env)
		}
	case message.KindError:
		if !r.table.ResolveError(env.ID, env.Error) {
			r.orphan(env)
		}
	}
}

// HandleClose is called by the transport once it stops delivering messages.
// Every pending request fails with err.
func (r *Runtime) HandleClose(err error) {
	if err == nil {
		err = transport.ErrClosed
	}
	if !errors.Is(err, transport.ErrClosed) {
		r.log.Warn("transport failed", zap.Error(err))
	}
	r.shutdown(err)
}

// Close closes the transport, fails every pending request with transport.ErrClosed
// and waits for running functors to return.
func (r *Runtime) Close() error {
	r.closed.Store(true)
	err := r.t.Close()
	r.shutdown(transport.ErrClosed)
	r.wg.Wait()
	return err
}

func (r *Runtime) shutdown(reason error) {
	r.closeOnce.Do(func() {
		// closed flips under mu: begin either saw it or its wg.Add precedes Close's Wait
		r.mu.Lock()
		r.closed.Store(true)
		for id, t := range r.timers {
			t.Stop()
			delete(r.timers, id)
		}
		r.mu.Unlock()
		r.cancel()

		if n := r.table.CloseAll(reason); n > 0 {
			r.log.Debug("failed pending requests on close", zap.Int("count", n), zap.Error(reason))
		}
		close(r.done)
	})
}

func (r *Runtime) orphan(env *message.Envelope) {
	r.stats.orphaned.Add(1)
	r.log.Warn("orphaned reply", zap.Stringer("kind", env.Kind), zap.Stringer("id", env.ID))
	if r.opts.onOrphan != nil {
		r.opts.onOrphan(env)
	}
}

// withTimer makes both handlers stop the request's timer.
func (r *Runtime) withTimer(id message.ID, cont correlation.Continuation) correlation.Continuation {
	return correlation.Continuation{
		OnSuccess: func(result any) {
			r.stopTimer(id)
			if cont.OnSuccess != nil {
				cont.OnSuccess(result)
			}
		},
		OnError: func(err error) {
			r.stopTimer(id)
			if cont.OnError != nil {
				cont.OnError(err)
			}
		},
	}
}

func (r *Runtime) armTimer(id message.ID, method string) {
	timeout := r.opts.timeout
	t := time.AfterFunc(timeout, func() {
		if r.table.Expire(id, fmt.Errorf("%w: %s after %s", ErrTimeout, method, timeout)) {
			r.stats.timedOut.Add(1)
			r.log.Warn("request timed out", zap.String("method", method), zap.Stringer("id", id))
		}
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.table.Lookup(id); !ok {
		// resolved before the timer existed
		t.Stop()
		return
	}
	r.timers[id] = t
}

func (r *Runtime) stopTimer(id message.ID) {
	r.mu.Lock()
	t, ok := r.timers[id]
	delete(r.timers, id)
	r.mu.Unlock()
	if ok {
		t.Stop()
	}
}
