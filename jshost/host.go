// Package jshost embeds a QuickJS script engine as the far side of a bridge.
//
// A Host is a transport.Transport: native code attaches an rpcruntime.Runtime to it and the
// script reaches native functors through the global bridge object installed at startup.
// Envelopes travel as JSON text in both directions.
//
//	runtime ──Send──→ inbox ──→ VM goroutine: bridge.receive(text)
//	script  ──bridge.call──→ __bridge_post ──→ outbox ──→ delivery goroutine ──→ runtime
//
// The VM is only ever touched by its own goroutine; Exec and EvalJSON hand it jobs.
package jshost

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"modernc.org/quickjs"

	"bridge-rpc/transport"
)

var _ transport.Transport = (*Host)(nil)

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger for script errors.
func WithLogger(log *zap.Logger) Option {
	return func(h *Host) {
		if log != nil {
			h.log = log
		}
	}
}

// WithScript evaluates src after the prelude, typically to register script functions.
func WithScript(src string) Option {
	return func(h *Host) { h.scripts = append(h.scripts, src) }
}

// Host owns one QuickJS VM and the queues connecting it to native code.
type Host struct {
	log     *zap.Logger
	scripts []string
	jobs    chan func(vm *quickjs.VM)

	inMu  sync.Mutex
	inbox []string
	wake  chan struct{}

	outMu   sync.Mutex
	outbox  [][]byte
	outWake chan struct{}

	started   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{} // Closed by Close
	loopDone  chan struct{} // Closed once the VM is released
}

// New starts a VM, installs the bridge prelude and runs the WithScript sources.
func New(opts ...Option) (*Host, error) {
	h := &Host{
		log:      zap.NewNop(),
		jobs:     make(chan func(*quickjs.VM)),
		wake:     make(chan struct{}, 1),
		outWake:  make(chan struct{}, 1),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}

	ready := make(chan error, 1)
	go h.loop(ready)
	if err := <-ready; err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Host) loop(ready chan<- error) {
	defer close(h.loopDone)

	vm, err := quickjs.NewVM()
	if err != nil {
		ready <- fmt.Errorf("jshost: create vm: %w", err)
		return
	}
	defer vm.Close()

	if err := h.setup(vm); err != nil {
		ready <- err
		return
	}
	ready <- nil

	for {
		select {
		case <-h.done:
			return
		case job := <-h.jobs:
			job(vm)
		case <-h.wake:
			h.drainInbox(vm)
		}
	}
}

func (h *Host) setup(vm *quickjs.VM) error {
	if err := vm.RegisterFunc("__bridge_post", func(text string) {
		h.post(text)
	}, false); err != nil {
		return fmt.Errorf("jshost: register post: %w", err)
	}
	if err := exec(vm, prelude); err != nil {
		return fmt.Errorf("jshost: install prelude: %w", err)
	}
	for i, src := range h.scripts {
		if err := exec(vm, src); err != nil {
			return fmt.Errorf("jshost: script %d: %w", i, err)
		}
	}
	return nil
}

// exec evaluates js and frees the result.
func exec(vm *quickjs.VM, js string) error {
	v, err := vm.EvalValue(js, quickjs.EvalGlobal)
	if err != nil {
		return err
	}
	v.Free()
	return nil
}

func (h *Host) drainInbox(vm *quickjs.VM) {
	h.inMu.Lock()
	msgs := h.inbox
	h.inbox = nil
	h.inMu.Unlock()

	for _, text := range msgs {
		lit, _ := json.Marshal(text)
		if err := exec(vm, "bridge.receive("+string(lit)+")"); err != nil {
			h.log.Warn("script failed to handle message", zap.Error(err))
		}
	}
}

// post runs on the VM goroutine whenever the script sends an envelope.
func (h *Host) post(text string) {
	h.outMu.Lock()
	h.outbox = append(h.outbox, []byte(text))
	h.outMu.Unlock()
	signal(h.outWake)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Start delivers envelopes posted by the script to r, in order.
func (h *Host) Start(r transport.Receiver) {
	if !h.started.CompareAndSwap(false, true) {
		panic("jshost: Start called twice")
	}
	go h.deliver(r)
}

func (h *Host) deliver(r transport.Receiver) {
	flush := func() {
		h.outMu.Lock()
		msgs := h.outbox
		h.outbox = nil
		h.outMu.Unlock()
		for _, m := range msgs {
			r.HandleMessage(m)
		}
	}
	for {
		select {
		case <-h.outWake:
			flush()
		case <-h.done:
			<-h.loopDone
			flush()
			r.HandleClose(transport.ErrClosed)
			return
		}
	}
}

// Send queues one JSON envelope for the script. It never blocks on the VM.
func (h *Host) Send(data []byte) error {
	if h.closed.Load() {
		return transport.ErrClosed
	}
	h.inMu.Lock()
	h.inbox = append(h.inbox, string(data))
	h.inMu.Unlock()
	signal(h.wake)
	return nil
}

// Exec evaluates js in the VM, discarding its value.
func (h *Host) Exec(ctx context.Context, js string) error {
	return h.run(ctx, func(vm *quickjs.VM) error {
		return exec(vm, js)
	})
}

// EvalJSON evaluates the expression expr, serializes the value with JSON.stringify
// and decodes it into out.
func (h *Host) EvalJSON(ctx context.Context, expr string, out any) error {
	return h.run(ctx, func(vm *quickjs.VM) error {
		v, err := vm.Eval("JSON.stringify(("+expr+"))", quickjs.EvalGlobal)
		if err != nil {
			return err
		}
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("jshost: %q does not evaluate to a JSON value", expr)
		}
		return json.Unmarshal([]byte(s), out)
	})
}

func (h *Host) run(ctx context.Context, fn func(vm *quickjs.VM) error) error {
	errc := make(chan error, 1)
	job := func(vm *quickjs.VM) { errc <- fn(vm) }

	select {
	case h.jobs <- job:
	case <-h.done:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the VM. Queued inbound messages are discarded.
func (h *Host) Close() error {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		close(h.done)
	})
	<-h.loopDone
	return nil
}
