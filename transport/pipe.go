package transport

import (
	"sync"
	"sync/atomic"
)

// PipeTransport is one end of an in-memory transport pair created by Pipe.
// It is useful for connecting two runtimes inside one process and in tests.
type PipeTransport struct {
	peer      *PipeTransport
	inbox     chan []byte
	done      chan struct{}
	closeOnce sync.Once
	started   atomic.Bool
}

// Pipe returns two connected ends. buffer is the number of messages each end
// can queue before Send blocks.
func Pipe(buffer int) (*PipeTransport, *PipeTransport) {
	a := &PipeTransport{inbox: make(chan []byte, buffer), done: make(chan struct{})}
	b := &PipeTransport{inbox: make(chan []byte, buffer), done: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

// Start delivers messages sent by the peer to r, in order.
func (t *PipeTransport) Start(r Receiver) {
	if !t.started.CompareAndSwap(false, true) {
		panic("transport: Start called twice")
	}
	go func() {
		for {
			select {
			case data := <-t.inbox:
				r.HandleMessage(data)
			case <-t.done:
				r.HandleClose(ErrClosed)
				return
			case <-t.peer.done:
				// deliver what the peer managed to send before closing
				for {
					select {
					case data := <-t.inbox:
						r.HandleMessage(data)
					default:
						r.HandleClose(ErrClosed)
						return
					}
				}
			}
		}
	}()
}

// Send queues a copy of data for the peer.
func (t *PipeTransport) Send(data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)

	select {
	case <-t.done:
		return ErrClosed
	case <-t.peer.done:
		return ErrClosed
	default:
	}

	select {
	case t.peer.inbox <- buf:
		return nil
	case <-t.done:
		return ErrClosed
	case <-t.peer.done:
		return ErrClosed
	}
}

// Close shuts this end. The peer observes ErrClosed.
func (t *PipeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}
