package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"bridge-rpc/codec"
	"bridge-rpc/protocol"
)

// WebSocketTransport carries one envelope per WebSocket message. This is how
// browser hosts reach native code: JSON envelopes travel as text messages,
// binary-codec envelopes as binary messages.
type WebSocketTransport struct {
	conn    *websocket.Conn
	opts    options
	msgType websocket.MessageType

	ctx       context.Context // Cancelled on Close, aborts the read loop
	cancel    context.CancelFunc
	started   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewWebSocketTransport wraps an accepted or dialed connection.
func NewWebSocketTransport(conn *websocket.Conn, opts ...Option) *WebSocketTransport {
	o := buildOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())

	conn.SetReadLimit(int64(protocol.MaxBodyLen))

	msgType := websocket.MessageText
	if o.codec == codec.CodecTypeBinary {
		msgType = websocket.MessageBinary
	}
	return &WebSocketTransport{
		conn:    conn,
		opts:    o,
		msgType: msgType,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// DialWebSocket connects to a WebSocket endpoint such as ws://127.0.0.1:8080/rpc.
func DialWebSocket(ctx context.Context, url string, opts ...Option) (*WebSocketTransport, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewWebSocketTransport(conn, opts...), nil
}

// Start launches the read loop.
func (t *WebSocketTransport) Start(r Receiver) {
	if !t.started.CompareAndSwap(false, true) {
		panic("transport: Start called twice")
	}
	go t.readLoop(r)
}

func (t *WebSocketTransport) readLoop(r Receiver) {
	for {
		typ, data, err := t.conn.Read(t.ctx)
		if err != nil {
			reason := t.closeReason(err)
			t.closed.Store(true)
			t.shutdown(websocket.StatusNormalClosure, "")
			r.HandleClose(reason)
			return
		}
		if typ != t.msgType {
			t.opts.log.Warn("dropping websocket message of unexpected type", zap.Stringer("type", typ))
			continue
		}
		r.HandleMessage(data)
	}
}

func (t *WebSocketTransport) closeReason(err error) error {
	if t.closed.Load() || errors.Is(err, context.Canceled) {
		return ErrClosed
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return ErrClosed
	}
	return err
}

// Send writes data as a single message, bounded by the write timeout.
func (t *WebSocketTransport) Send(data []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(t.ctx, t.opts.writeTimeout)
	defer cancel()

	if err := t.conn.Write(ctx, t.msgType, data); err != nil {
		if t.closed.Load() {
			return ErrClosed
		}
		return err
	}
	return nil
}

// Close performs the closing handshake.
func (t *WebSocketTransport) Close() error {
	t.closed.Store(true)
	return t.shutdown(websocket.StatusNormalClosure, "closing")
}

func (t *WebSocketTransport) shutdown(code websocket.StatusCode, reason string) error {
	var err error
	t.closeOnce.Do(func() {
		err = t.conn.Close(code, reason)
		t.cancel()
	})
	return err
}
