package transport

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"bridge-rpc/protocol"
)

// StreamTransport carries envelopes over a byte stream using protocol frames.
//
//	Send ──→ sending lock ──→ frame(seq, body) ──→ conn
//	conn ──→ recvLoop ──→ skip heartbeats ──→ Receiver.HandleMessage
//
// A background goroutine sends heartbeat frames so idle links are not reaped by
// middleboxes and dead links are noticed by the writer.
type StreamTransport struct {
	conn    io.ReadWriteCloser
	opts    options
	seq     uint32     // Last sent frame number (protected by sending)
	sending sync.Mutex // Write lock: one frame at a time on the stream

	started   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewStreamTransport wraps conn. Call Start to begin receiving.
func NewStreamTransport(conn io.ReadWriteCloser, opts ...Option) *StreamTransport {
	return &StreamTransport{
		conn: conn,
		opts: buildOptions(opts),
		done: make(chan struct{}),
	}
}

// Start launches the receive loop and, if enabled, the heartbeat loop.
func (t *StreamTransport) Start(r Receiver) {
	if !t.started.CompareAndSwap(false, true) {
		panic("transport: Start called twice")
	}
	go t.recvLoop(r)
	if t.opts.heartbeat > 0 {
		go t.heartbeatLoop(t.opts.heartbeat)
	}
}

// Send writes one envelope frame.
func (t *StreamTransport) Send(data []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}
	return t.writeFrame(protocol.MsgTypeEnvelope, data)
}

func (t *StreamTransport) writeFrame(mt protocol.MsgType, body []byte) error {
	t.sending.Lock()
	defer t.sending.Unlock()

	t.seq++
	header := protocol.Header{
		CodecType: byte(t.opts.codec),
		MsgType:   mt,
		Seq:       t.seq,
		BodyLen:   uint32(len(body)),
	}
	if err := protocol.Encode(t.conn, &header, body); err != nil {
		if t.closed.Load() {
			return ErrClosed
		}
		return err
	}
	return nil
}

// recvLoop is the only reader of the stream: frames must be parsed sequentially.
func (t *StreamTransport) recvLoop(r Receiver) {
	var lastSeq uint32
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			reason := t.closeReason(err)
			t.closed.Store(true)
			t.closeConn()
			r.HandleClose(reason)
			return
		}

		if header.Seq != lastSeq+1 {
			t.opts.log.Warn("frame sequence gap",
				zap.Uint32("expected", lastSeq+1),
				zap.Uint32("got", header.Seq))
		}
		lastSeq = header.Seq

		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}
		if header.CodecType != byte(t.opts.codec) {
			t.opts.log.Warn("dropping frame with foreign codec",
				zap.Uint8("codec", header.CodecType),
				zap.Uint32("seq", header.Seq))
			continue
		}
		r.HandleMessage(body)
	}
}

func (t *StreamTransport) closeReason(err error) error {
	if t.closed.Load() || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return ErrClosed
	}
	return err
}

func (t *StreamTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if err := t.writeFrame(protocol.MsgTypeHeartbeat, nil); err != nil {
				t.opts.log.Debug("heartbeat failed, stopping", zap.Error(err))
				return
			}
		}
	}
}

// Close closes the underlying stream. The receive loop then reports ErrClosed.
func (t *StreamTransport) Close() error {
	t.closed.Store(true)
	return t.closeConn()
}

func (t *StreamTransport) closeConn() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close()
	})
	return err
}
