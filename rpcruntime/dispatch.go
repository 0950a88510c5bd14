package rpcruntime

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"bridge-rpc/functor"
	"bridge-rpc/message"
)

// begin registers a functor about to run on its own goroutine. It fails once
// shutdown has started, so Close never waits on a group that is still growing.
func (r *Runtime) begin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed.Load() {
		return false
	}
	r.wg.Add(1)
	return true
}

// dispatch runs an inbound request and sends its reply.
func (r *Runtime) dispatch(req *message.Envelope) {
	if r.registry == nil {
		r.unhandled(req)
		return
	}

	if r.sem == nil {
		if r.closed.Load() {
			return
		}
		r.serve(req)
		return
	}

	select {
	case r.sem <- struct{}{}:
	case <-r.ctx.Done():
		return
	}
	if !r.begin() {
		<-r.sem
		r.log.Debug("runtime closed, dropping request", zap.String("method", req.Method), zap.Stringer("id", req.ID))
		return
	}
	go func() {
		defer func() {
			<-r.sem
			r.wg.Done()
		}()
		r.serve(req)
	}()
}

func (r *Runtime) serve(req *message.Envelope) {
	reply := r.handler(r.ctx, req)
	if req.IsNotification() {
		r.stats.notifications.Add(1)
		if reply != nil && reply.Kind == message.KindError {
			r.log.Debug("notification failed", zap.String("method", req.Method), zap.String("reason", reply.Error.Reason()))
		}
		return
	}

	r.stats.served.Add(1)
	if reply == nil {
		reply = message.NewErrorReply(req.ID, message.NewError(message.CodeInternalError, message.ReasonInternal))
	}
	if reply.Kind == message.KindError {
		r.stats.failed.Add(1)
	}
	r.send(reply)
}

// unhandled applies the unhandled request policy.
func (r *Runtime) unhandled(req *message.Envelope) {
	r.stats.ignored.Add(1)
	if r.opts.unhandled == IgnoreUnhandled || req.IsNotification() {
		r.log.Debug("no registry attached, ignoring request", zap.String("method", req.Method), zap.Stringer("id", req.ID))
		return
	}
	r.send(message.NewErrorReply(req.ID, unknownMethod(req.Method)))
}

// invoke is the innermost handler: it calls the registry and shapes the reply.
func (r *Runtime) invoke(ctx context.Context, req *message.Envelope) *message.Envelope {
	result, err := r.registry.Call(ctx, req.Method, req.Args)
	if err != nil {
		return message.NewErrorReply(req.ID, replyError(req.Method, err))
	}
	return message.NewCallback(req.ID, result)
}

// replyError maps a dispatch failure to the error object sent to the peer.
func replyError(method string, err error) *message.Error {
	var remote *message.Error
	switch {
	case errors.Is(err, functor.ErrUnknownMethod):
		return unknownMethod(method)
	case errors.As(err, &remote):
		return remote
	case errors.Is(err, functor.ErrInvalidParams):
		return message.NewError(message.CodeInvalidParams, err.Error())
	case functor.IsTemporary(err):
		return message.NewError(message.CodeTemporary, err.Error())
	}

	var he *functor.HandlerError
	if errors.As(err, &he) {
		return message.NewError(message.CodeHandlerError, he.Error())
	}
	return message.NewError(message.CodeInternalError, message.ReasonInternal)
}

func unknownMethod(method string) *message.Error {
	e := message.NewError(message.CodeMethodNotFound, message.ReasonUnknownMethod)
	e.Data = method
	return e
}

// send encodes and transmits a reply. A result that cannot be encoded is
// replaced by an InternalError so the peer is never left waiting.
func (r *Runtime) send(reply *message.Envelope) {
	data, err := r.opts.codec.Encode(reply)
	if err != nil {
		r.log.Error("encode reply failed", zap.Stringer("reply", reply), zap.Error(err))
		if reply.Kind == message.KindError {
			return
		}
		data, err = r.opts.codec.Encode(message.NewErrorReply(reply.ID,
			message.NewError(message.CodeInternalError, message.ReasonInternal)))
		if err != nil {
			return
		}
	}
	if err := r.t.Send(data); err != nil {
		r.stats.sendFailures.Add(1)
		r.log.Error("send reply failed", zap.Stringer("reply", reply), zap.Error(err))
	}
}
