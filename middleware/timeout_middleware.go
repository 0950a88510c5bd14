package middleware

import (
	"context"
	"time"

	"bridge-rpc/message"
)

// TimeOutMiddleware answers with a Timeout error when the handler takes longer than timeout.
// The handler keeps running in the background; its context is cancelled so it can stop early.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Envelope, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case reply := <-done:
				return reply
			case <-ctx.Done():
				e := message.NewError(message.CodeTimeout, message.ReasonTimeout)
				e.Data = req.Method
				return message.NewErrorReply(req.ID, e)
			}
		}
	}
}
