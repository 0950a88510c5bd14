package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"bridge-rpc/message"
)

// RetryMiddleware re-runs requests whose reply is a Temporary error, up to maxRetries
// times with exponential backoff starting at baseDelay. Other failures return immediately.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, log *zap.Logger) Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			reply := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if !failed(reply) || reply.Error.Code != message.CodeTemporary {
					return reply
				}
				log.Debug("retrying request",
					zap.String("method", req.Method),
					zap.Int("attempt", i+1),
					zap.String("reason", reply.Error.Reason()))

				select {
				case <-time.After(baseDelay * time.Duration(1<<i)):
				case <-ctx.Done():
					return reply
				}
				reply = next(ctx, req)
			}
			return reply
		}
	}
}
