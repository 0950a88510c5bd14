package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"bridge-rpc/message"
)

// LoggingMiddleware logs method, duration and the error reason, if any, of every request.
func LoggingMiddleware(log *zap.Logger) Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			start := time.Now()
			reply := next(ctx, req)

			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.Stringer("id", req.ID),
				zap.Duration("duration", time.Since(start)),
			}
			if failed(reply) {
				log.Info("request failed", append(fields,
					zap.Int("code", reply.Error.Code),
					zap.String("reason", reply.Error.Reason()))...)
				return reply
			}
			log.Debug("request served", fields...)
			return reply
		}
	}
}
