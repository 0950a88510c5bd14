package middleware

import (
	"context"

	"go.uber.org/zap"

	"bridge-rpc/message"
)

// RecoverMiddleware turns a panic anywhere below it into an InternalError reply.
func RecoverMiddleware(log *zap.Logger) Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) (reply *message.Envelope) {
			defer func() {
				if p := recover(); p != nil {
					log.Error("panic while handling request",
						zap.String("method", req.Method),
						zap.Any("panic", p),
						zap.Stack("stack"))
					reply = message.NewErrorReply(req.ID, message.NewError(message.CodeInternalError, message.ReasonInternal))
				}
			}()
			return next(ctx, req)
		}
	}
}
