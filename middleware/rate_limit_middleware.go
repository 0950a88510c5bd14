package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"bridge-rpc/message"
)

// RateLimitMiddleware rejects requests beyond a token bucket of r per second with the given burst.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			if !limiter.Allow() {
				return message.NewErrorReply(req.ID, message.NewError(message.CodeRateLimited, message.ReasonRateLimited))
			}
			return next(ctx, req)
		}
	}
}
