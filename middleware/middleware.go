// Package middleware wraps inbound request dispatch.
//
// A HandlerFunc turns one inbound request envelope into its reply (a callback or an error
// envelope carrying the request id). Middlewares compose in onion order:
//
//	Chain(A, B, C)(h) == A(B(C(h)))
//	A.before → B.before → C.before → h → C.after → B.after → A.after
package middleware

import (
	"context"

	"bridge-rpc/message"
)

// HandlerFunc produces the reply for req. The reply of a notification is computed but never sent.
type HandlerFunc func(ctx context.Context, req *message.Envelope) *message.Envelope

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines several middlewares into one, the first being the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

func failed(reply *message.Envelope) bool {
	return reply != nil && reply.Kind == message.KindError
}
