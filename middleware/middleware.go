// Package middleware wraps the dispatch of a call to a resource method.
//
// Chain(A, B, C)(handler) gives A(B(C(handler))): A.before → B.before → C.before → handler →
// C.after → B.after → A.after. Every middleware must end up returning either a result or an error;
// the server turns an error into session termination, never into a skipped reply.
package middleware

import (
	"context"

	"crm-rpc/message"
)

type HandlerFunc func(ctx context.Context, call *message.Call) (*message.Result, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines several middlewares into one
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
