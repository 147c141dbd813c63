package middleware

import (
	"context"

	"crm-rpc/message"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// RateLimitMiddleware throttles dispatch with a token bucket.
// A reply socket cannot drop a request, so calls over the limit wait for a token instead of
// being rejected. Waiting ends early only when ctx is done.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (*message.Result, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, errors.Wrap(err, "rate limit")
			}
			return next(ctx, call)
		}
	}
}
