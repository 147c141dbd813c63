package middleware

import (
	"context"
	"time"

	"crm-rpc/logger"
	"crm-rpc/message"

	"go.uber.org/zap"
)

// SlowCallMiddleware warns about calls that take longer than threshold.
// A running method cannot be cancelled, and it blocks the whole server, so this only reports.
func SlowCallMiddleware(threshold time.Duration, log *zap.Logger) Middleware {
	log = logger.OrNop(log)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (*message.Result, error) {
			timer := time.AfterFunc(threshold, func() {
				log.Warn("call still running", zap.String("method", call.Method), zap.Duration("threshold", threshold))
			})
			start := time.Now()
			result, err := next(ctx, call)
			if !timer.Stop() {
				log.Warn("slow call finished", zap.String("method", call.Method), zap.Duration("duration", time.Since(start)))
			}
			return result, err
		}
	}
}
