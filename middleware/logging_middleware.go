package middleware

import (
	"context"
	"time"

	"crm-rpc/logger"
	"crm-rpc/message"

	"go.uber.org/zap"
)

// LoggingMiddleware logs every call with its duration. The aux value a method returns is only
// logged at debug level, since it can be large.
func LoggingMiddleware(log *zap.Logger) Middleware {
	log = logger.OrNop(log)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (*message.Result, error) {
			start := time.Now()
			result, err := next(ctx, call)
			fields := []zap.Field{
				zap.String("method", call.Method),
				zap.Int("args_bytes", len(call.Args)),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				log.Error("call failed", append(fields, zap.Error(err))...)
				return result, err
			}
			log.Info("call", append(fields, zap.Int("reply_bytes", len(result.Payload)))...)
			if ce := log.Check(zap.DebugLevel, "call aux"); ce != nil {
				ce.Write(zap.String("method", call.Method), zap.Any("aux", result.Aux))
			}
			return result, nil
		}
	}
}
