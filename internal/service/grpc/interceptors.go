package grpcsvc

import (
	"context"
	"runtime/debug"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/orderengine/internal/tracing"
)

// UnaryLoggingInterceptor пишет в лог метод, код ответа и длительность каждого вызова.
func UnaryLoggingInterceptor(logger *log.Entry) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		entry := logger.WithFields(log.Fields{
			"method":      info.FullMethod,
			"code":        code.String(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if traceID := tracing.TraceID(ctx); traceID != "" {
			entry = entry.WithField("trace_id", traceID)
		}
		if code == codes.Internal || code == codes.Unknown {
			entry.Warn("grpc call finished with error")
		} else {
			entry.Debug("grpc call finished")
		}
		return resp, err
	}
}

// UnaryRecoveryInterceptor превращает панику обработчика в codes.Internal.
func UnaryRecoveryInterceptor(logger *log.Entry) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(log.Fields{
					"method": info.FullMethod,
					"panic":  r,
					"stack":  string(debug.Stack()),
				}).Error("grpc handler panicked")
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}
