package telemetry

import (
	"context"
	"log/slog"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GRPCServerInterceptors logs finished calls and turns handler panics into
// Internal errors, for unary and streaming calls alike.
func GRPCServerInterceptors() []grpc.ServerOption {
	l := grpcServerLogger(slog.Default())
	opts := []logging.Option{
		logging.WithLogOnEvents(logging.FinishCall),
	}
	rec := recovery.WithRecoveryHandlerContext(func(ctx context.Context, p any) error {
		slog.ErrorContext(ctx, "grpc: handler panicked", "panic", p)
		return status.Errorf(codes.Internal, "internal error")
	})

	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			logging.UnaryServerInterceptor(l, opts...),
			recovery.UnaryServerInterceptor(rec),
		),
		grpc.ChainStreamInterceptor(
			logging.StreamServerInterceptor(l, opts...),
			recovery.StreamServerInterceptor(rec),
		),
	}
}

func grpcServerLogger(l *slog.Logger) logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		l.Log(ctx, slog.Level(lvl), msg, fields...)
	})
}
