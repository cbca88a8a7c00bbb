package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/m3n3sx/faktulove3-sub000/internal/common"
)

const requestIDHeader = "x-request-id"

// UnaryLogging tags the context with a request id and logs each call.
// Panics in handlers become codes.Internal.
func UnaryLogging(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		id := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get(requestIDHeader); len(v) > 0 {
				id = v[0]
			}
		}
		if id == "" {
			id = uuid.NewString()
		}
		ctx = common.WithRequestID(ctx, id)
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDHeader, id))
		log := common.LoggerFromContext(ctx, logger).With("method", info.FullMethod)

		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				log.Error("handler panicked", "panic", r)
				err = status.Error(codes.Internal, "internal error")
			}
			code := status.Code(err)
			level := slog.LevelInfo
			if code == codes.Internal || code == codes.Unknown {
				level = slog.LevelError
			}
			log.Log(ctx, level, "grpc.request", "code", code.String(), "duration", time.Since(start))
		}()
		return handler(ctx, req)
	}
}
