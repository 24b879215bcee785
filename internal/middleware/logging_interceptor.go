package middleware

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const RequestIDHeader = "x-request-id"

// requestID returns the caller's request id or a fresh one.
func requestID(ctx context.Context) string {
	md, _ := metadata.FromIncomingContext(ctx)
	if ids := md.Get(RequestIDHeader); len(ids) > 0 && ids[0] != "" {
		return ids[0]
	}
	return uuid.NewString()
}

// codeLevel logs caller mistakes at Warn and server faults at Error.
func codeLevel(code codes.Code) zapcore.Level {
	switch code {
	case codes.OK:
		return zapcore.InfoLevel
	case codes.InvalidArgument, codes.NotFound, codes.FailedPrecondition,
		codes.Unauthenticated, codes.PermissionDenied, codes.Canceled, codes.AlreadyExists:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

// UnaryLoggingInterceptor logs unary RPC calls with timing and errors
func UnaryLoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		id := requestID(ctx)

		resp, err := handler(ctx, req)

		code := status.Code(err)
		if ce := logger.Check(codeLevel(code), "unary RPC"); ce != nil {
			ce.Write(
				zap.String("method", info.FullMethod),
				zap.String("request_id", id),
				zap.Duration("duration", time.Since(start)),
				zap.String("code", code.String()),
				zap.Error(err),
			)
		}
		return resp, err
	}
}

// StreamLoggingInterceptor logs streaming RPC calls with timing and errors
func StreamLoggingInterceptor(logger *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		id := requestID(ss.Context())

		logger.Debug("stream RPC started",
			zap.String("method", info.FullMethod),
			zap.String("request_id", id),
			zap.Bool("is_client_stream", info.IsClientStream),
		)

		err := handler(srv, ss)

		code := status.Code(err)
		if ce := logger.Check(codeLevel(code), "stream RPC"); ce != nil {
			ce.Write(
				zap.String("method", info.FullMethod),
				zap.String("request_id", id),
				zap.Duration("duration", time.Since(start)),
				zap.String("code", code.String()),
				zap.Error(err),
			)
		}
		return err
	}
}
