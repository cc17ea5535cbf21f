package gateway

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/polisai/polis-gateway/internal/forwarder"
)

// observe wraps a call with in-flight tracking, panic recovery, metrics and
// an access log line.
func (s *Server) observe(ctx context.Context, fullMethod string, call func() error) (err error) {
	_, method, splitErr := forwarder.SplitMethod(fullMethod)
	if splitErr != nil {
		method = fullMethod
	}
	method = forwarder.BackendMethod(method)

	start := time.Now()
	s.metrics.rpcStarted()
	defer func() {
		if r := recover(); r != nil {
			s.metrics.RecordPanic()
			s.logger.LogAttrs(ctx, slog.LevelError, "Recovered handler panic",
				slog.String("event", "rpc_panic"),
				slog.String("method", fullMethod),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = status.Error(codes.Internal, "internal error")
		}

		duration := time.Since(start)
		code := status.Code(err)
		s.metrics.rpcFinished()
		s.metrics.RecordRPC(method, code.String(), duration)

		level := slog.LevelInfo
		if code != codes.OK {
			level = slog.LevelWarn
		}
		s.logger.LogAttrs(ctx, level, "RPC completed",
			slog.String("event", "rpc_completed"),
			slog.String("method", fullMethod),
			slog.String("caller", forwarder.CallerFromPeer(ctx)),
			slog.String("code", code.String()),
			slog.Duration("duration", duration),
		)
	}()

	return call()
}

func (s *Server) unaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	err = s.observe(ctx, info.FullMethod, func() error {
		var callErr error
		resp, callErr = handler(ctx, req)
		return callErr
	})
	return resp, err
}

func (s *Server) streamInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	return s.observe(ss.Context(), info.FullMethod, func() error {
		return handler(srv, ss)
	})
}
