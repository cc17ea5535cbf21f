package forwarder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Options configures a Forwarder.
type Options struct {
	// Service is the only gRPC service accepted. Defaults to DefaultService.
	Service string
	// RawAmounts disables amount rewriting in both directions.
	RawAmounts bool
	Logger     *slog.Logger
	Tracer     trace.Tracer
}

// Forwarder relays gRPC calls that passed mutual TLS to a Backend.
type Forwarder struct {
	backend    Backend
	service    string
	rawAmounts bool
	logger     *slog.Logger
	tracer     trace.Tracer
}

// New creates a Forwarder for backend.
func New(backend Backend, opts Options) *Forwarder {
	if opts.Service == "" {
		opts.Service = DefaultService
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("polis.gateway/forwarder")
	}
	return &Forwarder{
		backend:    backend,
		service:    opts.Service,
		rawAmounts: opts.RawAmounts,
		logger:     opts.Logger.With("component", "forwarder"),
		tracer:     opts.Tracer,
	}
}

// Service returns the gRPC service name the forwarder accepts.
func (f *Forwarder) Service() string {
	return f.service
}

// ServerOption installs the forwarder as the server's unknown-service handler.
func (f *Forwarder) ServerOption() grpc.ServerOption {
	return grpc.UnknownServiceHandler(f.StreamHandler)
}

// StreamHandler serves one unary call arriving as a stream. Streams carrying
// more than one request message are not supported; only the first is read.
func (f *Forwarder) StreamHandler(_ any, stream grpc.ServerStream) error {
	fullMethod, ok := grpc.MethodFromServerStream(stream)
	if !ok {
		return status.Error(grpccodes.Internal, "method name missing from stream")
	}
	service, method, err := SplitMethod(fullMethod)
	if err != nil {
		return status.Error(grpccodes.Unimplemented, err.Error())
	}
	if service != f.service {
		return status.Errorf(grpccodes.Unimplemented, "unknown service %s", service)
	}

	caller := CallerFromPeer(stream.Context())
	ctx := WithCaller(stream.Context(), caller)
	backendMethod := BackendMethod(method)

	ctx, span := f.tracer.Start(ctx, "rpc.forward", trace.WithAttributes(
		attribute.String("rpc.service", service),
		attribute.String("rpc.method", backendMethod),
		attribute.String("rpc.caller", caller),
	))
	defer span.End()

	req := &structpb.Struct{}
	if err := stream.RecvMsg(req); err != nil {
		if errors.Is(err, io.EOF) {
			err = status.Error(grpccodes.InvalidArgument, "request message missing")
		}
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	params := req.AsMap()
	if !f.rawAmounts {
		if params, err = RequestAmounts(params); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return status.Errorf(grpccodes.InvalidArgument, "%s: %v", backendMethod, err)
		}
	}

	start := time.Now()
	result, err := f.backend.Call(ctx, backendMethod, params)
	duration := time.Since(start)
	if err != nil {
		st := statusFromBackend(backendMethod, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, st.Message())
		f.logger.LogAttrs(ctx, slog.LevelWarn, "Backend call failed",
			slog.String("event", "rpc_forward_failed"),
			slog.String("method", backendMethod),
			slog.String("caller", caller),
			slog.String("code", st.Code().String()),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
		return st.Err()
	}

	if !f.rawAmounts {
		result = ConvertAmounts(result)
	}
	resp, err := structpb.NewStruct(result)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return status.Errorf(grpccodes.Internal, "encode %s result: %v", backendMethod, err)
	}

	f.logger.LogAttrs(ctx, slog.LevelDebug, "Forwarded RPC",
		slog.String("event", "rpc_forwarded"),
		slog.String("method", backendMethod),
		slog.String("caller", caller),
		slog.Duration("duration", duration),
	)
	return stream.SendMsg(resp)
}

// statusFromBackend maps backend errors onto gRPC status codes.
func statusFromBackend(method string, err error) *status.Status {
	if st, ok := status.FromError(err); ok {
		return st
	}

	var rpcErr *RPCError
	switch {
	case errors.Is(err, ErrMethodNotFound):
		return status.Newf(grpccodes.Unimplemented, "method %s not implemented", method)
	case errors.Is(err, context.DeadlineExceeded):
		return status.New(grpccodes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.New(grpccodes.Canceled, err.Error())
	case errors.As(err, &rpcErr):
		return status.Newf(grpccodes.Unknown, "error calling %s: %s", method, rpcErr.Error())
	default:
		return status.Newf(grpccodes.Unavailable, "error calling %s: %v", method, err)
	}
}
