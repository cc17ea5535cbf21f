package forwarder

import (
	"context"
	"crypto/tls"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls methods through a gateway.
type Client struct {
	conn    *grpc.ClientConn
	service string
}

// Dial connects to service on the gateway at target using the mutual TLS
// client configuration cfg. No handshake happens until the first call.
func Dial(target, service string, cfg *tls.Config, opts ...grpc.DialOption) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("client TLS configuration is required")
	}
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(credentials.NewTLS(cfg))}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", target, err)
	}
	return NewClient(conn, service), nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn, service string) *Client {
	if service == "" {
		service = DefaultService
	}
	return &Client{conn: conn, service: service}
}

// Call invokes method with params and returns the decoded result.
func (c *Client) Call(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	req, err := structpb.NewStruct(params)
	if err != nil {
		return nil, fmt.Errorf("encode %s params: %w", method, err)
	}
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, FullMethod(c.service, method), req, resp); err != nil {
		return nil, err
	}
	return resp.AsMap(), nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
