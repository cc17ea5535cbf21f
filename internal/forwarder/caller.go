package forwarder

import (
	"context"

	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"
)

type callerKey struct{}

// WithCaller records the authenticated caller's identity on ctx.
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext returns the identity stored by WithCaller.
func CallerFromContext(ctx context.Context) string {
	caller, _ := ctx.Value(callerKey{}).(string)
	return caller
}

// CallerFromPeer returns the common name of the verified client certificate
// on the connection behind ctx. The name is informational: every client
// chaining to the gateway CA is authorized alike.
func CallerFromPeer(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.AuthInfo == nil {
		return ""
	}
	info, ok := p.AuthInfo.(credentials.TLSInfo)
	if !ok {
		return ""
	}
	chains := info.State.VerifiedChains
	if len(chains) > 0 && len(chains[0]) > 0 {
		return chains[0][0].Subject.CommonName
	}
	if certs := info.State.PeerCertificates; len(certs) > 0 {
		return certs[0].Subject.CommonName
	}
	return ""
}
