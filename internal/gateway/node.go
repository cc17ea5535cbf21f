package gateway

import (
	"context"
	"strings"

	"github.com/polisai/polis-gateway/internal/forwarder"
	gwtls "github.com/polisai/polis-gateway/internal/tls"
)

// NodeInfo describes the gateway for the built-in getinfo method.
type NodeInfo struct {
	Network    string
	Version    string
	ServerName string
	Bundle     *gwtls.Bundle
}

// RegisterBuiltins installs the methods the gateway answers itself.
func RegisterBuiltins(router *forwarder.Router, info NodeInfo) {
	router.Handle("getinfo", func(context.Context, map[string]any) (map[string]any, error) {
		methods := router.Methods()
		names := make([]any, len(methods))
		for i, m := range methods {
			names[i] = m
		}
		return map[string]any{
			"id":                 nodeID(info.Bundle),
			"alias":              info.ServerName,
			"network":            info.Network,
			"version":            info.Version,
			"ca_fingerprint":     info.Bundle.CAFingerprint(),
			"server_fingerprint": info.Bundle.ServerFingerprint(),
			"methods":            names,
		}, nil
	})
}

// nodeID is the CA fingerprint in lower-case hex. It is stable for as long as
// the artifacts directory keeps its CA.
func nodeID(bundle *gwtls.Bundle) string {
	return strings.ToLower(strings.ReplaceAll(bundle.CAFingerprint(), ":", ""))
}
