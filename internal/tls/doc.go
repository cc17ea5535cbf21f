// Package tls owns the gateway's private certificate authority and the mutual
// TLS configuration built from it.
//
// On startup an ArtifactStore reconciles the six PEM artifacts kept in the
// node's data directory (ca.pem, ca-key.pem, server.pem, server-key.pem,
// client.pem, client-key.pem), regenerating only the pairs that are missing
// or incomplete. The resulting Bundle is immutable and is used to build the
// server listener configuration, which requires client certificates chained
// to this node's CA, and the matching client configuration handed to callers.
package tls
