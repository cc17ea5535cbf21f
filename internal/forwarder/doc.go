// Package forwarder hands authenticated gRPC calls to the node's RPC backend.
//
// The gateway does not know the backend's schema. Every method under the
// configured service is accepted by a gRPC unknown-service handler, its
// google.protobuf.Struct request is passed to a Backend as a plain map, and
// the backend's result is sent back the same way. Method "/cln.Node/Getinfo"
// reaches the backend as "getinfo".
package forwarder
