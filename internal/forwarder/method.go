package forwarder

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultService is the gRPC service the gateway exposes.
const DefaultService = "cln.Node"

// SplitMethod splits a full gRPC method name "/pkg.Service/Method".
func SplitMethod(fullMethod string) (service, method string, err error) {
	trimmed := strings.TrimPrefix(fullMethod, "/")
	i := strings.LastIndex(trimmed, "/")
	if i <= 0 || i == len(trimmed)-1 {
		return "", "", fmt.Errorf("malformed method name %q", fullMethod)
	}
	return trimmed[:i], trimmed[i+1:], nil
}

// FullMethod builds "/service/Method". A lower-case backend name such as
// "getinfo" becomes "Getinfo"; names that already carry capitals are kept.
func FullMethod(service, method string) string {
	return "/" + service + "/" + GRPCMethod(method)
}

// GRPCMethod maps a backend method name to its gRPC spelling.
func GRPCMethod(method string) string {
	if method == "" || strings.ToLower(method) != method {
		return method
	}
	r, size := utf8.DecodeRuneInString(method)
	return string(unicode.ToUpper(r)) + method[size:]
}

// BackendMethod maps a gRPC method name to the backend's spelling.
func BackendMethod(method string) string {
	return strings.ToLower(method)
}
