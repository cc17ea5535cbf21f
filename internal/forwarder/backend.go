package forwarder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrMethodNotFound is returned by a Backend that does not implement a method.
var ErrMethodNotFound = errors.New("method not found")

// Backend executes RPC methods. Implementations must be safe for concurrent use.
type Backend interface {
	Call(ctx context.Context, method string, params map[string]any) (map[string]any, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, method string, params map[string]any) (map[string]any, error)

func (f BackendFunc) Call(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	return f(ctx, method, params)
}

// RPCError is a failure reported by the backend itself, as opposed to a
// transport problem.
type RPCError struct {
	Code    int
	Message string
	Data    map[string]any
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// HandlerFunc implements a single backend method.
type HandlerFunc func(ctx context.Context, params map[string]any) (map[string]any, error)

// Router is a Backend that dispatches on the lower-cased method name.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	fallback Backend
}

// NewRouter creates an empty router. Calls to unregistered methods go to
// fallback when it is non-nil.
func NewRouter(fallback Backend) *Router {
	return &Router{
		handlers: make(map[string]HandlerFunc),
		fallback: fallback,
	}
}

// Handle registers h for method, replacing any previous handler.
func (r *Router) Handle(method string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[strings.ToLower(method)] = h
}

// Methods lists the registered method names in sorted order.
func (r *Router) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	methods := make([]string, 0, len(r.handlers))
	for method := range r.handlers {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return methods
}

func (r *Router) Call(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	r.mu.RLock()
	h, ok := r.handlers[strings.ToLower(method)]
	r.mu.RUnlock()

	if ok {
		return h(ctx, params)
	}
	if r.fallback != nil {
		return r.fallback.Call(ctx, method, params)
	}
	return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, method)
}
