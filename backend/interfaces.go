package backend

import (
	"context"
)

// Backend is the uniform contract every model backend implements.
// Implementations differ only in wire protocol; the contract is otherwise
// identical, which is what enables uniform orchestration by the dispatcher.
type Backend interface {
	// Execute sends the request to the backend and returns the normalized
	// result. It must never panic across this boundary: all failure is
	// expressed as a Response carrying an error string and empty output.
	// Execute performs exactly one outbound call per invocation and respects
	// ctx cancellation by abandoning the in-flight network request.
	Execute(ctx context.Context, req *Request) *Response

	// IsAvailable performs a lightweight synthetic probe and reports whether
	// the backend can currently serve requests. It returns false on any
	// error and never panics; transient failure is tolerated by callers.
	IsAvailable(ctx context.Context) bool

	// Capabilities returns the static capability summary for this backend.
	// It is derived from configuration and performs no I/O.
	Capabilities() Capabilities
}
