// Package errs defines the behavioral error categories shared across
// casperedge's subsystems. Callers match on these with errors.Is; concrete
// errors are always wrapped with additional context via fmt.Errorf's %w.
package errs

import "errors"

// Startup/config errors. Fatal: the process must not begin serving traffic.
var ErrConfigInvalid = errors.New("config: invalid")

// Script lifecycle errors.
var (
	ErrScriptLoadFailed    = errors.New("script: load failed")
	ErrScriptRuntimeFailed = errors.New("script: runtime error")
)

// Dispatcher errors. Both are surfaced to the client as 500 Internal Server Error.
var (
	ErrFilterError  = errors.New("dispatcher: filter error")
	ErrHandlerError = errors.New("dispatcher: handler error")
)

// Upstream proxy errors, mapped to status codes by internal/upstream.
var (
	ErrUpstreamUnavailable = errors.New("upstream: unavailable")
	ErrUpstreamTimeout     = errors.New("upstream: timeout")
	ErrUpstreamProtocol    = errors.New("upstream: protocol error")
)

// Storage errors. Never promoted to a 5xx automatically: callers (scripts)
// receive these as the second return value of a storage operation.
var (
	ErrStorageUnavailable = errors.New("storage: unavailable")
	ErrStorageTimeout     = errors.New("storage: timeout")
	ErrStorageCorrupt     = errors.New("storage: corrupt record")
)

// Task scheduler errors, surfaced to the script that owns the task handle.
var (
	ErrTaskTimedOut           = errors.New("task: timed out")
	ErrBackgroundLimitReached = errors.New("task: background limit reached")
	ErrSchedulerShutdown      = errors.New("task: scheduler shutdown")
)

// Body errors, surfaced to the script that reads the body.
var (
	ErrBodyReadError = errors.New("body: read error")
	ErrBodyTimeout   = errors.New("body: read timeout")
)
