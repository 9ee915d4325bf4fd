package httpmodel

import (
	"time"

	"github.com/firasghr/casperedge/internal/headers"
)

// Request is the mutable request object a script owns for the lifetime of
// a filter call.
type Request struct {
	Method     string
	URI        string
	Version    string
	Headers    *headers.Map
	Body       *Body
	RemoteAddr string

	// Timeout, if non-zero, overrides the upstream proxy's default
	// per-request timeout for this request alone.
	Timeout time.Duration
}

// NewRequest builds a Request with an Empty body and a fresh header map.
func NewRequest(method, uri, version string) *Request {
	return &Request{
		Method:  method,
		URI:     uri,
		Version: version,
		Headers: headers.New(),
		Body:    Empty(),
	}
}
