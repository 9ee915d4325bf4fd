package httpmodel

import "github.com/firasghr/casperedge/internal/headers"

// Response is the mutable response object a script owns for the lifetime
// of a filter call, or that the dispatcher constructs from a cache hit,
// the handler, or a synthesized error page.
type Response struct {
	Status  int
	Version string
	Headers *headers.Map
	Body    *Body

	// Upgrade is set when a handler asked to tunnel this connection to an
	// upstream WebSocket endpoint instead of sending Body. The worker
	// checks this after the dispatcher returns, before writing anything
	// to the client.
	Upgrade *UpgradeTarget
}

// UpgradeTarget names the upstream a handler wants a WebSocket connection
// tunneled to.
type UpgradeTarget struct {
	Scheme    string
	Authority string
	Path      string
}

// NewResponse builds a Response with an Empty body and a fresh header map.
func NewResponse(status int) *Response {
	return &Response{
		Status:  status,
		Headers: headers.New(),
		Body:    Empty(),
	}
}

// Text builds a plain-text Response with the given status and body,
// useful for synthesized error pages ("Not Found", "Internal Server
// Error") and script short-circuit responses.
func Text(status int, body string) *Response {
	r := NewResponse(status)
	r.Headers.Set("Content-Type", "text/plain; charset=utf-8")
	r.Body = FromBytes([]byte(body))
	return r
}
