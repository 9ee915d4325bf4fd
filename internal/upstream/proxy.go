// Package upstream forwards a dispatched request to an origin server over
// plain HTTP or an upgraded WebSocket tunnel.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/firasghr/casperedge/internal/errs"
	"github.com/firasghr/casperedge/internal/headers"
	"github.com/firasghr/casperedge/internal/httpmodel"
)

// sharedTransport carries the pool-sizing knobs a single shared
// transport needs to serve many concurrent upstream requests without
// lock contention on a single global pool.
var sharedTransport = &http.Transport{
	MaxIdleConns:          500,
	MaxIdleConnsPerHost:   100,
	MaxConnsPerHost:       200,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
}

// Proxy forwards requests to an origin, reusing one long-lived transport
// across every call.
type Proxy struct {
	client *http.Client
}

// New builds a Proxy. defaultTimeout bounds a request when the caller
// doesn't set its own.
func New(defaultTimeout time.Duration) *Proxy {
	return &Proxy{client: &http.Client{
		Transport: sharedTransport,
		Timeout:   defaultTimeout,
		// CheckRedirect returns http.ErrUseLastResponse: casperedge
		// forwards the origin's response as-is, it does not follow
		// redirects on the client's behalf.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}
}

// Target names the upstream origin a request should be merged against.
// Scheme and Authority are always taken from Target; Path (and its query)
// is taken from Target only when non-empty, otherwise from the inbound
// request.
type Target struct {
	Scheme    string
	Authority string
	Path      string
}

// mergeURI combines reqURI with an upstream Target per §4.8: the upstream
// always supplies scheme/authority, and supplies path+query only when it
// names a non-empty one.
func mergeURI(reqURI string, target Target) (string, error) {
	parsedReq, err := url.Parse(reqURI)
	if err != nil {
		return "", fmt.Errorf("upstream: parse request uri %q: %w", reqURI, err)
	}
	out := &url.URL{
		Scheme: target.Scheme,
		Host:   target.Authority,
	}
	if target.Path != "" {
		parsedTarget, err := url.Parse(target.Path)
		if err != nil {
			return "", fmt.Errorf("upstream: parse target path %q: %w", target.Path, err)
		}
		out.Path = parsedTarget.Path
		out.RawQuery = parsedTarget.RawQuery
	} else {
		out.Path = parsedReq.Path
		out.RawQuery = parsedReq.RawQuery
	}
	return out.String(), nil
}

// Forward proxies req to target and maps transport-level failures onto
// the status codes §4.8 names: connect errors → 503, deadline → 504,
// protocol/encode/decode errors → 502. An error merging the request URI
// is returned unwrapped for the caller to treat as a filter error.
func (p *Proxy) Forward(ctx context.Context, req *httpmodel.Request, target Target, timeout time.Duration) (*httpmodel.Response, error) {
	uri, err := mergeURI(req.URI, target)
	if err != nil {
		return nil, err
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	body, err := req.Body.Buffer(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: reading request body: %v", errs.ErrUpstreamProtocol, err)
	}

	outReq, err := http.NewRequestWithContext(ctx, req.Method, uri, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: building upstream request: %v", errs.ErrUpstreamProtocol, err)
	}
	copyHeadersToHTTP(req.Headers, outReq.Header)
	stripHopByHopHTTP(outReq.Header)

	resp, err := p.client.Do(outReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading upstream body: %v", errs.ErrUpstreamProtocol, err)
	}

	out := httpmodel.NewResponse(resp.StatusCode)
	out.Headers = copyHeadersFromHTTP(resp.Header)
	headers.StripHopByHop(out.Headers)
	out.Body = httpmodel.FromBytes(respBody)
	return out, nil
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", errs.ErrUpstreamTimeout, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w: %v", errs.ErrUpstreamUnavailable, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", errs.ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%w: %v", errs.ErrUpstreamProtocol, err)
}

// StatusForError maps an upstream error to the HTTP status the worker
// sends to the client when a handler lets it escape.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, errs.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, errs.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, errs.ErrUpstreamProtocol):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func copyHeadersToHTTP(src *headers.Map, dst http.Header) {
	if src == nil {
		return
	}
	for _, name := range src.Names() {
		for _, v := range src.Values(name) {
			dst.Add(name, v)
		}
	}
}

func copyHeadersFromHTTP(src http.Header) *headers.Map {
	m := headers.New()
	for name, values := range src {
		for _, v := range values {
			m.Add(name, v)
		}
	}
	return m
}

// stripHopByHopHTTP removes every hop-by-hop header from a net/http.Header
// in place, the same header set headers.StripHopByHop removes from a
// *headers.Map.
func stripHopByHopHTTP(h http.Header) {
	for _, name := range headers.HopByHop {
		h.Del(name)
	}
}
