// Package dispatcher implements the per-request filter chain: on_request
// filters in order, the handler (or a synthesized 404), on_response
// filters in reverse, and the access log callback once the response body
// has finished streaming.
package dispatcher

import (
	"fmt"
	"time"

	"github.com/robertkrimen/otto"

	"github.com/firasghr/casperedge/internal/errs"
	"github.com/firasghr/casperedge/internal/httpmodel"
	"github.com/firasghr/casperedge/internal/metrics"
	"github.com/firasghr/casperedge/internal/scripting"
)

// AccessLogFields is the field set passed to the access log callback,
// exactly once, after the response body has finished streaming to the
// client.
type AccessLogFields struct {
	URI            string
	Method         string
	RemoteAddr     string
	ElapsedMillis  int64
	Status         int
	ActiveConns    int64
	ActiveRequests int64
	ResponseSize   int64
	Error          string
}

// Dispatcher runs one worker's filter chain and handler against a VM.
type Dispatcher struct {
	vm           *scripting.VM
	metric       *metrics.Registry
	filters      []*scripting.Filter
	handler      otto.Value
	hasHandler   bool
	accessLog    otto.Value
	hasAccessLog bool
}

// New builds a Dispatcher over an already-constructed VM, filters (in
// configured order), an optional handler, and an optional access log
// callback.
func New(vm *scripting.VM, metric *metrics.Registry, filters []*scripting.Filter, handler otto.Value, hasHandler bool, accessLog otto.Value, hasAccessLog bool) *Dispatcher {
	return &Dispatcher{
		vm:           vm,
		metric:       metric,
		filters:      filters,
		handler:      handler,
		hasHandler:   hasHandler,
		accessLog:    accessLog,
		hasAccessLog: hasAccessLog,
	}
}

// Outcome is everything Dispatch learned about a request it ran, used to
// populate AccessLogFields once the caller finishes streaming the body.
type Outcome struct {
	Response *httpmodel.Response
	Started  time.Time
	Err      error
}

// Dispatch runs the full state machine in §4.7 and returns the response
// the caller should send (which is always non-nil when err is nil).
func (d *Dispatcher) Dispatch(req *httpmodel.Request) (*Outcome, error) {
	started := time.Now()
	ctx := httpmodel.NewRequestContext()

	shortCircuitIndex := -1
	var resp *httpmodel.Response

	for i, f := range d.filters {
		if !f.HasOnRequest() {
			continue
		}
		phaseStart := time.Now()
		r, err := d.vm.CallOnRequest(f, req, ctx)
		d.observeFilter(f.Name, "on_request", time.Since(phaseStart))
		if err != nil {
			d.metric.FilterErrors.WithLabelValues(f.Name, "on_request").Inc()
			return nil, fmt.Errorf("%w: filter %q: %v", errs.ErrFilterError, f.Name, err)
		}
		if r != nil {
			resp = r
			shortCircuitIndex = i + 1
			break
		}
	}

	if resp == nil {
		if d.hasHandler {
			handlerResp, err := d.vm.CallHandler(d.handler, req, ctx)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", errs.ErrHandlerError, err)
			}
			resp = handlerResp
		} else {
			resp = httpmodel.Text(404, "Not Found")
		}
	}

	prefixEnd := len(d.filters)
	if shortCircuitIndex >= 0 {
		prefixEnd = shortCircuitIndex
	}
	for i := prefixEnd - 1; i >= 0; i-- {
		f := d.filters[i]
		if !f.HasOnResponse() {
			continue
		}
		phaseStart := time.Now()
		err := d.vm.CallOnResponse(f, resp, ctx)
		d.observeFilter(f.Name, "on_response", time.Since(phaseStart))
		if err != nil {
			d.metric.FilterErrors.WithLabelValues(f.Name, "on_response").Inc()
			return nil, fmt.Errorf("%w: filter %q: %v", errs.ErrFilterError, f.Name, err)
		}
	}

	resp.Version = req.Version

	return &Outcome{Response: resp, Started: started}, nil
}

func (d *Dispatcher) observeFilter(name, phase string, elapsed time.Duration) {
	d.metric.FilterRequestDuration.WithLabelValues(name, phase).Observe(elapsed.Seconds())
}

// RunAccessLog invokes the access log callback, if configured, with the
// field set from §4.7 step 6. Callers must invoke this only after the
// response body has finished streaming to the client.
func (d *Dispatcher) RunAccessLog(fields AccessLogFields) {
	if !d.hasAccessLog {
		return
	}
	obj, err := d.vm.WrapAccessLogFields(fields.URI, fields.Method, fields.RemoteAddr, fields.ElapsedMillis, fields.Status, fields.ActiveConns, fields.ActiveRequests, fields.ResponseSize, fields.Error)
	if err != nil {
		return
	}
	d.vm.CallLogCallback(d.accessLog, obj)
}
