// Package worker implements the per-worker connection server: one script
// VM, one task scheduler, one set of storage handles, and an HTTP/1
// server that dispatches every request through the filter chain,
// forwards to an upstream when asked, and tunnels WebSocket upgrades.
//
// A Worker owns its VM for its entire lifetime: nothing here is safe for
// concurrent use from more than one goroutine except the process-wide
// singletons the VM itself reaches into (the regex cache, the metrics
// registry, the storage backends).
package worker

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/firasghr/casperedge/internal/dispatcher"
	"github.com/firasghr/casperedge/internal/httpmodel"
	"github.com/firasghr/casperedge/internal/logger"
	"github.com/firasghr/casperedge/internal/metrics"
	"github.com/firasghr/casperedge/internal/scripting"
	"github.com/firasghr/casperedge/internal/tasks"
	"github.com/firasghr/casperedge/internal/upstream"
)

// Worker is one entry of the bounded worker pool: an id, a script VM, a
// task scheduler, and the HTTP/1 server that accepts streams handed to it
// by the acceptor.
type Worker struct {
	ID         int
	VM         *scripting.VM
	Scheduler  *tasks.Scheduler
	Dispatcher *dispatcher.Dispatcher
	metric     *metrics.Registry
	log        *logger.Logger

	bodyTimeout time.Duration

	activeConns    atomic.Int64
	activeRequests atomic.Int64
	lastMemSample  atomic.Int64
	shuttingDown   atomic.Bool

	listener *chanListener
	srv      *http.Server
	pinCore  *int

	memSampleStop chan struct{}
	closeHook     func()
}

// SetCloseHook registers a callback invoked every time a connection this
// worker owns closes, letting the acceptor's own least-loaded counters
// track completion without polling ActiveConnections.
func (w *Worker) SetCloseHook(fn func()) { w.closeHook = fn }

// Pin requests that Serve lock its goroutine to the given physical core
// before accepting connections. Best-effort: on platforms without a CPU
// affinity syscall this is a no-op.
func (w *Worker) Pin(core int) { w.pinCore = &core }

// New builds a Worker bound to an already-constructed VM, scheduler, and
// dispatcher. bodyTimeout is passed to httpmodel.FromStream for every
// request body; FromStream documents where that timeout applies.
func New(id int, vm *scripting.VM, sched *tasks.Scheduler, disp *dispatcher.Dispatcher, metric *metrics.Registry, log *logger.Logger, bodyTimeout time.Duration) *Worker {
	w := &Worker{
		ID:          id,
		VM:          vm,
		Scheduler:   sched,
		Dispatcher:  disp,
		metric:      metric,
		log:         log.Sub("worker[" + strconv.Itoa(id) + "]"),
		bodyTimeout: bodyTimeout,
	}
	w.listener = newChanListener(workerAddr(id))
	w.srv = &http.Server{
		Handler:           http.HandlerFunc(w.serveHTTP),
		ReadHeaderTimeout: 30 * time.Second,
		ConnState:         w.onConnState,
	}
	return w
}

type workerAddr int

func (a workerAddr) Network() string { return "worker" }
func (a workerAddr) String() string  { return "worker-" + strconv.Itoa(int(a)) }

// Serve starts the per-worker HTTP server and the memory-sampling ticker.
// It blocks until Shutdown is called or the listener fails.
func (w *Worker) Serve() error {
	if w.pinCore != nil {
		runtime.LockOSThread()
		if err := pinToCore(*w.pinCore); err != nil {
			w.log.Errorf("pin to core %d: %v", *w.pinCore, err)
		}
	}
	w.memSampleStop = make(chan struct{})
	go w.sampleMemory()
	err := w.srv.Serve(w.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Accept hands an already-accepted connection to this worker, as decided
// by the acceptor's assignment policy. It returns false if the worker has
// begun shutting down and the caller must route elsewhere.
func (w *Worker) Accept(conn net.Conn) bool {
	if w.shuttingDown.Load() {
		return false
	}
	return w.listener.hand(conn)
}

// ActiveConnections reports the worker's current in-flight connection
// count, used by the acceptor's least-loaded assignment policy.
func (w *Worker) ActiveConnections() int64 { return w.activeConns.Load() }

// ActiveRequests reports the worker's current in-flight request count.
func (w *Worker) ActiveRequests() int64 { return w.activeRequests.Load() }

// UsedMemoryBytes reports the worker's last memory sample, as recorded
// into lua_used_memory_bytes by sampleMemory.
func (w *Worker) UsedMemoryBytes() float64 { return float64(w.lastMemSample.Load()) }

// ShuttingDown reports whether Shutdown has been called; the acceptor
// must never route a new connection here afterward.
func (w *Worker) ShuttingDown() bool { return w.shuttingDown.Load() }

// Shutdown stops accepting new connections, drains in-flight ones, and
// stops the background task scheduler and memory sampler.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.shuttingDown.Store(true)
	if w.memSampleStop != nil {
		close(w.memSampleStop)
	}
	w.Scheduler.Stop()
	return w.srv.Shutdown(ctx)
}

func (w *Worker) onConnState(conn net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		w.activeConns.Add(1)
		w.metric.HTTPConnections.Inc()
		w.metric.HTTPConnectionsCurrent.Inc()
	case http.StateClosed, http.StateHijacked:
		w.activeConns.Add(-1)
		w.metric.HTTPConnectionsCurrent.Dec()
		if w.closeHook != nil {
			w.closeHook()
		}
	}
}

// sampleMemory periodically records this worker's process-wide memory
// stats into the lua_used_memory_bytes gauge, indexed by worker id. otto
// doesn't expose a VM-scoped heap size, so this is a best-effort,
// process-wide approximation rather than a true per-VM figure.
func (w *Worker) sampleMemory() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-w.memSampleStop:
			return
		case <-ticker.C:
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			w.lastMemSample.Store(int64(stats.Alloc))
			w.metric.ScriptUsedMemoryBytes.WithLabelValues(strconv.Itoa(w.ID)).Set(float64(stats.Alloc))
		}
	}
}

func (w *Worker) serveHTTP(rw http.ResponseWriter, r *http.Request) {
	started := time.Now()
	w.activeRequests.Add(1)
	w.metric.HTTPRequests.Inc()
	w.metric.HTTPRequestsCurrent.Inc()
	defer func() {
		w.activeRequests.Add(-1)
		w.metric.HTTPRequestsCurrent.Dec()
	}()

	req := w.toHTTPModelRequest(r)

	outcome, err := w.Dispatcher.Dispatch(req)
	if err != nil {
		w.metric.HandlerErrors.Inc()
		w.log.Errorf("dispatch: %v", err)
		w.writeInternalError(rw, req, started, err)
		return
	}
	resp := outcome.Response

	if resp.Upgrade != nil && upstream.IsUpgrade(req) {
		w.tunnelUpgrade(rw, req, resp, started)
		return
	}

	w.writeResponse(rw, r, req, resp, started)
}

func (w *Worker) tunnelUpgrade(rw http.ResponseWriter, req *httpmodel.Request, resp *httpmodel.Response, started time.Time) {
	hijacker, ok := rw.(http.Hijacker)
	if !ok {
		w.writeInternalError(rw, req, started, errors.New("worker: connection does not support hijacking"))
		return
	}
	target := upstream.Target{Scheme: resp.Upgrade.Scheme, Authority: resp.Upgrade.Authority, Path: resp.Upgrade.Path}
	if err := upstream.ProxyUpgrade(req, target, hijacker); err != nil {
		w.log.Errorf("websocket tunnel: %v", err)
	}
	w.metric.HTTPRequestDuration.WithLabelValues("101").Observe(time.Since(started).Seconds())
	w.Dispatcher.RunAccessLog(dispatcher.AccessLogFields{
		URI: req.URI, Method: req.Method, RemoteAddr: req.RemoteAddr,
		ElapsedMillis: time.Since(started).Milliseconds(), Status: 101,
		ActiveConns: w.activeConns.Load(), ActiveRequests: w.activeRequests.Load(),
	})
}

func (w *Worker) writeResponse(rw http.ResponseWriter, r *http.Request, req *httpmodel.Request, resp *httpmodel.Response, started time.Time) {
	hdr := rw.Header()
	for _, name := range resp.Headers.Names() {
		for _, v := range resp.Headers.Values(name) {
			hdr.Add(name, v)
		}
	}
	rw.WriteHeader(resp.Status)

	body, err := resp.Body.Reader(r.Context())
	var written int64
	var streamErr string
	if err != nil {
		streamErr = err.Error()
	} else {
		defer body.Close()
		written, err = io.Copy(rw, body)
		if err != nil {
			streamErr = err.Error()
		}
	}

	w.metric.HTTPRequestDuration.WithLabelValues(strconv.Itoa(resp.Status)).Observe(time.Since(started).Seconds())
	w.Dispatcher.RunAccessLog(dispatcher.AccessLogFields{
		URI: req.URI, Method: req.Method, RemoteAddr: req.RemoteAddr,
		ElapsedMillis: time.Since(started).Milliseconds(), Status: resp.Status,
		ActiveConns: w.activeConns.Load(), ActiveRequests: w.activeRequests.Load(),
		ResponseSize: written, Error: streamErr,
	})
}

func (w *Worker) writeInternalError(rw http.ResponseWriter, req *httpmodel.Request, started time.Time, cause error) {
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	rw.WriteHeader(http.StatusInternalServerError)
	body := "Internal Server Error"
	io.WriteString(rw, body) //nolint:errcheck

	w.metric.HTTPRequestDuration.WithLabelValues("500").Observe(time.Since(started).Seconds())
	w.Dispatcher.RunAccessLog(dispatcher.AccessLogFields{
		URI: req.URI, Method: req.Method, RemoteAddr: req.RemoteAddr,
		ElapsedMillis: time.Since(started).Milliseconds(), Status: http.StatusInternalServerError,
		ActiveConns: w.activeConns.Load(), ActiveRequests: w.activeRequests.Load(),
		ResponseSize: int64(len(body)), Error: cause.Error(),
	})
}

func (w *Worker) toHTTPModelRequest(r *http.Request) *httpmodel.Request {
	req := httpmodel.NewRequest(r.Method, r.URL.RequestURI(), r.Proto)
	req.RemoteAddr = r.RemoteAddr
	for name, values := range r.Header {
		for _, v := range values {
			req.Headers.Add(name, v)
		}
	}
	if r.Body != nil && r.Body != http.NoBody {
		req.Body = httpmodel.FromStream(r.Body, w.bodyTimeout)
	}
	return req
}
