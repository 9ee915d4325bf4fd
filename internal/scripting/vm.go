// Package scripting binds one otto.Otto JavaScript interpreter per worker
// to the host modules filters, handlers, and log callbacks rely on:
// crypto, json/yaml, regex, csv, utils, udp, fs, log, datetime, metrics,
// storage, tasks, plus the Request/Response/Body objects themselves.
//
// A VM belongs to exactly one worker goroutine from construction to
// shutdown; nothing here is safe for concurrent use except the
// process-wide singletons it reaches into (the regex cache, the metrics
// registry, the storage backends).
package scripting

import (
	"fmt"
	"sync"

	"github.com/robertkrimen/otto"

	"github.com/firasghr/casperedge/internal/errs"
	"github.com/firasghr/casperedge/internal/httpmodel"
	"github.com/firasghr/casperedge/internal/logger"
	"github.com/firasghr/casperedge/internal/metrics"
	"github.com/firasghr/casperedge/internal/storage"
	"github.com/firasghr/casperedge/internal/tasks"
	"github.com/firasghr/casperedge/internal/upstream"
)

// VM is one worker's script interpreter plus the handle tables that let
// Go-side objects (Request, Response, Body, Task) be passed into JS as
// opaque, garbage-collection-friendly integers instead of live pointers
// otto cannot hold directly.
//
// A VM belongs to one worker, but background tasks spawned by the
// scheduler run their handler on their own goroutine (see
// internal/tasks) and may need to call back into the interpreter
// (reading a captured response, touching storage). ottoMu serializes
// every entry point into otto so the worker's request-handling goroutine
// and any in-flight task goroutines never execute interpreter bytecode
// concurrently, standing in for a true single-threaded cooperative
// scheduler.
type VM struct {
	id     int
	otto   *otto.Otto
	ottoMu sync.Mutex
	log    *logger.Logger
	metric *metrics.Registry

	storages  map[string]*storage.Facade
	scheduler *tasks.Scheduler
	proxy     *upstream.Proxy

	nextHandle int
	requests   map[int]*httpmodel.Request
	responses  map[int]*httpmodel.Response
	bodies     map[int]*httpmodel.Body
	taskHandle map[int]*tasks.Handle
}

// New constructs a VM for worker id, registers every host module, and
// enables script sandboxing (no process I/O beyond the capability objects
// handed out below).
func New(id int, log *logger.Logger, metric *metrics.Registry, storages map[string]*storage.Facade, scheduler *tasks.Scheduler, proxy *upstream.Proxy) (*VM, error) {
	v := &VM{
		id:         id,
		otto:       otto.New(),
		log:        log,
		metric:     metric,
		storages:   storages,
		scheduler:  scheduler,
		proxy:      proxy,
		requests:   make(map[int]*httpmodel.Request),
		responses:  make(map[int]*httpmodel.Response),
		bodies:     make(map[int]*httpmodel.Body),
		taskHandle: make(map[int]*tasks.Handle),
	}

	registrars := []func(*VM) error{
		registerCrypto,
		registerJSONYAML,
		registerRegex,
		registerCSV,
		registerUtils,
		registerUDP,
		registerFS,
		registerLog,
		registerDatetime,
		registerMetrics,
		registerStorage,
		registerTasks,
		registerHTTPObjects,
		registerProcessGlobals,
		registerProxy,
	}
	for _, reg := range registrars {
		if err := reg(v); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrScriptLoadFailed, err)
		}
	}
	return v, nil
}

// newHandle allocates the next opaque integer handle for this VM.
func (v *VM) newHandle() int {
	v.nextHandle++
	return v.nextHandle
}

// scriptPair builds the [value, errString] two-element array that
// storage and task host calls return instead of throwing: recoverable
// backend/task errors are values a script can branch on, never an
// uncaught exception the dispatcher would promote to a 500. errString
// is "" on success.
func (v *VM) scriptPair(value otto.Value, errString string) otto.Value {
	arr, _ := v.otto.Object(`([])`)
	arr.Set("0", value)
	if errString == "" {
		null, _ := otto.ToValue(nil)
		arr.Set("1", null)
	} else {
		e, _ := otto.ToValue(errString)
		arr.Set("1", e)
	}
	return arr.Value()
}
