// casperedged is a scriptable HTTP edge proxy and cache server.
//
// Startup sequence:
//  1. Load configuration (YAML file, or defaults).
//  2. Build the metrics registry and logger.
//  3. Build every configured storage backend (memory and/or remote_kv).
//  4. Build one script VM + task scheduler + dispatcher + upstream proxy
//     per worker, and start each worker's HTTP/1 connection server.
//  5. Start the acceptor, which owns the listening socket and distributes
//     accepted connections across the worker pool.
//  6. Start the dashboard server (Prometheus exposition + worker
//     introspection).
//  7. Block until SIGINT/SIGTERM, then shut everything down in reverse
//     order, draining in-flight connections.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/firasghr/casperedge/internal/acceptor"
	"github.com/firasghr/casperedge/internal/config"
	"github.com/firasghr/casperedge/internal/dashboard"
	"github.com/firasghr/casperedge/internal/dispatcher"
	"github.com/firasghr/casperedge/internal/logger"
	"github.com/firasghr/casperedge/internal/metrics"
	"github.com/firasghr/casperedge/internal/scripting"
	"github.com/firasghr/casperedge/internal/storage"
	"github.com/firasghr/casperedge/internal/tasks"
	"github.com/firasghr/casperedge/internal/upstream"
	"github.com/firasghr/casperedge/internal/worker"
	"github.com/robertkrimen/otto"
)

func main() {
	configFile := flag.String("config", "", "Path to a YAML config file (optional; uses defaults if omitted)")
	flag.Parse()

	log := logger.New(logger.LevelInfo)
	log.Info("casperedged starting up")

	cfg, err := loadConfig(*configFile, log)
	if err != nil {
		log.Errorf("configuration error: %v", err)
		os.Exit(1)
	}

	counterHelp := make(map[string]string, len(cfg.Metrics.Counters))
	for name, c := range cfg.Metrics.Counters {
		counterHelp[name] = c.Description
	}
	metric := metrics.New(cfg.Metrics.ExtraLabels, counterHelp)

	facades, err := buildStorage(cfg, log)
	if err != nil {
		log.Errorf("storage setup: %v", err)
		os.Exit(1)
	}

	workerCount := cfg.WorkerCount()
	workers := make([]*worker.Worker, workerCount)
	sources := make([]dashboard.WorkerSource, workerCount)
	acceptWorkers := make([]acceptor.Worker, workerCount)

	bodyTimeout := 30 * time.Second
	for i := 0; i < workerCount; i++ {
		maxBackground := 0
		if cfg.Main.MaxBackgroundTasks != nil {
			maxBackground = *cfg.Main.MaxBackgroundTasks
		}
		sched := tasks.NewScheduler(maxBackground)
		proxy := upstream.New(30 * time.Second)

		vm, err := scripting.New(i, log, metric, facades, sched, proxy)
		if err != nil {
			log.Errorf("worker %d: script VM init: %v", i, err)
			os.Exit(1)
		}

		filters := make([]*scripting.Filter, 0, len(cfg.HTTP.Filters))
		for _, fc := range cfg.HTTP.Filters {
			f, err := vm.LoadFilter(fc.Name, fc.Code)
			if err != nil {
				log.Errorf("worker %d: filter %q: %v", i, fc.Name, err)
				os.Exit(1)
			}
			filters = append(filters, f)
		}

		var handler otto.Value
		hasHandler := false
		if cfg.HTTP.Handler != nil {
			handler, err = vm.LoadHandler(cfg.HTTP.Handler.Code)
			if err != nil {
				log.Errorf("worker %d: handler: %v", i, err)
				os.Exit(1)
			}
			hasHandler = true
		}

		var accessLog otto.Value
		hasAccessLog := false
		if cfg.HTTP.AccessLog != nil {
			accessLog, err = vm.LoadLogCallback(cfg.HTTP.AccessLog.Code)
			if err != nil {
				log.Errorf("worker %d: access_log: %v", i, err)
				os.Exit(1)
			}
			hasAccessLog = true
		}

		disp := dispatcher.New(vm, metric, filters, handler, hasHandler, accessLog, hasAccessLog)
		w := worker.New(i, vm, sched, disp, metric, log, bodyTimeout)
		if cfg.Main.PinWorkers {
			w.Pin(i)
		}
		workers[i] = w
		sources[i] = w
		acceptWorkers[i] = w
	}

	for _, w := range workers {
		w := w
		go func() {
			if err := w.Serve(); err != nil {
				log.Errorf("worker %d: serve: %v", w.ID, err)
			}
		}()
	}
	log.Infof("%d workers started", workerCount)

	acc := acceptor.New(acceptWorkers, log)
	listen := cfg.Main.Listen
	if listen == "" {
		listen = "127.0.0.1:8080"
	}
	if err := acc.Listen(listen); err != nil {
		log.Errorf("listen on %s: %v", listen, err)
		os.Exit(1)
	}
	log.Infof("accepting connections on %s", listen)

	dash := dashboard.New(cfg.Metrics.Path, metric, sources, log)
	dashboardAddr := cfg.Main.DashboardListen
	if dashboardAddr == "" {
		dashboardAddr = ":8081"
	}
	go func() {
		if err := dash.ListenAndServe(dashboardAddr); err != nil {
			log.Errorf("dashboard server error: %v", err)
		}
	}()
	log.Infof("dashboard listening on %s", dashboardAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Println()
	log.Infof("received signal %s; shutting down", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := acc.Shutdown(shutdownCtx); err != nil {
		log.Errorf("acceptor shutdown: %v", err)
	}
	for _, w := range workers {
		if err := w.Shutdown(shutdownCtx); err != nil {
			log.Errorf("worker %d shutdown: %v", w.ID, err)
		}
	}
	log.Info("casperedged shut down cleanly")
}

func loadConfig(path string, log *logger.Logger) (*config.Config, error) {
	if path == "" {
		log.Info("using default configuration")
		return config.DefaultConfig(), nil
	}
	cfg, err := config.LoadYAML(path)
	if err != nil {
		return nil, err
	}
	log.Infof("configuration loaded from %q", path)
	return cfg, nil
}

func buildStorage(cfg *config.Config, log *logger.Logger) (map[string]*storage.Facade, error) {
	facades := make(map[string]*storage.Facade, len(cfg.Storage))
	for name, sc := range cfg.Storage {
		var backend storage.Backend
		var fetchTimeout, storeTimeout time.Duration

		switch sc.Backend {
		case "memory":
			backend = storage.NewMemoryBackend(name, sc.Memory.MaxSize)
			fetchTimeout, storeTimeout = time.Second, time.Second
		case "remote_kv":
			client, err := newRedisClient(sc.Remote)
			if err != nil {
				return nil, fmt.Errorf("storage[%s]: %w", name, err)
			}
			backend = storage.NewRedisBackend(name, client, storage.RedisBackendConfig{
				MaxBodyChunkSize:  sc.Remote.MaxBodyChunkSize,
				CompressionLevel:  sc.Remote.CompressionLevel,
				EncryptionKey:     sc.Remote.EncryptionKey,
				InternalCacheSize: sc.Remote.InternalCacheSize,
				InternalCacheTTL:  time.Duration(sc.Remote.InternalCacheTTL * float64(time.Second)),
			})
			fetchTimeout = time.Duration(sc.Remote.Timeouts.Fetch * float64(time.Second))
			storeTimeout = time.Duration(sc.Remote.Timeouts.Store * float64(time.Second))
		default:
			return nil, fmt.Errorf("storage[%s]: unknown backend %q", name, sc.Backend)
		}

		facades[name] = storage.NewFacade(name, backend, fetchTimeout, storeTimeout)
		log.Infof("storage[%s]: backend=%s ready", name, sc.Backend)
	}
	return facades, nil
}

func newRedisClient(rc *config.RemoteConfig) (storage.RedisClient, error) {
	switch {
	case rc.Server.Centralized != nil:
		return redis.NewClient(&redis.Options{
			Addr:         rc.Server.Centralized.Endpoint,
			Username:     rc.Username,
			Password:     rc.Password,
			PoolSize:     rc.PoolSize,
			DialTimeout:  time.Duration(rc.Timeouts.Connect * float64(time.Second)),
			ReadTimeout:  time.Duration(rc.Timeouts.Fetch * float64(time.Second)),
			WriteTimeout: time.Duration(rc.Timeouts.Store * float64(time.Second)),
		}), nil
	case rc.Server.Clustered != nil:
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        rc.Server.Clustered.Endpoints,
			Username:     rc.Username,
			Password:     rc.Password,
			PoolSize:     rc.PoolSize,
			DialTimeout:  time.Duration(rc.Timeouts.Connect * float64(time.Second)),
			ReadTimeout:  time.Duration(rc.Timeouts.Fetch * float64(time.Second)),
			WriteTimeout: time.Duration(rc.Timeouts.Store * float64(time.Second)),
		}), nil
	default:
		return nil, fmt.Errorf("remote_kv: neither server.centralized nor server.clustered is set")
	}
}
