// Package config loads and validates casperedge's configuration.
//
// The primary configuration surface is a YAML document (gopkg.in/yaml.v3);
// a JSON loading path is kept for operators who prefer to generate config
// programmatically. Either way the result is a single validated Config
// value — CLI parsing, process supervision and exporter wiring are handled
// by cmd/casperedged and are not this package's concern.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/firasghr/casperedge/internal/errs"
)

// CodeConfig holds an inline script snippet. Code is used as script source
// as-is; it is not treated as a file path.
type CodeConfig struct {
	Code string `yaml:"code" json:"code"`
}

// FilterConfig is one entry of http.filters[*]: an ordered, named pair of
// optional on_request/on_response callbacks, held in a single script Code.
type FilterConfig struct {
	Name string `yaml:"name" json:"name"`
	Code string `yaml:"code" json:"code"`
}

// HTTPConfig holds the filter chain, the optional fallback handler, and the
// optional access/error log callbacks.
type HTTPConfig struct {
	Filters   []FilterConfig `yaml:"filters" json:"filters"`
	Handler   *CodeConfig    `yaml:"handler,omitempty" json:"handler,omitempty"`
	AccessLog *CodeConfig    `yaml:"access_log,omitempty" json:"access_log,omitempty"`
	ErrorLog  *CodeConfig    `yaml:"error_log,omitempty" json:"error_log,omitempty"`
}

// CounterConfig describes one user-defined metrics.counters[name] entry.
type CounterConfig struct {
	Name        string `yaml:"name,omitempty" json:"name,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// MetricsConfig configures the Prometheus exposition surface.
type MetricsConfig struct {
	Path        string                   `yaml:"path,omitempty" json:"path,omitempty"`
	Counters    map[string]CounterConfig `yaml:"counters,omitempty" json:"counters,omitempty"`
	ExtraLabels map[string]string        `yaml:"extra_labels,omitempty" json:"extra_labels,omitempty"`
}

// MainConfig holds process-wide tunables.
type MainConfig struct {
	Workers             int    `yaml:"workers,omitempty" json:"workers,omitempty"`
	PinWorkers          bool   `yaml:"pin_workers,omitempty" json:"pin_workers,omitempty"`
	Listen              string `yaml:"listen,omitempty" json:"listen,omitempty"`
	MaxBackgroundTasks  *int   `yaml:"max_background_tasks,omitempty" json:"max_background_tasks,omitempty"`
	ServiceName         string `yaml:"service_name,omitempty" json:"service_name,omitempty"`
	DashboardListen     string `yaml:"dashboard_listen,omitempty" json:"dashboard_listen,omitempty"`
}

// ServerConfig selects between a single centralized remote_kv endpoint and a
// set of clustered endpoints.
type ServerConfig struct {
	Centralized *struct {
		Endpoint string `yaml:"endpoint" json:"endpoint"`
	} `yaml:"centralized,omitempty" json:"centralized,omitempty"`
	Clustered *struct {
		Endpoints []string `yaml:"endpoints" json:"endpoints"`
	} `yaml:"clustered,omitempty" json:"clustered,omitempty"`
}

// TimeoutsConfig holds the remote_kv backend's three timeout knobs, in
// seconds (fractional).
type TimeoutsConfig struct {
	Connect float64 `yaml:"connect" json:"connect"`
	Fetch   float64 `yaml:"fetch" json:"fetch"`
	Store   float64 `yaml:"store" json:"store"`
}

// RemoteConfig configures the remote_kv storage backend.
type RemoteConfig struct {
	Server            ServerConfig   `yaml:"server" json:"server"`
	EnableTLS         bool           `yaml:"enable_tls,omitempty" json:"enable_tls,omitempty"`
	Username          string         `yaml:"username,omitempty" json:"username,omitempty"`
	Password          string         `yaml:"password,omitempty" json:"password,omitempty"`
	Timeouts          TimeoutsConfig `yaml:"timeouts" json:"timeouts"`
	PoolSize          int            `yaml:"pool_size,omitempty" json:"pool_size,omitempty"`
	MaxBodyChunkSize  int            `yaml:"max_body_chunk_size,omitempty" json:"max_body_chunk_size,omitempty"`
	CompressionLevel  *int           `yaml:"compression_level,omitempty" json:"compression_level,omitempty"`
	InternalCacheSize int            `yaml:"internal_cache_size,omitempty" json:"internal_cache_size,omitempty"`
	InternalCacheTTL  float64        `yaml:"internal_cache_ttl,omitempty" json:"internal_cache_ttl,omitempty"`
	EncryptionKey     string         `yaml:"encryption_key,omitempty" json:"encryption_key,omitempty"`
	Lazy              bool           `yaml:"lazy,omitempty" json:"lazy,omitempty"`
	WaitForConnect    *float64       `yaml:"wait_for_connect,omitempty" json:"wait_for_connect,omitempty"`
}

// MemoryConfig configures the in-memory storage backend.
type MemoryConfig struct {
	MaxSize int64 `yaml:"max_size" json:"max_size"`
}

// StorageConfig is one entry of storage[name]. Backend selects which of
// Memory/Remote is populated; unknown backend values are rejected by
// Validate at startup.
type StorageConfig struct {
	Backend string        `yaml:"backend" json:"backend"`
	Memory  *MemoryConfig `yaml:"memory,omitempty" json:"-"`
	Remote  *RemoteConfig `yaml:"remote,omitempty" json:"-"`

	// Inline fields let a single YAML mapping carry backend-specific keys
	// directly under storage[name] rather than nested under memory:/remote:.
	// UnmarshalYAML below reconciles both shapes into Memory/Remote.
	raw yamlStorageConfig `yaml:"-" json:"-"`
}

type yamlStorageConfig struct {
	Backend string `yaml:"backend"`
	MemoryConfig `yaml:",inline"`
	RemoteConfig `yaml:",inline"`
}

// UnmarshalYAML reconciles the flat storage[name] shape into the
// Memory/Remote sub-structs used by the rest of the program.
func (s *StorageConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw yamlStorageConfig
	if err := value.Decode(&raw); err != nil {
		return err
	}
	s.Backend = raw.Backend
	switch raw.Backend {
	case "memory":
		mc := raw.MemoryConfig
		s.Memory = &mc
	case "remote_kv":
		rc := raw.RemoteConfig
		s.Remote = &rc
	}
	return nil
}

// Config holds every tunable parameter recognized by casperedge.
type Config struct {
	Main    MainConfig               `yaml:"main" json:"main"`
	HTTP    HTTPConfig               `yaml:"http" json:"http"`
	Metrics MetricsConfig            `yaml:"metrics" json:"metrics"`
	Storage map[string]StorageConfig `yaml:"storage" json:"storage"`
}

// DefaultConfig returns a Config pre-filled with production-sensible
// defaults: one worker per logical CPU, no pinning, loopback listener, and
// the default metrics path. Callers are free to mutate the returned struct;
// each call returns a fresh independent copy.
func DefaultConfig() *Config {
	return &Config{
		Main: MainConfig{
			Workers:    runtime.NumCPU(),
			PinWorkers: false,
			Listen:     "127.0.0.1:8080",
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
		Storage: map[string]StorageConfig{},
	}
}

// LoadYAML reads a YAML file at filename, merges it over DefaultConfig, and
// validates the result.
func LoadYAML(filename string) (*Config, error) {
	data, err := os.ReadFile(filename) // #nosec G304 -- filename is an operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", filename, err)
	}
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode %q: %w", filename, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadJSON reads a JSON file at filename, merges it over DefaultConfig, and
// validates the result. Kept for operators who generate config
// programmatically instead of hand-writing YAML.
func LoadJSON(filename string) (*Config, error) {
	f, err := os.Open(filename) // #nosec G304 -- filename is an operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", filename, err)
	}
	defer f.Close()

	cfg := DefaultConfig()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode %q: %w", filename, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot be safely started: unknown
// storage backend types, a negative worker count, filters without a name,
// and a clustered/centralized remote_kv server selecting neither or both.
// Catching structural drift here means it never reaches a running worker.
func (c *Config) Validate() error {
	var problems []string

	if c.Main.Workers < 0 {
		problems = append(problems, "main.workers must be >= 0")
	}
	seen := make(map[string]bool, len(c.HTTP.Filters))
	for i, f := range c.HTTP.Filters {
		if f.Name == "" {
			problems = append(problems, fmt.Sprintf("http.filters[%d].name must not be empty", i))
			continue
		}
		if seen[f.Name] {
			problems = append(problems, fmt.Sprintf("http.filters[%d]: duplicate filter name %q", i, f.Name))
		}
		seen[f.Name] = true
	}

	for name, sc := range c.Storage {
		switch sc.Backend {
		case "memory":
			if sc.Memory == nil {
				problems = append(problems, fmt.Sprintf("storage[%s]: backend=memory requires a max_size", name))
			}
		case "remote_kv":
			if sc.Remote == nil {
				problems = append(problems, fmt.Sprintf("storage[%s]: backend=remote_kv requires server settings", name))
				continue
			}
			hasCentralized := sc.Remote.Server.Centralized != nil
			hasClustered := sc.Remote.Server.Clustered != nil
			if hasCentralized == hasClustered {
				problems = append(problems, fmt.Sprintf(
					"storage[%s]: exactly one of server.centralized or server.clustered must be set", name))
			}
		default:
			problems = append(problems, fmt.Sprintf("storage[%s]: unknown backend %q", name, sc.Backend))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", errs.ErrConfigInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// WorkerCount resolves main.workers, defaulting to the logical CPU count
// when unset or zero.
func (c *Config) WorkerCount() int {
	if c.Main.Workers > 0 {
		return c.Main.Workers
	}
	return runtime.NumCPU()
}
