package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/firasghr/casperedge/internal/errs"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "casperedge.yaml")
	doc := `
main:
  workers: 4
  listen: "0.0.0.0:9000"
http:
  filters:
    - name: auth
      code: "return {}"
storage:
  edge:
    backend: memory
    max_size: 1048576
  remote:
    backend: remote_kv
    server:
      centralized:
        endpoint: "redis://127.0.0.1:6379"
    timeouts:
      connect: 0.5
      fetch: 0.2
      store: 0.2
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadYAML(path)
	if err != nil {
		t.Fatalf("LoadYAML: %v", err)
	}
	if cfg.Main.Workers != 4 {
		t.Errorf("workers = %d, want 4", cfg.Main.Workers)
	}
	if len(cfg.HTTP.Filters) != 1 || cfg.HTTP.Filters[0].Name != "auth" {
		t.Errorf("filters = %+v", cfg.HTTP.Filters)
	}
	edge, ok := cfg.Storage["edge"]
	if !ok || edge.Memory == nil || edge.Memory.MaxSize != 1048576 {
		t.Errorf("storage[edge] = %+v", edge)
	}
	remote, ok := cfg.Storage["remote"]
	if !ok || remote.Remote == nil || remote.Remote.Server.Centralized == nil {
		t.Errorf("storage[remote] = %+v", remote)
	}
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage["bad"] = StorageConfig{Backend: "sqlite"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for unknown backend")
	}
	if !errors.Is(err, errs.ErrConfigInvalid) {
		t.Errorf("error should wrap ErrConfigInvalid, got %v", err)
	}
}

func TestValidateRejectsDuplicateFilterNames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HTTP.Filters = []FilterConfig{
		{Name: "a", Code: "return {}"},
		{Name: "a", Code: "return {}"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for duplicate filter names")
	}
}

func TestValidateRejectsAmbiguousRemoteServer(t *testing.T) {
	cfg := DefaultConfig()
	sc := StorageConfig{Backend: "remote_kv", Remote: &RemoteConfig{}}
	cfg.Storage["bad"] = sc
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error: neither centralized nor clustered set")
	}
}

