package config

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"ubec.eco/reciprocity/cidutil"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `{
		"log_level": "debug",
		"database": {"dsn": "memory"},
		"content_store": {"backends": [{"name": "localfs", "config": {"dir": "/tmp/cas"}}]},
		"pipeline": {"outbound_limit": 4}
	}`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Database.DSN != "memory" || cfg.Pipeline.OutboundLimit != 4 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Level().String() != "debug" {
		t.Fatalf("level %s, want debug", cfg.Level())
	}
}

func TestLoadFileEnvIndirection(t *testing.T) {
	t.Setenv("TEST_RECIPROCITY_DSN", "memory")
	path := writeConfig(t, `{"database": {"dsn": "env:TEST_RECIPROCITY_DSN"}}`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Database.DSN != "memory" {
		t.Fatalf("env indirection not applied: %q", cfg.Database.DSN)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing dsn", `{}`},
		{"unknown backend", `{"database":{"dsn":"memory"},"content_store":{"backends":[{"name":"s3"}]}}`},
		{"unnamed backend", `{"database":{"dsn":"memory"},"content_store":{"backends":[{}]}}`},
		{"bad level", `{"database":{"dsn":"memory"},"log_level":"shout"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadFile(writeConfig(t, tc.body)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestDefaultIsRunnable(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	st, closeFn, err := cfg.OpenStore(context.Background())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer closeFn()
	if st == nil {
		t.Fatal("nil store")
	}
	lg, err := cfg.OpenLedger()
	if err != nil || lg != nil {
		t.Fatalf("ledger should be disabled by default: %v, %v", lg, err)
	}
}

func TestOpenContentStoreChain(t *testing.T) {
	cfg := Config{
		Database: DatabaseConfig{DSN: "memory"},
		ContentStore: ContentStoreConfig{Backends: []BackendConfig{
			{Name: "localfs", Config: map[string]string{"dir": t.TempDir()}},
		}},
	}
	cas, closeFn, err := cfg.OpenContentStore()
	if err != nil {
		t.Fatalf("OpenContentStore: %v", err)
	}
	defer func() { _ = closeFn() }()
	if cas == nil {
		t.Fatal("nil CAS for a configured backend")
	}

	empty := Config{Database: DatabaseConfig{DSN: "memory"}}
	casEmpty, closeEmpty, err := empty.OpenContentStore()
	if err != nil {
		t.Fatalf("OpenContentStore empty: %v", err)
	}
	defer func() { _ = closeEmpty() }()
	if casEmpty != nil {
		t.Fatal("expected nil CAS with no backends")
	}
}

func TestOpenContentStorePinataAPIURL(t *testing.T) {
	var (
		mu     sync.Mutex
		pinned bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pinning/pinJSONToIPFS" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		mu.Lock()
		pinned = true
		mu.Unlock()
		id, err := cidutil.PayloadCID([]byte(`{"k":"v"}`))
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"IpfsHash": id.String()})
	}))
	defer srv.Close()

	cfg := Config{
		Database: DatabaseConfig{DSN: "memory"},
		ContentStore: ContentStoreConfig{Backends: []BackendConfig{
			{Name: "pinata", Config: map[string]string{
				"jwt":     "test-jwt",
				"api_url": srv.URL,
			}},
		}},
	}
	cas, closeFn, err := cfg.OpenContentStore()
	if err != nil {
		t.Fatalf("OpenContentStore: %v", err)
	}
	defer func() { _ = closeFn() }()

	if _, err := cas.Put(context.Background(), []byte(`{"k":"v"}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if !pinned {
		t.Fatal("pin request never reached the configured api_url")
	}
}
