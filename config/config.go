// Package config loads the service configuration from a JSON file with
// environment overrides, and opens the configured backends.
//
// Example:
//
//	{
//	  "log_level": "info",
//	  "database": {"dsn": "postgres://localhost/reciprocity"},
//	  "content_store": {
//	    "backends": [
//	      {"name": "localfs", "config": {"dir": "/var/lib/reciprocity/cas"}},
//	      {"name": "pinata", "config": {"jwt": "env:PINATA_JWT"}}
//	    ]
//	  },
//	  "ledger": {
//	    "horizon_url": "https://horizon-testnet.stellar.org",
//	    "wallet_dir": "",
//	    "distributor": "distributor"
//	  },
//	  "pipeline": {"outbound_limit": 16}
//	}
//
// Backends are consulted in order: the first is written to, reads fall
// back down the list. A config value of the form "env:NAME" is resolved
// from the environment at load time, so secrets stay out of the file.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"ubec.eco/reciprocity/contentstore"
	"ubec.eco/reciprocity/contentstore/grpccas"
	"ubec.eco/reciprocity/contentstore/localfs"
	"ubec.eco/reciprocity/contentstore/pinata"
	"ubec.eco/reciprocity/ledger"
	"ubec.eco/reciprocity/ledger/horizon"
	"ubec.eco/reciprocity/store"
	"ubec.eco/reciprocity/store/memstore"
	"ubec.eco/reciprocity/store/postgres"
	"ubec.eco/reciprocity/wallet"
)

type Config struct {
	LogLevel     string             `json:"log_level,omitempty"`
	Database     DatabaseConfig     `json:"database"`
	ContentStore ContentStoreConfig `json:"content_store"`
	Ledger       LedgerConfig       `json:"ledger"`
	Pipeline     PipelineConfig     `json:"pipeline"`
}

type DatabaseConfig struct {
	// DSN is a pgx connection string. The literal value "memory" selects
	// the in-process store, for evaluation runs only.
	DSN string `json:"dsn"`
}

type ContentStoreConfig struct {
	Backends []BackendConfig `json:"backends"`
}

type BackendConfig struct {
	// Name selects the backend: "localfs", "pinata" or "grpc".
	Name   string            `json:"name"`
	Config map[string]string `json:"config,omitempty"`
}

type LedgerConfig struct {
	HorizonURL        string `json:"horizon_url,omitempty"`
	NetworkPassphrase string `json:"network_passphrase,omitempty"`
	WalletDir         string `json:"wallet_dir,omitempty"`
	// Distributor names the wallet entry holding the signing seed.
	Distributor string `json:"distributor,omitempty"`
	// DistributorSeed is a literal seed and takes precedence; prefer
	// "env:NAME" indirection over embedding it in the file.
	DistributorSeed string `json:"distributor_seed,omitempty"`
}

type PipelineConfig struct {
	OutboundLimit int64 `json:"outbound_limit,omitempty"`
}

// LoadFile reads and validates a config file.
func LoadFile(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, errors.New("config: empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.resolveEnv()
	return cfg, cfg.Validate()
}

// Default returns a runnable evaluation config: in-memory store, no
// content backends, no ledger.
func Default() Config {
	return Config{
		LogLevel: "info",
		Database: DatabaseConfig{DSN: "memory"},
	}
}

// resolveEnv replaces "env:NAME" values with the named variable.
func (c *Config) resolveEnv() {
	c.Database.DSN = envValue(c.Database.DSN)
	c.Ledger.DistributorSeed = envValue(c.Ledger.DistributorSeed)
	for _, b := range c.ContentStore.Backends {
		for k, v := range b.Config {
			b.Config[k] = envValue(v)
		}
	}
}

func envValue(v string) string {
	if name, ok := strings.CutPrefix(v, "env:"); ok {
		return os.Getenv(name)
	}
	return v
}

func (c Config) Validate() error {
	if c.Database.DSN == "" {
		return errors.New("config: database.dsn is required")
	}
	for _, b := range c.ContentStore.Backends {
		switch b.Name {
		case "localfs", "pinata", "grpc":
		case "":
			return errors.New("config: backend name is required")
		default:
			return fmt.Errorf("config: unknown content store backend %q", b.Name)
		}
	}
	switch c.LogLevel {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid log_level %q", c.LogLevel)
	}
	return nil
}

// Level returns the configured zerolog level.
func (c Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// OpenStore opens the relational store and applies the schema.
func (c Config) OpenStore(ctx context.Context) (store.Store, func(), error) {
	if c.Database.DSN == "memory" {
		return memstore.New(), func() {}, nil
	}
	db, err := postgres.Open(ctx, c.Database.DSN)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, db.Close, nil
}

// OpenContentStore assembles the configured backend chain. With no
// backends it returns nil and the content leg is skipped.
func (c Config) OpenContentStore() (contentstore.CAS, func() error, error) {
	var (
		adapters []contentstore.CAS
		closers  []func() error
	)
	closeAll := func() error {
		var firstErr error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
	for _, b := range c.ContentStore.Backends {
		switch b.Name {
		case "localfs":
			cas, err := localfs.New(b.Config["dir"])
			if err != nil {
				_ = closeAll()
				return nil, nil, err
			}
			adapters = append(adapters, cas)
		case "pinata":
			cas, err := pinata.New(pinata.Options{
				JWT:        b.Config["jwt"],
				APIKey:     b.Config["api_key"],
				SecretKey:  b.Config["secret_key"],
				APIURL:     b.Config["api_url"],
				GatewayURL: b.Config["gateway_url"],
			})
			if err != nil {
				_ = closeAll()
				return nil, nil, err
			}
			adapters = append(adapters, cas)
		case "grpc":
			client, err := grpccas.Dial(b.Config["target"])
			if err != nil {
				_ = closeAll()
				return nil, nil, err
			}
			adapters = append(adapters, client)
			closers = append(closers, client.Close)
		}
	}
	switch len(adapters) {
	case 0:
		return nil, closeAll, nil
	case 1:
		return adapters[0], closeAll, nil
	}
	return contentstore.MultiCAS{Adapters: adapters}, closeAll, nil
}

// OpenLedger opens the Horizon client. With no distributor configured it
// returns nil and the payment leg is skipped.
func (c Config) OpenLedger() (ledger.Ledger, error) {
	if c.Ledger.Distributor == "" && c.Ledger.DistributorSeed == "" {
		return nil, nil
	}
	w, err := wallet.Open(c.Ledger.WalletDir)
	if err != nil {
		return nil, err
	}
	kp, err := w.Resolve(c.Ledger.DistributorSeed, "", c.Ledger.Distributor)
	if err != nil {
		return nil, fmt.Errorf("config: distributor key: %w", err)
	}
	return horizon.New(horizon.Options{
		HorizonURL:        c.Ledger.HorizonURL,
		NetworkPassphrase: c.Ledger.NetworkPassphrase,
		Distributor:       kp,
	})
}
