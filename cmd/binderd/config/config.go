// Package config loads the binder daemon's configuration with
// github.com/rakunlabs/chu: a single struct tagged with cfg struct
// tags, loaded through chu's environment-variable loader.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rakunlabs/alan"
	_ "github.com/rakunlabs/chu/loader/external/loaderconsul"
	_ "github.com/rakunlabs/chu/loader/external/loadervault"
	"github.com/rakunlabs/chu/loader/loaderenv"

	"github.com/rakunlabs/chu"
	"github.com/rakunlabs/tell"
)

// Service is set by main to "binderd/<version>" for logging and the
// ada server middleware banner.
var Service = ""

// Config is the binder daemon's full configuration.
type Config struct {
	LogLevel string `cfg:"log_level,no_prefix" default:"info"`

	// HTTP is the optional thin demonstration HTTP binding (transport/httpbind).
	HTTP HTTPConfig `cfg:"http"`

	// EnableV1 turns on the legacy compact RPC wire format; V3 is always available.
	EnableV1 bool `cfg:"enable_v1" default:"false"`

	// SessionTimeout is the default session idle timeout.
	SessionTimeout time.Duration `cfg:"session_timeout" default:"30m"`

	// SessionCapacity bounds the session store before LRU eviction
	// kicks in.
	SessionCapacity int `cfg:"session_capacity" default:"4096"`

	// BroadcastRingSize and BroadcastHop override the event fabric's
	// dedup ring defaults.
	BroadcastRingSize int `cfg:"broadcast_ring_size" default:"8"`
	BroadcastHop      int `cfg:"broadcast_hop" default:"10"`

	// Cluster is the optional alan peer-discovery configuration for
	// multi-process deployments sharing one broadcast domain; nil
	// disables cluster.New (single-process mode).
	Cluster *alan.Config `cfg:"cluster"`

	// Telemetry holds tell telemetry settings. binderd does not read
	// it; transport/httpbind runs ada's telemetry middleware with its
	// defaults.
	Telemetry tell.Config `cfg:"telemetry,noprefix"`
}

// HTTPConfig configures the optional transport/httpbind demonstration
// adapter.
type HTTPConfig struct {
	Enabled  bool   `cfg:"enabled" default:"false"`
	Listen   string `cfg:"listen" default:":8090"`
	BasePath string `cfg:"base_path" default:"/binder"`
}

// Load reads the daemon configuration from the environment (and any
// configured external loaders), applying struct-tag defaults.
func Load(ctx context.Context, name string) (*Config, error) {
	var cfg Config
	if err := chu.Load(ctx, name, &cfg, chu.WithLoaderOption(loaderenv.New(loaderenv.WithPrefix("BINDERD_")))); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	slog.Info("loaded configuration", "config", chu.MarshalMap(cfg))

	return &cfg, nil
}
