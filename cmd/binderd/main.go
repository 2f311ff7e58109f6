// Command binderd is the process entrypoint: it wires config, logging,
// and lifecycle, then constructs one of each core component (data
// registry, identity stores, event fabric, apiset, scheduler) plus the
// optional demonstration HTTP binding and cluster coordination.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rakunlabs/into"
	"github.com/rakunlabs/logi"

	"github.com/redpesk-core/go-binder/apiset"
	"github.com/redpesk-core/go-binder/cluster"
	"github.com/redpesk-core/go-binder/cmd/binderd/config"
	"github.com/redpesk-core/go-binder/data"
	"github.com/redpesk-core/go-binder/event"
	"github.com/redpesk-core/go-binder/identity"
	"github.com/redpesk-core/go-binder/scheduler"
	"github.com/redpesk-core/go-binder/transport/httpbind"
)

var (
	name    = "binderd"
	version = "v0.0.0"
)

func main() {
	config.Service = name + "/" + version

	into.Init(run,
		into.WithLogger(logi.InitializeLog(logi.WithCaller(false))),
		into.WithMsgf("%s [%s]", name, version),
	)
}

// run constructs one instance of every core component and, if
// configured, starts the demonstration HTTP binding and cluster
// coordination. It blocks until ctx is cancelled.
func run(ctx context.Context) error {
	cfg, err := config.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	registry := data.NewRegistry()
	sessions := identity.NewSessionStore(cfg.SessionCapacity, cfg.SessionTimeout)
	tokens := identity.NewTokenStore()
	fabric := event.NewFabric(event.Config{
		BroadcastMemory: cfg.BroadcastRingSize,
		BroadcastHop:    uint8(cfg.BroadcastHop),
	})

	sched := scheduler.New()
	defer func() {
		slog.Info("binderd: active scheduler groups at shutdown", "count", sched.GroupCount())
	}()

	sessionSweep, err := scheduler.NewSweepRunner("session-sweep", "@every 1m", sessions)
	if err != nil {
		return fmt.Errorf("create session sweep: %w", err)
	}
	if err := sessionSweep.Start(ctx); err != nil {
		return fmt.Errorf("start session sweep: %w", err)
	}
	defer sessionSweep.Stop()

	var cl *cluster.Cluster
	if cfg.Cluster != nil {
		cl, err = cluster.New(cfg.Cluster)
		if err != nil {
			return fmt.Errorf("create cluster: %w", err)
		}
		go func() {
			if err := cl.Start(ctx, func(uuid string) {
				fabric.MarkSeen(uuid)
			}); err != nil {
				slog.Error("binderd: cluster stopped", "error", err)
			}
		}()
		defer cl.Stop() //nolint:errcheck
	}

	apis := apiset.New(30 * time.Second)
	_ = tokens // reserved for verb implementations looked up through apis; none are built into this core

	if cfg.HTTP.Enabled {
		binding, err := httpbind.New(config.Service, apis, registry)
		if err != nil {
			return fmt.Errorf("create http binding: %w", err)
		}
		mux := binding.Mount(cfg.HTTP.BasePath)

		go func() {
			slog.Info("binderd: http binding listening", "addr", cfg.HTTP.Listen, "base_path", cfg.HTTP.BasePath)
			if err := mux.StartWithContext(ctx, cfg.HTTP.Listen); err != nil {
				slog.Error("binderd: http binding stopped", "error", err)
			}
		}()
	}

	<-ctx.Done()
	return nil
}
