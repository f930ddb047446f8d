// Command wickedd is the DHCPv6 client daemon: it loads a config file,
// wires up the link manager, lease applier, and per-interface state
// machines behind a supervisor, and serves the control API and metrics
// endpoints until it receives a shutdown signal.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/bytesbymike/wicked/internal/supervisor"
	"github.com/bytesbymike/wicked/pkg/component"
	"github.com/bytesbymike/wicked/pkg/config"
	"github.com/bytesbymike/wicked/pkg/controlapi"
	"github.com/bytesbymike/wicked/pkg/duid"
	"github.com/bytesbymike/wicked/pkg/events/local"
	"github.com/bytesbymike/wicked/pkg/leaseapplier"
	"github.com/bytesbymike/wicked/pkg/linkmgr"
	"github.com/bytesbymike/wicked/pkg/logger"
	"github.com/bytesbymike/wicked/pkg/metrics"
	"github.com/bytesbymike/wicked/pkg/opdb/sqlite"
	"github.com/bytesbymike/wicked/pkg/version"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger.Configure(cfg.Logging.Format, logger.LogLevel(cfg.Logging.Level), componentLevels(cfg.Logging.Components))

	mainLog := logger.Get(logger.Main)
	mainLog.Info("starting wickedd", "version", version.Full(), "interfaces", len(cfg.Interfaces))

	store, err := sqlite.Open(cfg.Cache.Path)
	if err != nil {
		log.Fatalf("failed to open lease cache: %v", err)
	}
	defer store.Close()

	duidType := duid.TypeLLT
	if cfg.DUID.Type != "" {
		duidType = duid.Type(cfg.DUID.Type)
	}
	duidStore := duid.NewStore(cfg.DUID.Path, duidType)

	bus := local.NewBus()
	links := linkmgr.New(bus)
	applier := leaseapplier.New(store)

	sup := supervisor.New(cfg, bus, links, applier, duidStore)

	orch := component.NewOrchestrator()
	orch.Register(links)
	orch.Register(applier)
	orch.Register(sup)

	if cfg.ControlAPI.Address != "" {
		orch.Register(controlapi.New(sup, bus, cfg.ControlAPI.Address))
	}
	if cfg.Metrics.Enabled {
		orch.Register(metrics.New(bus, cfg.Metrics.Address))
	}

	ctx := context.Background()
	if err := orch.Start(ctx); err != nil {
		log.Fatalf("failed to start components: %v", err)
	}
	mainLog.Info("wickedd started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	mainLog.Info("shutting down wickedd")
	if err := orch.Stop(ctx); err != nil {
		mainLog.Error("error stopping components", "error", err)
	}
	mainLog.Info("wickedd stopped")
}

func componentLevels(in map[string]string) map[string]logger.LogLevel {
	if in == nil {
		return nil
	}
	out := make(map[string]logger.LogLevel, len(in))
	for k, v := range in {
		out[k] = logger.LogLevel(v)
	}
	return out
}
