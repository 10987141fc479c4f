package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ensembleai/ensemble/internal/a2a"
	"github.com/ensembleai/ensemble/internal/api"
	"github.com/ensembleai/ensemble/internal/bus"
	"github.com/ensembleai/ensemble/internal/config"
	"github.com/ensembleai/ensemble/internal/dispatch"
	"github.com/ensembleai/ensemble/internal/host"
	"github.com/ensembleai/ensemble/internal/intent"
	"github.com/ensembleai/ensemble/internal/metrics"
	"github.com/ensembleai/ensemble/internal/registry"
	"github.com/ensembleai/ensemble/internal/router"
	"github.com/ensembleai/ensemble/internal/session"
	"github.com/ensembleai/ensemble/pkg/utils"
)

func main() {
	configFile := flag.String("config", "configs/host.yaml", "Path to configuration file")
	flag.Parse()

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	logger.Info("Starting Ensemble host")

	cfg, err := config.LoadConfig(*configFile, logger)
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	logger = utils.ConfigureLogger(cfg.Logging)

	collector := metrics.NewCollector(logger)
	events := bus.NewEventBus(logger)
	client := a2a.NewClient(logger)

	reg := registry.New(client, logger,
		registry.WithFailureThreshold(cfg.Host.FailureThreshold),
		registry.WithProbeTimeout(cfg.Host.ProbeTimeout),
		registry.WithMetrics(collector),
	)

	startupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	for _, address := range cfg.Host.RemoteAgents {
		reg.Register(address)
	}
	reg.DiscoverAll(startupCtx)
	cancel()

	reachable := reg.ListReachable()
	logger.Infof("Discovered %d of %d remote agents", len(reachable), len(cfg.Host.RemoteAgents))
	for _, entry := range reachable {
		logger.Infof("  %s (%s) with %d skills", entry.Card.Name, entry.Address, len(entry.Card.Skills))
	}

	classifier := intent.NewOpenAIClassifier(cfg.LLM, logger)
	rt := router.New(classifier, cfg.Host.MinMatchScore, logger)

	gateway := dispatch.New(client, reg, logger,
		dispatch.WithTaskTimeout(cfg.Host.TaskTimeout),
		dispatch.WithRetryBackoff(cfg.Host.RetryBackoff),
		dispatch.WithMetrics(collector),
	)

	sessions := session.NewManager(gateway, logger,
		session.WithIdleTimeout(cfg.Host.SessionIdleTimeout),
		session.WithMetrics(collector),
	)
	sessions.StartReaper(time.Minute)

	orchestrator := host.New(reg, rt, sessions, events, logger)
	wsGateway := api.NewGateway(orchestrator, events, logger)
	server := api.NewServer(cfg.Host.Port, orchestrator, wsGateway, collector, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatalf("HTTP server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Errorf("Error stopping HTTP server: %v", err)
	}
	sessions.Stop()
	events.Stop()

	logger.Info("Host shutdown complete")
}
