package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ensembleai/ensemble/internal/config"
	"github.com/ensembleai/ensemble/internal/remote"
	"github.com/ensembleai/ensemble/pkg/utils"
)

func main() {
	configFile := flag.String("config", "configs/agent.yaml", "Path to configuration file")
	flag.Parse()

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := config.LoadConfig(*configFile, logger)
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	logger = utils.ConfigureLogger(cfg.Logging)

	executor, err := buildExecutor(cfg.Agent, logger)
	if err != nil {
		logger.Fatalf("Failed to build executor: %v", err)
	}

	logger.Infof("Starting agent %s (%s executor)", cfg.Agent.Name, cfg.Agent.Kind)
	server := remote.NewServer(cfg.Agent, executor, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatalf("Agent server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Errorf("Error stopping agent server: %v", err)
	}

	logger.Info("Agent shutdown complete")
}

func buildExecutor(cfg config.AgentConfig, logger *logrus.Logger) (remote.Executor, error) {
	switch cfg.Kind {
	case "clock":
		return remote.NewClockExecutor(logger), nil
	case "calc":
		return remote.NewCalcExecutor(logger), nil
	case "web":
		return remote.NewWebExecutor(cfg.Web, logger), nil
	case "dataquery":
		return remote.NewDataQueryExecutor(cfg.MCP, logger), nil
	default:
		return nil, fmt.Errorf("unknown executor kind %q", cfg.Kind)
	}
}
