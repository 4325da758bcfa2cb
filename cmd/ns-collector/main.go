// ns-collector subscribes to the packet stream published by ns-capture,
// feeds each packet into a flow table through an agent.Agent, and
// serves the agent's stats over HTTP and gRPC health.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nazaninmagharei/bismark-passive/internal/agent"
	"github.com/nazaninmagharei/bismark-passive/internal/api"
	"github.com/nazaninmagharei/bismark-passive/internal/config"
	"github.com/nazaninmagharei/bismark-passive/internal/model"
	"github.com/nazaninmagharei/bismark-passive/internal/query"
	"github.com/nazaninmagharei/bismark-passive/internal/transport"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	logger := log.New(os.Stderr, "ns-collector: ", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	a, err := agent.New(cfg, logger)
	if err != nil {
		logger.Fatalf("build agent: %v", err)
	}

	sub, err := transport.NewSubscriber(cfg.Transport.URL, cfg.Transport.Subject, logger)
	if err != nil {
		logger.Fatalf("connect to nats: %v", err)
	}
	defer sub.Close()

	input := a.Input()
	err = sub.Start(func(info *model.PacketInfo) {
		input <- info
	})
	if err != nil {
		logger.Fatalf("start subscriber: %v", err)
	}

	go a.Run()

	var querier query.Querier
	if cfg.Archive.Enabled {
		querier, err = query.NewClickHouseQuerier(cfg.Archive)
		if err != nil {
			logger.Printf("history querier unavailable: %v", err)
			querier = nil
		}
	}

	httpServer := api.NewServer(cfg.API.HTTPAddr, a, querier, logger)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil {
			logger.Printf("http server stopped: %v", err)
		}
	}()

	healthServer := api.NewGRPCHealthServer(cfg.API.GRPCAddr, logger)
	go func() {
		if err := healthServer.ListenAndServe(); err != nil {
			logger.Printf("grpc health server stopped: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Println("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), api.ShutdownTimeout)
	defer cancel()
	httpServer.Shutdown(ctx)
	healthServer.Stop()
}
