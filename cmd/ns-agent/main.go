// ns-agent runs packet capture, flow tracking, and the stats API in a
// single process, bypassing NATS. Useful for offline pcap analysis and
// single-host deployments where ns-capture/ns-collector's process split
// is unnecessary overhead.
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
	"github.com/nazaninmagharei/bismark-passive/internal/capture"
	"github.com/nazaninmagharei/bismark-passive/internal/config"
	"github.com/nazaninmagharei/bismark-passive/internal/model"
	"github.com/nazaninmagharei/bismark-passive/internal/query"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	logger := log.New(os.Stderr, "ns-agent: ", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	a, err := agent.New(cfg, logger)
	if err != nil {
		logger.Fatalf("build agent: %v", err)
	}
	logger.Printf("session %d started", a.SessionID())

	var source *capture.Source
	if cfg.Capture.OfflineFile != "" {
		source, err = capture.OpenOffline(cfg.Capture.OfflineFile, logger)
	} else {
		source, err = capture.OpenLive(cfg.Capture.Interface, cfg.Capture.SnapshotLen, cfg.Capture.Promiscuous, cfg.Capture.BPFFilter, logger)
	}
	if err != nil {
		logger.Fatalf("open capture source: %v", err)
	}
	defer source.Close()

	packets := make(chan *model.PacketInfo, 4096)
	go source.Run(packets)

	input := a.Input()
	go func() {
		for info := range packets {
			input <- info
		}
	}()

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
