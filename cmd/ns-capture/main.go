// ns-capture opens a live interface or offline pcap file, parses each
// packet's 5-tuple, and publishes it to NATS for ns-collector to
// consume.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nazaninmagharei/bismark-passive/internal/capture"
	"github.com/nazaninmagharei/bismark-passive/internal/config"
	"github.com/nazaninmagharei/bismark-passive/internal/model"
	"github.com/nazaninmagharei/bismark-passive/internal/transport"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	logger := log.New(os.Stderr, "ns-capture: ", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	pub, err := transport.NewPublisher(cfg.Transport.URL, cfg.Transport.Subject, logger)
	if err != nil {
		logger.Fatalf("connect to nats: %v", err)
	}
	defer pub.Close()

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

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		count := 0
		for info := range packets {
			if err := pub.Publish(info); err != nil {
				logger.Printf("publish failed: %v", err)
				continue
			}
			count++
			if count%1000 == 0 {
				logger.Printf("%d packets published", count)
			}
		}
	}()

	select {
	case <-sigChan:
		logger.Println("shutdown signal received")
	case <-done:
		logger.Println("capture source exhausted")
	}
}
