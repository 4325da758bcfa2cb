// Package agent orchestrates the flow table, the periodic update and
// threshold writers, and the base-timestamp rebase ticker behind a
// single serializing goroutine. The table has no internal locking and
// requires its caller to serialize access (see flowtable); rather than
// wrap every call in a mutex, the agent runs the table's entire
// lifecycle on one goroutine and lets packets, rebase ticks, and write
// ticks all funnel through its select loop.
package agent

import (
	"fmt"
	"hash/fnv"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/nazaninmagharei/bismark-passive/internal/anonymize"
	"github.com/nazaninmagharei/bismark-passive/internal/archive"
	"github.com/nazaninmagharei/bismark-passive/internal/config"
	"github.com/nazaninmagharei/bismark-passive/internal/flowtable"
	"github.com/nazaninmagharei/bismark-passive/internal/model"
	"github.com/nazaninmagharei/bismark-passive/internal/sink"
	"github.com/nazaninmagharei/bismark-passive/internal/writer"
)

// Agent owns a flow table and drives its lifecycle: inserting incoming
// packets, periodically rebasing the table's timestamp origin, and
// periodically flushing the compressed update stream and the
// heavy-hitter threshold report.
type Agent struct {
	cfg        *config.Config
	table      *flowtable.Table
	anonymizer anonymize.Anonymizer
	sessionID  uint64

	in        chan *model.PacketInfo
	statsReqs chan chan Stats

	sequence int
	logger   *log.Logger
}

// New builds an Agent from cfg. The anonymizer is identity when
// anonymization is disabled in cfg, so the policy is a runtime check
// rather than a build-time switch.
func New(cfg *config.Config, logger *log.Logger) (*Agent, error) {
	tblCfg := flowtable.Config{
		Capacity:            cfg.FlowTable.Capacity,
		MaxProbes:           cfg.FlowTable.MaxProbes,
		C1:                  cfg.FlowTable.C1,
		C2:                  cfg.FlowTable.C2,
		ExpirationSeconds:   cfg.FlowTable.ExpirationSeconds,
		MinOffset:           cfg.FlowTable.MinOffset,
		MaxOffset:           cfg.FlowTable.MaxOffset,
		ThresholdingEnabled: cfg.Threshold.Enabled,
	}

	var anonymizer anonymize.Anonymizer
	if cfg.Anonymization.Enabled {
		key, err := loadAnonymizationKey(cfg.Anonymization.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("agent: load anonymization key: %w", err)
		}
		anonymizer = anonymize.New(key)
	} else {
		anonymizer = anonymize.Identity()
	}

	return &Agent{
		cfg:        cfg,
		table:      flowtable.New(tblCfg),
		anonymizer: anonymizer,
		sessionID:  foldSessionID(uuid.New()),
		in:         make(chan *model.PacketInfo, 4096),
		statsReqs:  make(chan chan Stats),
		logger:     logger,
	}, nil
}

// Input returns the channel packets are submitted on.
func (a *Agent) Input() chan<- *model.PacketInfo { return a.in }

// SessionID returns the session identifier reported alongside
// threshold records.
func (a *Agent) SessionID() uint64 { return a.sessionID }

// Stats is a snapshot of the table's bookkeeping counters, exposed to
// the HTTP API without handing out the table itself.
type Stats struct {
	Live                 uint32
	Expired, Dropped     int64
	BaseTimestampSeconds int64
}

// Stats requests a consistent snapshot of the table's counters from the
// agent's serializing goroutine and blocks until Run's select loop
// services it. This is the only way the HTTP API reads table state,
// since the table itself has no internal locking.
func (a *Agent) Stats() Stats {
	reply := make(chan Stats, 1)
	a.statsReqs <- reply
	return <-reply
}

// Run starts the agent's serializing event loop. It returns once the
// input channel is closed.
func (a *Agent) Run() {
	rebaseInterval := parseDurationOr(a.cfg.FlowTable.RebaseInterval, time.Minute)
	writeInterval := parseDurationOr(a.cfg.Update.WriteInterval, time.Minute)
	reportInterval := parseDurationOr(a.cfg.Threshold.ReportInterval, 5*time.Minute)

	rebaseTicker := time.NewTicker(rebaseInterval)
	writeTicker := time.NewTicker(writeInterval)
	reportTicker := time.NewTicker(reportInterval)
	defer rebaseTicker.Stop()
	defer writeTicker.Stop()
	defer reportTicker.Stop()

	updateSink, err := sink.Open(a.cfg.Update.OutputPath)
	if err != nil {
		if a.logger != nil {
			a.logger.Printf("agent: update sink unavailable, updates will be dropped: %v", err)
		}
	} else {
		defer updateSink.Close()
	}

	var archiver *archive.ClickHouseArchiver
	if a.cfg.Archive.Enabled {
		archiver, err = archive.Open(archive.Settings{
			Addr:     a.cfg.Archive.Addr,
			Database: a.cfg.Archive.Database,
			Username: a.cfg.Archive.Username,
			Password: a.cfg.Archive.Password,
			Table:    a.cfg.Archive.Table,
		})
		if err != nil {
			if a.logger != nil {
				a.logger.Printf("agent: archive unavailable, heavy hitters will not be archived: %v", err)
			}
		} else {
			defer archiver.Close()
		}
	}

	for {
		select {
		case info, ok := <-a.in:
			if !ok {
				return
			}
			a.process(info)

		case reply := <-a.statsReqs:
			reply <- Stats{
				Live:                 a.table.CountLive(),
				Expired:              a.table.CountExpired(),
				Dropped:              a.table.CountDropped(),
				BaseTimestampSeconds: a.table.BaseTimestampSeconds(),
			}

		case now := <-rebaseTicker.C:
			a.table.AdvanceBaseTimestamp(now.Unix())

		case <-writeTicker.C:
			if updateSink == nil {
				break
			}
			if err := writer.WriteUpdate(a.table, updateSink, a.anonymizer); err != nil {
				if a.logger != nil {
					a.logger.Printf("agent: write update failed: %v", err)
				}
			}

		case <-reportTicker.C:
			if !a.cfg.Threshold.Enabled {
				break
			}
			a.sequence++
			err := writer.WriteThresholdedIPs(a.table, a.cfg.Threshold.OutputPath, a.sessionID, a.sequence, a.cfg.Threshold.PacketCount)
			if err != nil && a.logger != nil {
				a.logger.Printf("agent: write thresholded ips failed: %v", err)
			}
			if archiver != nil {
				records := archive.Collect(a.table, a.cfg.Threshold.PacketCount)
				if err := archiver.Write(a.sessionID, a.sequence, records); err != nil && a.logger != nil {
					a.logger.Printf("agent: archive write failed: %v", err)
				}
			}
		}
	}
}

func (a *Agent) process(info *model.PacketInfo) {
	key, err := info.FiveTuple.ToFlowKey()
	if err != nil {
		if a.logger != nil {
			a.logger.Printf("agent: dropping packet: %v", err)
		}
		return
	}
	if _, err := a.table.ProcessFlow(key, info.Timestamp.Unix()); err != nil {
		if a.logger != nil {
			a.logger.Printf("agent: process flow: %v", err)
		}
	}
}

// foldSessionID folds a random UUID down to a 64-bit session identifier
// via FNV-1a, the same non-cryptographic hash the flow table uses for
// bucket placement, so the agent doesn't need a second hash dependency
// just for this.
func foldSessionID(id uuid.UUID) uint64 {
	h := fnv.New64a()
	h.Write(id[:])
	return h.Sum64()
}

func loadAnonymizationKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agent: read key file %q: %w", path, err)
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("agent: key file %q is empty", path)
	}
	return key, nil
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
