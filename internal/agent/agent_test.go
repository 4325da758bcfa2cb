package agent

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nazaninmagharei/bismark-passive/internal/config"
	"github.com/nazaninmagharei/bismark-passive/internal/model"
)

// TestAgent_CaptureToTableToWriterRoundTrip stands up a full Agent (no
// capture front end or transport involved, just the table/writer/sink
// machinery an agent owns) and pushes packets through Input, then
// asserts on the update sink and threshold report content it produces
// on its own short-interval tickers, each bounded by a deadline rather
// than a fixed sleep.
func TestAgent_CaptureToTableToWriterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	updatePath := filepath.Join(dir, "updates.gz")
	reportPath := filepath.Join(dir, "thresholded_ips.txt")

	cfg := &config.Config{
		FlowTable: config.FlowTableConfig{
			Capacity:          64,
			MaxProbes:         8,
			C1:                1,
			C2:                3,
			ExpirationSeconds: 300,
			MinOffset:         -1 << 20,
			MaxOffset:         1<<20 - 1,
			RebaseInterval:    "1h",
		},
		Threshold: config.ThresholdConfig{
			Enabled:        true,
			PacketCount:    2,
			OutputPath:     reportPath,
			ReportInterval: "10ms",
		},
		Update: config.UpdateConfig{
			OutputPath: updatePath,
			// Kept much slower than ReportInterval so the report
			// ticker observes the entry while it is still
			// OccupiedUnsent, before the writer promotes it to
			// OccupiedSent (at which point it would no longer
			// qualify for the threshold report).
			WriteInterval: "300ms",
		},
	}

	a, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan struct{})
	go func() {
		a.Run()
		close(done)
	}()

	input := a.Input()
	pkt := &model.PacketInfo{
		Timestamp: time.Unix(1_700_000_000, 0),
		FiveTuple: model.FiveTuple{
			SrcIP:    net.IPv4(10, 0, 0, 1),
			DstIP:    net.IPv4(10, 0, 0, 2),
			SrcPort:  1234,
			DstPort:  80,
			Protocol: 6,
		},
		Length: 64,
	}
	// Submit the same flow twice so PacketCount reaches the threshold
	// of 2 before the report ticker fires.
	input <- pkt
	input <- pkt

	liveDeadline := time.Now().Add(2 * time.Second)
	for {
		if time.Now().After(liveDeadline) {
			t.Fatalf("timed out waiting for the flow to land in the table")
		}
		if a.Stats().Live == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	reportDeadline := time.Now().Add(2 * time.Second)
	waitForNonEmptyFile(t, reportPath, reportDeadline)
	assertReportHasQualifyingRecord(t, reportPath, a.SessionID())

	// Wait for at least one write tick to flush compressed bytes before
	// stopping the agent. The gzip trailer (written on Close) isn't in
	// place yet, so this only checks that the sink received data, not
	// that the stream decompresses cleanly.
	updateDeadline := time.Now().Add(3 * time.Second)
	waitForNonEmptyFile(t, updatePath, updateDeadline)

	close(input)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not stop after its input channel was closed")
	}

	// Only now, after Run's deferred sink.Close has written the gzip
	// trailer, is the stream safe to decompress.
	assertUpdateHasHeaderLine(t, updatePath)
}

func waitForNonEmptyFile(t *testing.T, path string, deadline time.Time) {
	t.Helper()
	for {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s to be written", path)
		}
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func assertReportHasQualifyingRecord(t *testing.T, path string, sessionID uint64) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open report: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		t.Fatalf("report missing header line")
	}
	header := scanner.Text()
	wantHeaderPrefix := fmt.Sprintf("%d ", sessionID)
	if !strings.HasPrefix(header, wantHeaderPrefix) {
		t.Fatalf("expected header to start with session id %q, got %q", wantHeaderPrefix, header)
	}

	lines := []string{header}
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	qualifying := 0
	for _, line := range lines[1:] {
		if line != "" {
			qualifying++
		}
	}
	if qualifying == 0 {
		t.Fatalf("expected at least one qualifying record in %v", lines)
	}
}

func assertUpdateHasHeaderLine(t *testing.T, path string) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open update sink: %v", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("new gzip reader: %v", err)
	}
	defer gz.Close()

	scanner := bufio.NewScanner(gz)
	if !scanner.Scan() {
		t.Fatalf("update stream missing header line")
	}
	if scanner.Text() == "" {
		t.Fatalf("expected non-empty update header")
	}
}
