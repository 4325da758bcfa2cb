// Package writer drains newly observed flows into the compressed
// update stream and snapshots heavy-hitter flows into a plaintext
// report. Neither operation mutates the table beyond promoting
// OccupiedUnsent slots to OccupiedSent.
package writer

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/nazaninmagharei/bismark-passive/internal/anonymize"
	"github.com/nazaninmagharei/bismark-passive/internal/flowtable"
)

// ErrAnonymizationFailed aborts WriteUpdate without rolling back slots
// already promoted to OccupiedSent during the same call.
var ErrAnonymizationFailed = errors.New("writer: anonymization failed")

// Table is the subset of *flowtable.Table the writer needs. Kept as an
// interface so tests can exercise the writer against a fake without
// depending on the real probing/expiration machinery.
type Table interface {
	Capacity() int
	Entry(idx int) flowtable.Entry
	BaseTimestampSeconds() int64
	CountLive() uint32
	CountExpired() int64
	CountDropped() int64
	PromoteSent(idx int)
}

// WriteUpdate streams newly observed (OccupiedUnsent) entries to sink
// as a header line, one body line per qualifying slot, then a blank
// terminator line. Anonymizer controls
// whether src/dst are emitted as the raw 32-bit IP (up to 8 hex digits,
// no leading zeros) or a
// 64-bit digest (up to 16 hex digits); pass anonymize.Identity() to
// disable anonymization without special-casing the call site.
//
// Any write error aborts the update and returns an error; slots already
// promoted to OccupiedSent earlier in the same call stay promoted.
func WriteUpdate(tbl Table, sink io.Writer, anonymizer anonymize.Anonymizer) error {
	header := fmt.Sprintf("%d %d %d %d\n",
		tbl.BaseTimestampSeconds(), tbl.CountLive(), tbl.CountExpired(), tbl.CountDropped())
	if _, err := io.WriteString(sink, header); err != nil {
		return fmt.Errorf("writer: write header: %w", err)
	}

	for idx := 0; idx < tbl.Capacity(); idx++ {
		entry := tbl.Entry(idx)
		if entry.Occupancy != flowtable.OccupiedUnsent {
			continue
		}

		srcDigest, err := anonymizer.Anonymize(entry.Key.SrcIP)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAnonymizationFailed, err)
		}
		dstDigest, err := anonymizer.Anonymize(entry.Key.DstIP)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAnonymizationFailed, err)
		}

		line := fmt.Sprintf("%d %x %x %d %d %d\n",
			idx, srcDigest, dstDigest, entry.Key.Protocol, entry.Key.SrcPort, entry.Key.DstPort)
		if _, err := io.WriteString(sink, line); err != nil {
			return fmt.Errorf("writer: write record: %w", err)
		}

		tbl.PromoteSent(idx)
	}

	if _, err := io.WriteString(sink, "\n"); err != nil {
		return fmt.Errorf("writer: write terminator: %w", err)
	}
	return nil
}

// WriteThresholdedIPs snapshots, to path (truncating any prior
// contents), every OccupiedUnsent slot whose PacketCount is at least
// threshold. It does not mutate table state and never anonymizes: the
// report is for local operator inspection, not for export.
func WriteThresholdedIPs(tbl Table, path string, sessionID uint64, sequenceNumber int, threshold uint8) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("writer: open thresholded ips log: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%d %d\n\n", sessionID, sequenceNumber); err != nil {
		return fmt.Errorf("writer: write thresholded ips header: %w", err)
	}

	for idx := 0; idx < tbl.Capacity(); idx++ {
		entry := tbl.Entry(idx)
		if entry.Occupancy != flowtable.OccupiedUnsent || entry.PacketCount < threshold {
			continue
		}
		if _, err := fmt.Fprintf(f, "%d %x %x %d\n",
			idx, entry.Key.SrcIP, entry.Key.DstIP, entry.PacketCount); err != nil {
			return fmt.Errorf("writer: write thresholded ips record: %w", err)
		}
	}

	return nil
}
