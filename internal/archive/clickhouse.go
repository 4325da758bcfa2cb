// Package archive persists heavy-hitter flow records to ClickHouse for
// history beyond what the threshold report file retains. It is optional
// and off by default; the flow table itself never persists anything
// across restarts.
package archive

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/nazaninmagharei/bismark-passive/internal/flowtable"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS %s (
    SessionID      UInt64,
    SequenceNumber UInt32,
    ObservedAt     DateTime,
    SlotIndex      UInt32,
    SrcIP          UInt32,
    DstIP          UInt32,
    PacketCount    UInt8
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(ObservedAt)
ORDER BY (SessionID, SequenceNumber, SlotIndex);
`

// Record is a single heavy-hitter entry pulled from a flow table at
// threshold-report time, kept unanonymized like the threshold report
// itself.
type Record struct {
	SlotIndex   int
	SrcIP       uint32
	DstIP       uint32
	PacketCount uint8
}

// ClickHouseArchiver inserts threshold-report heavy hitters into a
// ClickHouse table for long-term querying.
type ClickHouseArchiver struct {
	conn  driver.Conn
	table string
}

// Settings names the ClickHouse server and database to archive into.
type Settings struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

// Open connects to ClickHouse per settings and ensures the archive
// table exists.
func Open(settings Settings) (*ClickHouseArchiver, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{settings.Addr},
		Auth: clickhouse.Auth{
			Database: settings.Database,
			Username: settings.Username,
			Password: settings.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("archive: open clickhouse connection: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("archive: ping clickhouse: %w", err)
	}
	if err := conn.Exec(context.Background(), fmt.Sprintf(createTableStatement, settings.Table)); err != nil {
		return nil, fmt.Errorf("archive: create table %q: %w", settings.Table, err)
	}
	log.Printf("archive: connected to clickhouse, using table %q", settings.Table)

	return &ClickHouseArchiver{conn: conn, table: settings.Table}, nil
}

// Collect scans tbl for slots qualifying as heavy hitters under
// threshold, the same predicate writer.WriteThresholdedIPs uses, and
// returns them as archive records without mutating table state.
func Collect(tbl interface {
	Capacity() int
	Entry(idx int) flowtable.Entry
}, threshold uint8) []Record {
	var records []Record
	for idx := 0; idx < tbl.Capacity(); idx++ {
		e := tbl.Entry(idx)
		if e.Occupancy != flowtable.OccupiedUnsent {
			continue
		}
		if e.PacketCount < threshold {
			continue
		}
		records = append(records, Record{
			SlotIndex:   idx,
			SrcIP:       e.Key.SrcIP,
			DstIP:       e.Key.DstIP,
			PacketCount: e.PacketCount,
		})
	}
	return records
}

// Write inserts records into the archive table tagged with sessionID
// and sequenceNumber.
func (a *ClickHouseArchiver) Write(sessionID uint64, sequenceNumber int, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := a.conn.PrepareBatch(context.Background(), fmt.Sprintf("INSERT INTO %s", a.table))
	if err != nil {
		return fmt.Errorf("archive: prepare batch: %w", err)
	}

	now := time.Now()
	for _, r := range records {
		err := batch.Append(sessionID, uint32(sequenceNumber), now, uint32(r.SlotIndex), r.SrcIP, r.DstIP, r.PacketCount)
		if err != nil {
			return fmt.Errorf("archive: append record: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("archive: send batch: %w", err)
	}
	log.Printf("archive: wrote %d heavy-hitter records for session %d seq %d", len(records), sessionID, sequenceNumber)
	return nil
}

// Close closes the underlying ClickHouse connection.
func (a *ClickHouseArchiver) Close() error {
	return a.conn.Close()
}
