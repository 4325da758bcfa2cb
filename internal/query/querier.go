// Package query reads back heavy-hitter history that archive.ClickHouseArchiver
// wrote, for the HTTP API's history endpoint. Responses are plain
// structs that the HTTP handler marshals to JSON directly, rather than
// generated API response types.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/nazaninmagharei/bismark-passive/internal/config"
)

// HeavyHitterRecord is one archived threshold-report row.
type HeavyHitterRecord struct {
	SessionID      uint64
	SequenceNumber uint32
	ObservedAt     time.Time
	SlotIndex      uint32
	SrcIP          uint32
	DstIP          uint32
	PacketCount    uint8
}

// Querier reads archived heavy-hitter history back out of ClickHouse.
type Querier interface {
	BySession(ctx context.Context, sessionID uint64) ([]HeavyHitterRecord, error)
	Since(ctx context.Context, since time.Time, limit int) ([]HeavyHitterRecord, error)
}

type clickhouseQuerier struct {
	conn  clickhouse.Conn
	table string
}

// NewClickHouseQuerier connects to the ClickHouse archive described by
// cfg and returns a Querier over its configured table.
func NewClickHouseQuerier(cfg config.ArchiveConfig) (Querier, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query: open clickhouse connection: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("query: ping clickhouse: %w", err)
	}
	return &clickhouseQuerier{conn: conn, table: cfg.Table}, nil
}

// BySession returns every archived record for a single capture session,
// ordered by sequence number then slot index.
func (q *clickhouseQuerier) BySession(ctx context.Context, sessionID uint64) ([]HeavyHitterRecord, error) {
	query := fmt.Sprintf(`
		SELECT SessionID, SequenceNumber, ObservedAt, SlotIndex, SrcIP, DstIP, PacketCount
		FROM %s
		WHERE SessionID = ?
		ORDER BY SequenceNumber, SlotIndex
	`, q.table)

	rows, err := q.conn.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query: execute by-session query: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Since returns up to limit archived records observed at or after
// since, most recent first.
func (q *clickhouseQuerier) Since(ctx context.Context, since time.Time, limit int) ([]HeavyHitterRecord, error) {
	query := fmt.Sprintf(`
		SELECT SessionID, SequenceNumber, ObservedAt, SlotIndex, SrcIP, DstIP, PacketCount
		FROM %s
		WHERE ObservedAt >= ?
		ORDER BY ObservedAt DESC
		LIMIT ?
	`, q.table)

	rows, err := q.conn.Query(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query: execute since query: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func scanRecords(rows driverRows) ([]HeavyHitterRecord, error) {
	var records []HeavyHitterRecord
	for rows.Next() {
		var r HeavyHitterRecord
		if err := rows.Scan(&r.SessionID, &r.SequenceNumber, &r.ObservedAt, &r.SlotIndex, &r.SrcIP, &r.DstIP, &r.PacketCount); err != nil {
			return nil, fmt.Errorf("query: scan record: %w", err)
		}
		records = append(records, r)
	}
	return records, nil
}

// driverRows is the subset of clickhouse-go's row cursor scanRecords
// needs, kept narrow so it can accept either conn.Query's result type
// directly without importing the driver package just for the type name.
type driverRows interface {
	Next() bool
	Scan(dest ...any) error
}
