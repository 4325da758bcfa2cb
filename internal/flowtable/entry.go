// Package flowtable implements the fixed-capacity, open-addressed flow
// table that aggregates observed packets into unidirectional 5-tuple
// flows. It is the core of the passive-measurement agent: a single
// pre-allocated array, deterministic probe-bounded lookup, and a compact
// per-entry time representation that survives arbitrarily long process
// lifetimes via base-timestamp rebasing.
package flowtable

import "encoding/binary"

// Occupancy is the state of one slot in the flow table.
type Occupancy uint8

const (
	// Empty terminates a probe sequence on lookup-miss. Never revisited
	// once a slot leaves it.
	Empty Occupancy = iota
	// OccupiedUnsent holds a live flow not yet drained by WriteUpdate.
	OccupiedUnsent
	// OccupiedSent holds a live flow already emitted by WriteUpdate.
	OccupiedSent
	// Deleted is a tombstone: it does not terminate a probe sequence.
	Deleted
)

func (o Occupancy) String() string {
	switch o {
	case Empty:
		return "EMPTY"
	case OccupiedUnsent:
		return "OCCUPIED_UNSENT"
	case OccupiedSent:
		return "OCCUPIED_SENT"
	case Deleted:
		return "DELETED"
	default:
		return "UNKNOWN"
	}
}

// MaxPacketCount is the saturation ceiling of Entry.PacketCount: 2^6 - 1,
// the largest value representable in a 6-bit counter.
const MaxPacketCount = 63

// FlowKey is the 5-tuple identifying a unidirectional flow. IPv4
// addresses are kept as their raw 32-bit network-order value rather than
// net.IP so that Entry stays a fixed-size, allocation-free value type.
type FlowKey struct {
	SrcIP    uint32
	DstIP    uint32
	Protocol uint8
	SrcPort  uint16
	DstPort  uint16
}

// hashBytes returns the fixed byte layout the hash is computed over:
// source IP, destination IP, source port, destination port, protocol, in
// that exact order. The layout is part of the contract so alternate hash
// functions can be injected deterministically in tests.
func (k FlowKey) hashBytes() [13]byte {
	var b [13]byte
	binary.BigEndian.PutUint32(b[0:4], k.SrcIP)
	binary.BigEndian.PutUint32(b[4:8], k.DstIP)
	binary.BigEndian.PutUint16(b[8:10], k.SrcPort)
	binary.BigEndian.PutUint16(b[10:12], k.DstPort)
	b[12] = k.Protocol
	return b
}

// Entry is one slot of the flow table.
type Entry struct {
	Key       FlowKey
	Occupancy Occupancy
	// LastUpdateOffset is last-update-seconds minus the table's
	// base-timestamp-seconds at the time it was last set. Signed so
	// rebasing can drive it negative as the base advances past it.
	LastUpdateOffset int32
	// PacketCount is a 6-bit saturating counter, meaningful only while
	// Occupancy is OccupiedUnsent.
	PacketCount uint8
}

func (e *Entry) isLive() bool {
	return e.Occupancy == OccupiedUnsent || e.Occupancy == OccupiedSent
}
