// Package model holds the wire-level representation of a captured
// packet, shared by the capture front end, the NATS transport, and the
// flow table's external callers. FiveTuple here uses net.IP because it
// is the representation produced by packet parsing; flowtable.FlowKey
// uses raw uint32 IPv4 addresses because it is the fixed-size value type
// the table's array stores. ToFlowKey bridges the two.
package model

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/nazaninmagharei/bismark-passive/internal/flowtable"
)

// FiveTuple represents the 5-tuple of a network packet as produced by
// protocol parsing.
type FiveTuple struct {
	SrcIP    net.IP
	DstIP    net.IP
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

// PacketInfo holds the metadata extracted from a single packet.
type PacketInfo struct {
	Timestamp time.Time
	FiveTuple FiveTuple
	Length    int
}

// ToFlowKey converts a FiveTuple into the fixed-size key the flow table
// indexes on. It requires both addresses to be IPv4; the flow table is
// explicitly IPv4-only per its data model.
func (ft FiveTuple) ToFlowKey() (flowtable.FlowKey, error) {
	src := ft.SrcIP.To4()
	dst := ft.DstIP.To4()
	if src == nil || dst == nil {
		return flowtable.FlowKey{}, fmt.Errorf("model: five-tuple is not IPv4: src=%v dst=%v", ft.SrcIP, ft.DstIP)
	}
	return flowtable.FlowKey{
		SrcIP:    binary.BigEndian.Uint32(src),
		DstIP:    binary.BigEndian.Uint32(dst),
		Protocol: ft.Protocol,
		SrcPort:  ft.SrcPort,
		DstPort:  ft.DstPort,
	}, nil
}
