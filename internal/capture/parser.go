// Package capture is the packet-capture and L2/L3/L4 parsing front end:
// it turns raw packets into the model.PacketInfo the flow table's
// 5-tuple key is built from. It never touches flowtable internals
// directly.
package capture

import (
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/nazaninmagharei/bismark-passive/internal/model"
)

// ParsePacket decodes a raw Ethernet frame and extracts the 5-tuple and
// length the flow table needs. Non-IPv4 or non-TCP/UDP packets are
// reported as errors rather than silently zero-valued, so callers can
// count and log drops instead of feeding the table garbage.
func ParsePacket(data []byte, captureTimestamp time.Time) (*model.PacketInfo, error) {
	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.NoCopy)

	info := &model.PacketInfo{
		Timestamp: captureTimestamp,
		Length:    len(data),
	}

	ipLayer := packet.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return nil, fmt.Errorf("capture: not an IPv4 packet")
	}
	ip4 := ipLayer.(*layers.IPv4)

	var ft model.FiveTuple
	ft.SrcIP = ip4.SrcIP
	ft.DstIP = ip4.DstIP
	ft.Protocol = uint8(ip4.Protocol)

	switch {
	case packet.Layer(layers.LayerTypeTCP) != nil:
		tcp := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
		ft.SrcPort = uint16(tcp.SrcPort)
		ft.DstPort = uint16(tcp.DstPort)
	case packet.Layer(layers.LayerTypeUDP) != nil:
		udp := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		ft.SrcPort = uint16(udp.SrcPort)
		ft.DstPort = uint16(udp.DstPort)
	default:
		return nil, fmt.Errorf("capture: not a TCP or UDP packet")
	}

	info.FiveTuple = ft
	return info, nil
}
