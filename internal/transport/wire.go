// Package transport carries captured packets from the capture process
// to the aggregation process over NATS. The wire format is encoded
// directly with protobuf's low-level wire primitives (protowire) rather
// than through .proto-generated message types, since no protoc step is
// available in this build; the byte layout is still standard protobuf
// wire format (varint/length-delimited fields with stable field
// numbers), so any protoc-generated consumer elsewhere could decode it.
package transport

import (
	"fmt"
	"net"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/nazaninmagharei/bismark-passive/internal/model"
)

// Field numbers for the wire-encoded packet message. Stable across
// versions; never renumber a field once it ships.
const (
	fieldTimestampSeconds protowire.Number = 1
	fieldTimestampNanos   protowire.Number = 2
	fieldSrcIP            protowire.Number = 3
	fieldDstIP            protowire.Number = 4
	fieldSrcPort          protowire.Number = 5
	fieldDstPort          protowire.Number = 6
	fieldProtocol         protowire.Number = 7
	fieldLength           protowire.Number = 8
)

// Marshal encodes a model.PacketInfo into protobuf wire format.
func Marshal(info *model.PacketInfo) ([]byte, error) {
	src4 := info.FiveTuple.SrcIP.To4()
	dst4 := info.FiveTuple.DstIP.To4()
	if src4 == nil || dst4 == nil {
		return nil, fmt.Errorf("transport: five-tuple is not IPv4")
	}

	var b []byte
	b = protowire.AppendTag(b, fieldTimestampSeconds, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(info.Timestamp.Unix()))
	b = protowire.AppendTag(b, fieldTimestampNanos, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(info.Timestamp.Nanosecond()))
	b = protowire.AppendTag(b, fieldSrcIP, protowire.BytesType)
	b = protowire.AppendBytes(b, src4)
	b = protowire.AppendTag(b, fieldDstIP, protowire.BytesType)
	b = protowire.AppendBytes(b, dst4)
	b = protowire.AppendTag(b, fieldSrcPort, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(info.FiveTuple.SrcPort))
	b = protowire.AppendTag(b, fieldDstPort, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(info.FiveTuple.DstPort))
	b = protowire.AppendTag(b, fieldProtocol, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(info.FiveTuple.Protocol))
	b = protowire.AppendTag(b, fieldLength, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(info.Length))
	return b, nil
}

// Unmarshal decodes bytes produced by Marshal back into a
// model.PacketInfo. Unknown fields are skipped so the wire format can
// grow new fields without breaking older consumers.
func Unmarshal(data []byte) (*model.PacketInfo, error) {
	var (
		seconds, nanos   int64
		srcIP, dstIP     net.IP
		srcPort, dstPort uint16
		protocol         uint8
		length           int
	)

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("transport: invalid tag")
		}
		data = data[n:]

		switch {
		case num == fieldTimestampSeconds && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("transport: invalid timestamp seconds")
			}
			seconds = int64(v)
			data = data[m:]
		case num == fieldTimestampNanos && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("transport: invalid timestamp nanos")
			}
			nanos = int64(v)
			data = data[m:]
		case num == fieldSrcIP && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("transport: invalid src ip")
			}
			srcIP = net.IP(append([]byte(nil), v...))
			data = data[m:]
		case num == fieldDstIP && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("transport: invalid dst ip")
			}
			dstIP = net.IP(append([]byte(nil), v...))
			data = data[m:]
		case num == fieldSrcPort && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("transport: invalid src port")
			}
			srcPort = uint16(v)
			data = data[m:]
		case num == fieldDstPort && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("transport: invalid dst port")
			}
			dstPort = uint16(v)
			data = data[m:]
		case num == fieldProtocol && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("transport: invalid protocol")
			}
			protocol = uint8(v)
			data = data[m:]
		case num == fieldLength && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("transport: invalid length")
			}
			length = int(v)
			data = data[m:]
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("transport: invalid unknown field")
			}
			data = data[n:]
		}
	}

	return &model.PacketInfo{
		Timestamp: time.Unix(seconds, nanos),
		FiveTuple: model.FiveTuple{
			SrcIP:    srcIP,
			DstIP:    dstIP,
			SrcPort:  srcPort,
			DstPort:  dstPort,
			Protocol: protocol,
		},
		Length: length,
	}, nil
}
