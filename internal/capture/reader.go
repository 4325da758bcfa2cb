package capture

import (
	"fmt"
	"log"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"

	"github.com/nazaninmagharei/bismark-passive/internal/model"
)

// Source captures raw packets, either from a live interface or an
// offline pcap file, and feeds parsed model.PacketInfo to a channel.
// Both modes are unified behind one type since they only differ in how
// the *pcap.Handle is opened.
type Source struct {
	handle *pcap.Handle
	logger *log.Logger
}

// OpenOffline opens a pcap file for replay.
func OpenOffline(path string, logger *log.Logger) (*Source, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, fmt.Errorf("capture: open offline %q: %w", path, err)
	}
	return &Source{handle: handle, logger: logger}, nil
}

// OpenLive opens a network interface for live capture.
func OpenLive(iface string, snapshotLen int32, promiscuous bool, bpfFilter string, logger *log.Logger) (*Source, error) {
	handle, err := pcap.OpenLive(iface, snapshotLen, promiscuous, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("capture: open live %q: %w", iface, err)
	}
	if bpfFilter != "" {
		if err := handle.SetBPFFilter(bpfFilter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("capture: set bpf filter %q: %w", bpfFilter, err)
		}
	}
	return &Source{handle: handle, logger: logger}, nil
}

// Close releases the underlying pcap handle.
func (s *Source) Close() { s.handle.Close() }

// Run reads packets until the source is exhausted or closed, sending
// each successfully parsed packet to out. Parse failures are logged and
// skipped rather than aborting the whole capture.
func (s *Source) Run(out chan<- *model.PacketInfo) {
	defer close(out)
	packetSource := gopacket.NewPacketSource(s.handle, s.handle.LinkType())
	for packet := range packetSource.Packets() {
		ts := packet.Metadata().Timestamp
		info, err := ParsePacket(packet.Data(), ts)
		if err != nil {
			if s.logger != nil {
				s.logger.Printf("dropping packet: %v", err)
			}
			continue
		}
		out <- info
	}
}
