// pcap-gen synthesizes a pcap file for exercising ns-agent/ns-capture
// without real traffic. Unlike a purely random generator, it draws each
// packet's 5-tuple from a fixed-size pool of flows so most packets
// revisit an existing flow instead of creating a new one every time,
// which is what actually exercises the flow table's refresh and
// heavy-hitter paths.
package main

import (
	"flag"
	"log"
	"math/rand"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

func main() {
	outputFile := flag.String("o", "test.pcap", "output pcap file path")
	packetCount := flag.Int("c", 1000, "number of packets to generate")
	flowCount := flag.Int("flows", 50, "number of distinct 5-tuples packets are drawn from")
	flag.Parse()

	f, err := os.Create(*outputFile)
	if err != nil {
		log.Fatalf("failed to create output file: %v", err)
	}
	defer f.Close()

	pcapWriter := pcapgo.NewWriter(f)
	if err := pcapWriter.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		log.Fatalf("failed to write pcap header: %v", err)
	}

	flows := make([]fiveTuple, *flowCount)
	for i := range flows {
		flows[i] = randomFiveTuple()
	}

	log.Printf("generating %d packets across %d flows into %s...", *packetCount, *flowCount, *outputFile)

	for i := 0; i < *packetCount; i++ {
		if (i+1)%100000 == 0 {
			log.Printf("generated %d packets...", i+1)
		}

		ft := flows[rand.Intn(len(flows))]
		payloadSize := rand.Intn(1400) + 50

		ethLayer := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
			DstMAC:       net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ipLayer := &layers.IPv4{
			SrcIP:    ft.srcIP,
			DstIP:    ft.dstIP,
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolTCP,
		}
		tcpLayer := &layers.TCP{
			SrcPort: ft.srcPort,
			DstPort: ft.dstPort,
			Seq:     rand.Uint32(),
			Ack:     rand.Uint32(),
			SYN:     true,
			Window:  14600,
		}
		tcpLayer.SetNetworkLayerForChecksum(ipLayer)

		payload := make([]byte, payloadSize)
		rand.Read(payload)

		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
		if err := gopacket.SerializeLayers(buf, opts, ethLayer, ipLayer, tcpLayer, gopacket.Payload(payload)); err != nil {
			log.Fatalf("failed to serialize layers: %v", err)
		}

		ci := gopacket.CaptureInfo{
			Timestamp:     time.Now(),
			CaptureLength: len(buf.Bytes()),
			Length:        len(buf.Bytes()),
		}
		if err := pcapWriter.WritePacket(ci, buf.Bytes()); err != nil {
			log.Fatalf("failed to write packet: %v", err)
		}
	}

	log.Printf("successfully generated %d packets into %s", *packetCount, *outputFile)
}

type fiveTuple struct {
	srcIP, dstIP     net.IP
	srcPort, dstPort layers.TCPPort
}

func randomFiveTuple() fiveTuple {
	return fiveTuple{
		srcIP:   net.IP{byte(rand.Intn(256)), byte(rand.Intn(256)), byte(rand.Intn(256)), byte(rand.Intn(256))},
		dstIP:   net.IP{byte(rand.Intn(256)), byte(rand.Intn(256)), byte(rand.Intn(256)), byte(rand.Intn(256))},
		srcPort: layers.TCPPort(rand.Intn(65535-1024) + 1024),
		dstPort: layers.TCPPort(rand.Intn(65535-1024) + 1024),
	}
}
