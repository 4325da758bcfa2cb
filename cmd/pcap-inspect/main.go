// pcap-inspect prints the 5-tuple and derived flow key for every packet
// in a pcap file, for debugging capture and key derivation without
// running the full agent.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/nazaninmagharei/bismark-passive/internal/capture"
	"github.com/nazaninmagharei/bismark-passive/internal/model"
)

func main() {
	limit := flag.Int("n", 20, "maximum number of packets to print (0 = unlimited)")
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: pcap-inspect [-n count] <path_to_pcap_file>")
		os.Exit(1)
	}

	source, err := capture.OpenOffline(args[0], log.New(os.Stderr, "", 0))
	if err != nil {
		log.Fatal(err)
	}
	defer source.Close()

	packets := make(chan *model.PacketInfo, 256)
	go source.Run(packets)

	printed := 0
	for info := range packets {
		key, err := info.FiveTuple.ToFlowKey()
		if err != nil {
			fmt.Printf("[%s] skipped: %v\n", info.Timestamp.Format("15:04:05.000"), err)
			continue
		}
		fmt.Printf("[%s] %s:%d -> %s:%d proto=%d len=%d key={src=%08x dst=%08x sport=%d dport=%d proto=%d}\n",
			info.Timestamp.Format("15:04:05.000"),
			info.FiveTuple.SrcIP, info.FiveTuple.SrcPort,
			info.FiveTuple.DstIP, info.FiveTuple.DstPort,
			info.FiveTuple.Protocol, info.Length,
			key.SrcIP, key.DstIP, key.SrcPort, key.DstPort, key.Protocol,
		)
		printed++
		if *limit > 0 && printed >= *limit {
			break
		}
	}
}
