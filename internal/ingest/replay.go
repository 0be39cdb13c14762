package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// ReplayConfig configures pcap replay.
type ReplayConfig struct {
	// Port keeps only UDP datagrams to this destination port. Zero keeps
	// every UDP datagram.
	Port int
	// SpeedMultiplier paces replay against capture timestamps (1.0 =
	// real time, 2.0 = twice as fast). Zero replays as fast as possible.
	SpeedMultiplier float64
}

// ReplayStats summarises a replay.
type ReplayStats struct {
	Packets   int
	Delivered int
	Errors    int
	Duration  time.Duration // capture time span covered
}

// ReplayPCAP reads a classic pcap file and feeds the UDP payloads to h.
func ReplayPCAP(ctx context.Context, path string, h PacketHandler, cfg ReplayConfig) (ReplayStats, error) {
	var st ReplayStats

	f, err := os.Open(path)
	if err != nil {
		return st, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	if err != nil {
		return st, fmt.Errorf("failed to read PCAP header %s: %w", path, err)
	}

	source := gopacket.NewPacketSource(r, r.LinkType())
	source.NoCopy = true

	var first time.Time
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			logf("PCAP replay stopping due to context cancellation (processed %d packets)", st.Packets)
			return st, ctx.Err()
		default:
		}

		packet, err := source.NextPacket()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logf("PCAP replay ended early after %d packets: %v", st.Packets, err)
			}
			logf("PCAP replay complete: %d packets, %d delivered", st.Packets, st.Delivered)
			return st, nil
		}
		st.Packets++

		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if cfg.Port != 0 && int(udp.DstPort) != cfg.Port {
			continue
		}

		ts := packet.Metadata().Timestamp
		if first.IsZero() {
			first = ts
		}
		st.Duration = ts.Sub(first)

		if cfg.SpeedMultiplier > 0 {
			due := start.Add(time.Duration(float64(st.Duration) / cfg.SpeedMultiplier))
			if wait := time.Until(due); wait > 0 {
				select {
				case <-ctx.Done():
					return st, ctx.Err()
				case <-time.After(wait):
				}
			}
		}

		if err := h.HandlePacket(udp.Payload); err != nil {
			st.Errors++
			continue
		}
		st.Delivered++
	}
}
