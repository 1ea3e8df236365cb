package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/tagtrack/internal/timeutil"
)

// DefaultFeedPort is the UDP port the anchors' forwarder sends to.
const DefaultFeedPort = 7000

// PCAPSource replays the UDP payloads of a capture file. With a positive
// Rate the original inter-packet gaps are reproduced, divided by Rate;
// with Rate zero packets are published as fast as they are read.
type PCAPSource struct {
	Path string
	// Port filters UDP packets by destination port; zero accepts any port.
	Port  int
	Rate  float64
	Clock timeutil.Clock
}

func (p *PCAPSource) Name() string { return "pcap " + p.Path }

// Run publishes every matching payload and returns nil at the end of the
// capture.
func (p *PCAPSource) Run(ctx context.Context, sink Sink) error {
	f, err := os.Open(p.Path)
	if err != nil {
		return fmt.Errorf("open capture %s: %w", p.Path, err)
	}
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	if err != nil {
		return fmt.Errorf("read capture header %s: %w", p.Path, err)
	}
	clock := p.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	sink.SetConnected(true)
	var last time.Time
	count := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		data, ci, err := r.ReadPacketData()
		if errors.Is(err, io.EOF) {
			logf("capture %s replayed: %d payloads", p.Path, count)
			return nil
		}
		if err != nil {
			return fmt.Errorf("read capture %s: %w", p.Path, err)
		}

		payload, ok := udpPayload(data, r.LinkType(), p.Port)
		if !ok {
			continue
		}

		if p.Rate > 0 && !last.IsZero() {
			if gap := time.Duration(float64(ci.Timestamp.Sub(last)) / p.Rate); gap > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-clock.After(gap):
				}
			}
		}
		last = ci.Timestamp

		sink.Publish(string(payload))
		count++
	}
}

func udpPayload(data []byte, link layers.LinkType, port int) ([]byte, bool) {
	packet := gopacket.NewPacket(data, link, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok || len(udp.Payload) == 0 {
		return nil, false
	}
	if port != 0 && int(udp.DstPort) != port {
		return nil, false
	}
	return udp.Payload, true
}

// CaptureWriter records payloads as loopback UDP datagrams in pcap format so
// a live session can be replayed later with PCAPSource.
type CaptureWriter struct {
	w    *pcapgo.Writer
	port int
}

// NewCaptureWriter writes the pcap file header to w.
func NewCaptureWriter(w io.Writer, port int) (*CaptureWriter, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("write capture header: %w", err)
	}
	if port <= 0 {
		port = DefaultFeedPort
	}
	return &CaptureWriter{w: pw, port: port}, nil
}

// WritePayload appends one datagram captured at ts.
func (c *CaptureWriter) WritePayload(ts time.Time, payload []byte) error {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(127, 0, 0, 1),
		DstIP:    net.IPv4(127, 0, 0, 1),
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(c.port), DstPort: layers.UDPPort(c.port)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return fmt.Errorf("serialize datagram: %w", err)
	}
	data := buf.Bytes()
	return c.w.WritePacket(gopacket.CaptureInfo{Timestamp: ts, CaptureLength: len(data), Length: len(data)}, data)
}

// Record writes every payload published on m until ctx is cancelled or the
// mux closes.
func (c *CaptureWriter) Record(ctx context.Context, m *Mux, clock timeutil.Clock) error {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	id, ch := m.Subscribe()
	defer m.Unsubscribe(id)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			if err := c.WritePayload(clock.Now(), []byte(payload)); err != nil {
				return err
			}
		}
	}
}
