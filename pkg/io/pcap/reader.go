// Package pcap provides PCAP file reading and network packet feature extraction.
package pcap

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	gio "github.com/hed1ad/cblof/pkg/io"
)

// Reader turns packets from a capture into feature vectors.
type Reader struct {
	source    *gopacket.PacketSource
	closer    io.Closer
	extractor *FeatureExtractor
	isLive    bool
}

var _ gio.Reader = (*Reader)(nil)

// NewFileReader creates a reader for PCAP files.
func NewFileReader(filename string) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", filename)
	}

	r, err := New(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	r.closer = file
	return r, nil
}

// New creates a reader over PCAP data in src. Close does not close src.
func New(src io.Reader) (*Reader, error) {
	pr, err := pcapgo.NewReader(src)
	if err != nil {
		return nil, errors.Wrap(err, "read pcap header")
	}

	return &Reader{
		source:    gopacket.NewPacketSource(pr, pr.LinkType()),
		extractor: NewFeatureExtractor(),
	}, nil
}

// Read returns all packets as feature vectors.
func (r *Reader) Read() ([][]float64, error) {
	if r.source == nil {
		return nil, errors.New("reader not initialized")
	}

	var data [][]float64
	for packet := range r.source.Packets() {
		data = append(data, r.extractor.ExtractPacket(packet))
	}

	return data, nil
}

// Stream returns a channel of feature vectors for real-time processing.
func (r *Reader) Stream(ctx context.Context) (<-chan []float64, error) {
	if r.source == nil {
		return nil, errors.New("reader not initialized")
	}

	out := make(chan []float64, 1000)
	packets := r.source.Packets()

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case packet, ok := <-packets:
				if !ok {
					return
				}
				select {
				case out <- r.extractor.ExtractPacket(packet):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// IsLive reports whether the reader captures from an interface.
func (r *Reader) IsLive() bool {
	return r.isLive
}

// FeatureNames returns the names of the columns produced by Read.
func (r *Reader) FeatureNames() []string {
	return r.extractor.FeatureNames()
}

// FeatureExtractor extracts numerical features from network packets.
type FeatureExtractor struct {
	lastTimestamp time.Time
}

var _ gio.FeatureExtractor = (*FeatureExtractor)(nil)

// NewFeatureExtractor creates a new packet feature extractor.
func NewFeatureExtractor() *FeatureExtractor {
	return &FeatureExtractor{}
}

// Extract implements io.FeatureExtractor for gopacket.Packet values.
func (e *FeatureExtractor) Extract(data any) ([]float64, error) {
	packet, ok := data.(gopacket.Packet)
	if !ok {
		return nil, errors.Newf("expected gopacket.Packet, got %T", data)
	}
	return e.ExtractPacket(packet), nil
}

// ExtractPacket converts a packet to a feature vector.
// Features: [packet_size, inter_arrival_time, protocol, src_port, dst_port,
//
//	tcp_flags, ip_ttl, payload_size]
func (e *FeatureExtractor) ExtractPacket(packet gopacket.Packet) []float64 {
	features := make([]float64, 8)

	features[0] = float64(len(packet.Data()))

	// Inter-arrival time
	metadata := packet.Metadata()
	if metadata != nil && !metadata.Timestamp.IsZero() {
		if !e.lastTimestamp.IsZero() {
			features[1] = metadata.Timestamp.Sub(e.lastTimestamp).Seconds()
		}
		e.lastTimestamp = metadata.Timestamp
	}

	if tcpLayer := packet.Layer(layers.LayerTypeTCP); tcpLayer != nil {
		tcp := tcpLayer.(*layers.TCP)
		features[2] = float64(layers.IPProtocolTCP)
		features[3] = float64(tcp.SrcPort)
		features[4] = float64(tcp.DstPort)
		features[5] = encodeTCPFlags(tcp)
	} else if udpLayer := packet.Layer(layers.LayerTypeUDP); udpLayer != nil {
		udp := udpLayer.(*layers.UDP)
		features[2] = float64(layers.IPProtocolUDP)
		features[3] = float64(udp.SrcPort)
		features[4] = float64(udp.DstPort)
	} else if packet.Layer(layers.LayerTypeICMPv4) != nil {
		features[2] = float64(layers.IPProtocolICMPv4)
	}

	if ipLayer := packet.Layer(layers.LayerTypeIPv4); ipLayer != nil {
		features[6] = float64(ipLayer.(*layers.IPv4).TTL)
	}

	if appLayer := packet.ApplicationLayer(); appLayer != nil {
		features[7] = float64(len(appLayer.Payload()))
	}

	return features
}

// FeatureNames returns the names of extracted features.
func (e *FeatureExtractor) FeatureNames() []string {
	return []string{
		"packet_size",
		"inter_arrival_time",
		"protocol",
		"src_port",
		"dst_port",
		"tcp_flags",
		"ip_ttl",
		"payload_size",
	}
}

// encodeTCPFlags packs the TCP flags into a bit mask.
func encodeTCPFlags(tcp *layers.TCP) float64 {
	var flags float64
	if tcp.SYN {
		flags += 1
	}
	if tcp.ACK {
		flags += 2
	}
	if tcp.FIN {
		flags += 4
	}
	if tcp.RST {
		flags += 8
	}
	if tcp.PSH {
		flags += 16
	}
	if tcp.URG {
		flags += 32
	}
	return flags
}
