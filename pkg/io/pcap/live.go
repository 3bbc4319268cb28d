//go:build libpcap

package pcap

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

// NewLiveReader creates a reader for live packet capture. It needs libpcap
// and is only built with the libpcap build tag.
func NewLiveReader(iface string, snaplen int32, promisc bool, timeout time.Duration) (*Reader, error) {
	handle, err := pcap.OpenLive(iface, snaplen, promisc, timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", iface)
	}

	return &Reader{
		source:    gopacket.NewPacketSource(handle, handle.LinkType()),
		closer:    closerFunc(handle.Close),
		extractor: NewFeatureExtractor(),
		isLive:    true,
	}, nil
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}
