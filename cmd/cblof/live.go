//go:build libpcap

package main

import (
	"github.com/google/gopacket/pcap"

	gio "github.com/hed1ad/cblof/pkg/io"
	gpcap "github.com/hed1ad/cblof/pkg/io/pcap"
)

// openLive captures full packets from iface.
func openLive(iface string) (gio.Reader, error) {
	return gpcap.NewLiveReader(iface, 65535, true, pcap.BlockForever)
}
