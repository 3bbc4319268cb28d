//go:build !libpcap

package main

import (
	"github.com/cockroachdb/errors"

	gio "github.com/hed1ad/cblof/pkg/io"
)

// openLive is unavailable without libpcap.
func openLive(iface string) (gio.Reader, error) {
	return nil, errors.WithHint(
		errors.Newf("cannot capture on %s: built without libpcap", iface),
		"rebuild with -tags libpcap",
	)
}
