// Package urlparse parses the absolute URLs used for tracker announce
// endpoints: [scheme://]host[:port][/path]. Scheme and path are discarded;
// callers pass host and port separately to the tracker HTTP client.
package urlparse

import (
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidURL is returned when a present port cannot be parsed.
var ErrInvalidURL = fmt.Errorf("urlparse: invalid url")

// Parts is the host and port extracted from an announce URL. Port is -1
// when the URL carries no port.
type Parts struct {
	Host string
	Port int
}

// Parse extracts host and port from an absolute URL, discarding scheme and
// path.
func Parse(url string) (Parts, error) {
	work := url

	if idx := strings.Index(work, "://"); idx != -1 {
		work = work[idx+3:]
	}

	hostport := work
	if idx := strings.IndexByte(work, '/'); idx != -1 {
		hostport = work[:idx]
	}

	colon := strings.LastIndexByte(hostport, ':')
	if colon == -1 {
		return Parts{Host: hostport, Port: -1}, nil
	}

	host := hostport[:colon]
	portStr := hostport[colon+1:]
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Parts{}, fmt.Errorf("%w: %s", ErrInvalidURL, url)
	}

	return Parts{Host: host, Port: port}, nil
}
