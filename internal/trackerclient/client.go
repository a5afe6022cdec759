// Package trackerclient issues announce requests to a tracker's
// GET /announce query-string endpoint and decodes the JSON peer list.
// Generalized from dropeer's TrackerClient, which POSTs a JSON body to a
// JSON tracker; bitpeer's tracker speaks the spec's query-string protocol
// instead.
package trackerclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"bitpeer/internal/urlparse"
)

// defaultTimeout is the recommended connect/read timeout from spec §5.
const defaultTimeout = 5 * time.Second

// AnnounceParams mirrors the tracker's required and optional query
// parameters.
type AnnounceParams struct {
	InfoHash string
	PeerID   string
	Port     uint16
	Event    string // "started", "stopped", or empty
}

// Peer is one entry in an announce response's peer list.
type Peer struct {
	IP   string `json:"ip"`
	Port uint16 `json:"port"`
}

// Response is the decoded body of a successful announce.
type Response struct {
	Interval int    `json:"interval"`
	Peers    []Peer `json:"peers"`
}

// Client announces to tracker endpoints; the endpoint is given per Announce
// call.
type Client struct {
	httpClient *http.Client
}

// New builds a tracker client with the spec-recommended timeout.
func New() *Client {
	return &Client{httpClient: &http.Client{Timeout: defaultTimeout}}
}

// Announce resolves announceURL's host/port, builds the /announce query and
// decodes the JSON response.
func (c *Client) Announce(announceURL string, params AnnounceParams) (*Response, error) {
	parts, err := urlparse.Parse(announceURL)
	if err != nil {
		return nil, fmt.Errorf("trackerclient: %w", err)
	}

	host := parts.Host
	if parts.Port >= 0 {
		host = fmt.Sprintf("%s:%d", parts.Host, parts.Port)
	}

	q := url.Values{}
	q.Set("infohash", params.InfoHash)
	q.Set("peer_id", params.PeerID)
	q.Set("port", strconv.Itoa(int(params.Port)))
	q.Set("uploaded", "0")
	q.Set("downloaded", "0")
	q.Set("left", "0")
	if params.Event != "" {
		q.Set("event", params.Event)
	}

	target := fmt.Sprintf("http://%s/announce?%s", host, q.Encode())

	resp, err := c.httpClient.Get(target)
	if err != nil {
		return nil, fmt.Errorf("trackerclient: announce request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return nil, fmt.Errorf("trackerclient: tracker returned %s: %s", resp.Status, errBody.Error)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("trackerclient: decode response: %w", err)
	}
	return &out, nil
}
