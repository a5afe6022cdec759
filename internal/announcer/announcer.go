// Package announcer periodically re-announces every synced catalog entry to
// its tracker and hole-punches the peers it learns about, generalizing
// dropeer's TrackerClient.StartHeartbeat (a time.Ticker re-announcing every
// tracked file hash) into a per-entry loop that also drives the UDP engine.
package announcer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"bitpeer/internal/catalog"
	"bitpeer/internal/engine"
	"bitpeer/internal/logging"
	"bitpeer/internal/trackerclient"
)

// DefaultPeriod is the default re-announce interval (spec's sync_period_ms).
const DefaultPeriod = 30 * time.Second

// Announcer drives one catalog's periodic tracker announces and engine
// hole-punches.
type Announcer struct {
	catalog    *catalog.Catalog
	engine     *engine.Engine
	client     *trackerclient.Client
	peerID     string
	localPort  uint16
	periodNano atomic.Int64
}

// New builds an announcer for catalog c, driving engine eng's hole-punches
// and registering files on it, identifying itself to trackers as peerID on
// localPort.
func New(c *catalog.Catalog, eng *engine.Engine, peerID string, localPort uint16) *Announcer {
	a := &Announcer{
		catalog:   c,
		engine:    eng,
		client:    trackerclient.New(),
		peerID:    peerID,
		localPort: localPort,
	}
	a.SetPeriod(DefaultPeriod)
	return a
}

// SetPeriod changes the re-announce interval; it takes effect on the next
// tick without restarting the loop.
func (a *Announcer) SetPeriod(d time.Duration) {
	a.periodNano.Store(int64(d))
}

func (a *Announcer) period() time.Duration {
	return time.Duration(a.periodNano.Load())
}

// Run blocks, re-announcing every synced catalog entry on each tick, until
// ctx is cancelled.
func (a *Announcer) Run(ctx context.Context) {
	for {
		a.tick()

		select {
		case <-ctx.Done():
			return
		case <-time.After(a.period()):
		}
	}
}

// tick announces every synced entry once. A failure for one entry is logged
// and does not abort the rest of the tick.
func (a *Announcer) tick() {
	for _, entry := range a.catalog.List() {
		if !entry.Synced {
			continue
		}
		if err := a.announceOne(entry); err != nil {
			logging.Warn("announcer: %v", err)
		}
	}
}

func (a *Announcer) announceOne(entry catalog.Entry) error {
	meta := entry.Meta
	infoHashHex := fmt.Sprintf("%x", meta.InfoHash)

	a.engine.RegisterLocalFile(infoHashHex, entry.FilePath, uint64(meta.PieceLength), uint64(meta.Length))

	resp, err := a.client.Announce(meta.AnnounceURL, trackerclient.AnnounceParams{
		InfoHash: infoHashHex,
		PeerID:   a.peerID,
		Port:     a.localPort,
	})
	if err != nil {
		return fmt.Errorf("announce %q (%s): %w", entry.FilePath, infoHashHex, err)
	}

	for _, p := range resp.Peers {
		if err := a.engine.PunchTo(p.IP, int(p.Port), a.peerID); err != nil {
			logging.Warn("announcer: punch to %s:%d: %v", p.IP, p.Port, err)
		}
	}
	return nil
}
