// Package catalog scans a share directory for files and their companion
// .torrent metainfo, mirroring dropeer's FileManager but keyed by infohash
// instead of a bare content hash, and generalizing
// original_source/client/src/torrent.cpp's scan_root_for_torrents to also
// mint missing .torrent files on the fly.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"bitpeer/internal/logging"
	"bitpeer/internal/metainfo"
)

// torrentSuffix is appended to a shared file's name to name its metainfo.
const torrentSuffix = ".torrent"

// Entry describes one file under a catalog's root: its metainfo and whether
// a .torrent file already existed on disk for it before the scan.
type Entry struct {
	FilePath string
	Meta     *metainfo.Metainfo
	Synced   bool
}

// Catalog tracks locally shared files by infohash so the UDP peer engine can
// look up a local path to serve when a peer requests a piece.
type Catalog struct {
	mu      sync.RWMutex
	root    string
	entries map[string]Entry // infohash (hex) -> Entry
}

// New builds an empty catalog rooted at root.
func New(root string) *Catalog {
	return &Catalog{root: root, entries: make(map[string]Entry)}
}

// Scan walks root, generating a .torrent file (via metainfo.MakeMetainfo)
// for any regular file that lacks one, and loads every resulting metainfo
// into the catalog. announceURL is written into newly minted .torrent files.
func (c *Catalog) Scan(announceURL string, pieceLength int64) ([]Entry, error) {
	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return nil, fmt.Errorf("catalog: create root %q: %w", c.root, err)
	}

	dirEntries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, fmt.Errorf("catalog: read root %q: %w", c.root, err)
	}

	seen := make(map[string]bool)
	var out []Entry
	for _, de := range dirEntries {
		if de.IsDir() || strings.HasSuffix(de.Name(), torrentSuffix) {
			continue
		}

		filePath := filepath.Join(c.root, de.Name())
		torrentPath := filePath + torrentSuffix

		synced := true
		if _, err := os.Stat(torrentPath); os.IsNotExist(err) {
			synced = false
			logging.Info("catalog: minting metainfo for %s", de.Name())
			if err := metainfo.MakeMetainfo(filePath, announceURL, torrentPath, pieceLength); err != nil {
				logging.Warn("catalog: skipping %s: %v", de.Name(), err)
				continue
			}
		}

		meta, err := metainfo.ReadMetainfo(torrentPath)
		if err != nil {
			logging.Warn("catalog: skipping %s: unreadable metainfo: %v", de.Name(), err)
			continue
		}

		entry := Entry{FilePath: filePath, Meta: meta, Synced: synced}
		c.put(entry)
		seen[infoHashKey(meta.InfoHash)] = true
		out = append(out, entry)
	}

	c.pruneMissing(seen)
	return out, nil
}

// pruneMissing drops entries rooted under c.root that were not seen in the
// scan that just completed, so a file deleted from root since the last scan
// stops being re-announced. Entries registered via Add or Register from
// outside root are left alone.
func (c *Catalog) pruneMissing(seen map[string]bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if filepath.Dir(e.FilePath) != filepath.Clean(c.root) {
			continue
		}
		if !seen[key] {
			delete(c.entries, key)
		}
	}
}

// Add registers a single file not necessarily under root, minting or reusing
// its companion .torrent, and returns its catalog entry.
func (c *Catalog) Add(filePath, announceURL string, pieceLength int64) (Entry, error) {
	torrentPath := filePath + torrentSuffix
	synced := true
	if _, err := os.Stat(torrentPath); os.IsNotExist(err) {
		synced = false
		if err := metainfo.MakeMetainfo(filePath, announceURL, torrentPath, pieceLength); err != nil {
			return Entry{}, fmt.Errorf("catalog: mint metainfo for %q: %w", filePath, err)
		}
	}

	meta, err := metainfo.ReadMetainfo(torrentPath)
	if err != nil {
		return Entry{}, fmt.Errorf("catalog: read metainfo for %q: %w", filePath, err)
	}

	entry := Entry{FilePath: filePath, Meta: meta, Synced: synced}
	c.put(entry)
	return entry, nil
}

// Register adds a file whose metainfo was obtained externally (e.g. a
// .torrent handed to the client by another peer) under localPath, the
// location the file's bytes will be written to as pieces arrive.
func (c *Catalog) Register(localPath string, meta *metainfo.Metainfo) {
	c.put(Entry{FilePath: localPath, Meta: meta, Synced: true})
}

func (c *Catalog) put(e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[infoHashKey(e.Meta.InfoHash)] = e
}

// Lookup returns the entry registered under infoHash, if any.
func (c *Catalog) Lookup(infoHash []byte) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[infoHashKey(infoHash)]
	return e, ok
}

// List returns every entry currently known to the catalog.
func (c *Catalog) List() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	return out
}

func infoHashKey(h []byte) string {
	return fmt.Sprintf("%x", h)
}
