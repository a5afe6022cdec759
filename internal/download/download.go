// Package download tracks in-flight transfers and writes inbound piece
// fragments into pre-allocated sparse output files. Grounded directly on
// spec §4.6 (itself distilled from the client-side bookkeeping that drives
// original_source/client/src/peer_udp.cpp's piece_chunk_handler_ callback),
// with the mutex-guarded map pattern carried over from dropeer's
// FileManager.
package download

import (
	"fmt"
	"io"
	"os"
	"sync"

	"bitpeer/internal/logging"
	"bitpeer/internal/metainfo"
)

// Entry is one tracked transfer, keyed by infohash hex in a Manager.
type Entry struct {
	Name        string
	TotalSize   int64
	InfoHashHex string
	PieceLength int64
	NumPieces   int
	OutputPath  string

	// pieceHashes is set only when the download was created from a parsed
	// metainfo (StartFromMetainfo); nil for downloads started from bare
	// parameters. It is never consulted automatically — piece verification
	// against published hashes is out of scope — but ExpectedPieceHash
	// exposes it as the seam a future verifier would use.
	pieceHashes [][]byte

	// mu guards the five fields below: they are mutated by apply(), invoked
	// from the engine's receive loop, and read by accessor methods called
	// from the REPL's progress-reporting goroutine (spec §5).
	mu                    sync.Mutex
	bytesReceivedPerPiece []int64
	pieceComplete         []bool
	bytesDownloadedTotal  int64
	piecesCompleteCount   int
	completed             bool
}

// ExpectedPieceHash returns the published digest for piece i, or nil if this
// download was not started from a parsed metainfo.
func (e *Entry) ExpectedPieceHash(i int) []byte {
	if i < 0 || i >= len(e.pieceHashes) {
		return nil
	}
	return e.pieceHashes[i]
}

// BytesDownloaded returns the running total of accounted-for bytes.
func (e *Entry) BytesDownloaded() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bytesDownloadedTotal
}

// PiecesComplete returns how many pieces have been fully received.
func (e *Entry) PiecesComplete() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.piecesCompleteCount
}

// Completed reports whether every piece has been fully received. Monotonic:
// once true it never reverts to false.
func (e *Entry) Completed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completed
}

func (e *Entry) expectedPieceSize(index int) int64 {
	if index == e.NumPieces-1 {
		last := e.TotalSize - int64(index)*e.PieceLength
		if last > 0 {
			return last
		}
	}
	return e.PieceLength
}

// Manager owns the set of active downloads and applies inbound fragments to
// them.
type Manager struct {
	mu        sync.Mutex
	downloads map[string]*Entry // infohash hex -> entry
}

// NewManager builds an empty download manager.
func NewManager() *Manager {
	return &Manager{downloads: make(map[string]*Entry)}
}

// Start registers a new download, deduplicated by infoHashHex: calling
// Start again for an infohash already tracked returns the existing entry
// unchanged.
func (m *Manager) Start(name, infoHashHex, outputPath string, totalSize, pieceLength int64, numPieces int) *Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.downloads[infoHashHex]; ok {
		return e
	}

	e := &Entry{
		Name:                  name,
		TotalSize:             totalSize,
		InfoHashHex:           infoHashHex,
		PieceLength:           pieceLength,
		NumPieces:             numPieces,
		OutputPath:            outputPath,
		bytesReceivedPerPiece: make([]int64, numPieces),
		pieceComplete:         make([]bool, numPieces),
	}
	m.downloads[infoHashHex] = e
	return e
}

// StartFromMetainfo registers a new download from a fully parsed metainfo,
// carrying its piece hashes through for ExpectedPieceHash, deduplicated by
// infohash the same way Start is.
func (m *Manager) StartFromMetainfo(meta *metainfo.Metainfo, outputPath string) *Entry {
	infoHashHex := fmt.Sprintf("%x", meta.InfoHash)

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.downloads[infoHashHex]; ok {
		return e
	}

	numPieces := meta.NumPieces()
	e := &Entry{
		Name:                  meta.Name,
		TotalSize:             meta.Length,
		InfoHashHex:           infoHashHex,
		PieceLength:           meta.PieceLength,
		NumPieces:             numPieces,
		OutputPath:            outputPath,
		pieceHashes:           meta.PieceHashes,
		bytesReceivedPerPiece: make([]int64, numPieces),
		pieceComplete:         make([]bool, numPieces),
	}
	m.downloads[infoHashHex] = e
	return e
}

// Get returns the download tracked under infoHashHex, if any.
func (m *Manager) Get(infoHashHex string) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.downloads[infoHashHex]
	return e, ok
}

// List returns every tracked download.
func (m *Manager) List() []*Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Entry, 0, len(m.downloads))
	for _, e := range m.downloads {
		out = append(out, e)
	}
	return out
}

// HandlePieceFragment applies one inbound PIECE fragment: it is the callback
// wired into the UDP engine's SetPieceChunkHandler.
func (m *Manager) HandlePieceFragment(infoHashHex string, pieceIndex int, offsetInPiece, totalPieceSize uint64, data []byte) {
	m.mu.Lock()
	e, ok := m.downloads[infoHashHex]
	m.mu.Unlock()
	if !ok {
		logging.Warn("download: fragment for unknown download ih=%s", infoHashHex)
		return
	}

	e.apply(pieceIndex, offsetInPiece, data)
}

func (e *Entry) apply(pieceIndex int, offsetInPiece uint64, data []byte) {
	if pieceIndex < 0 || pieceIndex >= e.NumPieces {
		logging.Warn("download: piece index %d out of range for %s", pieceIndex, e.InfoHashHex)
		return
	}

	if err := e.ensureAllocated(); err != nil {
		logging.Warn("download: preallocate %q: %v", e.OutputPath, err)
		return
	}

	absOffset := int64(pieceIndex)*e.PieceLength + int64(offsetInPiece)
	if absOffset+int64(len(data)) > e.TotalSize {
		logging.Warn("download: fragment for %s piece %d overruns total size, dropped", e.InfoHashHex, pieceIndex)
		return
	}

	f, err := os.OpenFile(e.OutputPath, os.O_WRONLY, 0o644)
	if err != nil {
		logging.Warn("download: open %q: %v", e.OutputPath, err)
		return
	}
	defer f.Close()

	if _, err := f.WriteAt(data, absOffset); err != nil {
		logging.Warn("download: write at %d into %q: %v", absOffset, e.OutputPath, err)
		return
	}

	expected := e.expectedPieceSize(pieceIndex)

	e.mu.Lock()
	defer e.mu.Unlock()

	delta := int64(len(data))
	if room := expected - e.bytesReceivedPerPiece[pieceIndex]; delta > room {
		delta = room
	}
	if delta <= 0 {
		return
	}

	e.bytesReceivedPerPiece[pieceIndex] += delta
	e.bytesDownloadedTotal += delta
	if e.bytesDownloadedTotal > e.TotalSize {
		e.bytesDownloadedTotal = e.TotalSize
	}

	if !e.pieceComplete[pieceIndex] && e.bytesReceivedPerPiece[pieceIndex] == expected {
		e.pieceComplete[pieceIndex] = true
		e.piecesCompleteCount++
	}
	if e.piecesCompleteCount == e.NumPieces {
		e.completed = true
	}
}

// ensureAllocated creates a sparse file of exactly TotalSize bytes if the
// output file is missing or the wrong size, so later random-offset writes
// are always safe.
func (e *Entry) ensureAllocated() error {
	info, err := os.Stat(e.OutputPath)
	if err == nil && info.Size() == e.TotalSize {
		return nil
	}
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("stat: %w", err)
	}

	f, err := os.Create(e.OutputPath)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	defer f.Close()

	if e.TotalSize <= 0 {
		return nil
	}
	if _, err := f.Seek(e.TotalSize-1, io.SeekStart); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	if _, err := f.Write([]byte{0}); err != nil {
		return fmt.Errorf("write sentinel byte: %w", err)
	}
	return nil
}
