// Package engine implements the UDP peer protocol: NAT hole-punching
// (HELLO/HELLO_ACK), piece requests (REQ_PIECE) and piece delivery (PIECE)
// over a single connectionless socket. Translated from
// original_source/client/src/peer_udp.cpp's UdpPeerEngine, with the boost
// asio io_context/strand replaced by a single reader goroutine and a mutex
// guarding the local file table, in the style of dropeer's FileManager.
package engine

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"bitpeer/internal/logging"
)

const (
	cmdHello    = "HELLO"
	cmdHelloAck = "HELLO_ACK"
	cmdReqPiece = "REQ_PIECE"
	cmdPiece    = "PIECE"
)

// maxDatagram bounds a single UDP read, matching the original engine's fixed
// receive buffer. Every PIECE datagram (header plus binary payload) is kept
// within maxPayload, leaving headerReserve bytes of the buffer unused.
const (
	maxDatagram   = 2048
	headerReserve = 128
	maxPayload    = maxDatagram - headerReserve
)

// PieceChunkHandler is invoked for every fragment of a PIECE datagram
// received from a remote peer.
type PieceChunkHandler func(infoHashHex string, pieceIndex int, offsetInPiece, totalPieceSize uint64, data []byte)

// LocalFile is a file this engine can serve pieces of, indexed by its
// announce-ready hex infohash.
type LocalFile struct {
	Path        string
	PieceLength uint64
	FileLength  uint64
}

// Engine sends and receives the peer wire protocol over one UDP socket.
type Engine struct {
	conn *net.UDPConn

	localFilesMu sync.Mutex
	localFiles   map[string]LocalFile

	handlerMu sync.RWMutex
	handler   PieceChunkHandler

	wg   sync.WaitGroup
	done chan struct{}
}

// New opens a UDP socket on localPort (0 picks an ephemeral port, useful in
// tests) and returns an engine that is not yet receiving.
func New(localPort int) (*Engine, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: localPort})
	if err != nil {
		return nil, fmt.Errorf("engine: listen udp :%d: %w", localPort, err)
	}
	return &Engine{
		conn:       conn,
		localFiles: make(map[string]LocalFile),
		done:       make(chan struct{}),
	}, nil
}

// LocalPort reports the port the engine is bound to.
func (e *Engine) LocalPort() int {
	return e.conn.LocalAddr().(*net.UDPAddr).Port
}

// Start launches the receive loop in a background goroutine.
func (e *Engine) Start() {
	logging.Info("engine: listening on udp port %d", e.LocalPort())
	e.wg.Add(1)
	go e.receiveLoop()
}

// Stop closes the socket and waits for the receive loop to exit.
func (e *Engine) Stop() {
	select {
	case <-e.done:
		return // already stopped
	default:
		close(e.done)
	}
	e.conn.Close()
	e.wg.Wait()
	logging.Info("engine: stopped")
}

// SetPieceChunkHandler installs the callback invoked for every PIECE
// fragment received. Must be called before Start to avoid a race with the
// first inbound datagram.
func (e *Engine) SetPieceChunkHandler(cb PieceChunkHandler) {
	e.handlerMu.Lock()
	defer e.handlerMu.Unlock()
	e.handler = cb
}

// RegisterLocalFile makes a file available to serve REQ_PIECE requests for
// infoHashHex.
func (e *Engine) RegisterLocalFile(infoHashHex, path string, pieceLength, fileLength uint64) {
	e.localFilesMu.Lock()
	defer e.localFilesMu.Unlock()
	e.localFiles[infoHashHex] = LocalFile{Path: path, PieceLength: pieceLength, FileLength: fileLength}
	logging.Info("engine: registered local file ih=%s path=%s piece_len=%d file_len=%d", infoHashHex, path, pieceLength, fileLength)
}

// PunchTo sends a HELLO to open a path through a NAT/firewall toward ip:port.
func (e *Engine) PunchTo(ip string, port int, peerID string) error {
	return e.sendTo(ip, port, []byte(cmdHello+" "+peerID))
}

// RequestPieceFrom asks a remote peer for one piece of infoHashHex.
func (e *Engine) RequestPieceFrom(ip string, port int, infoHashHex string, pieceIndex int, peerID string) error {
	msg := fmt.Sprintf("%s %s %d %s", cmdReqPiece, infoHashHex, pieceIndex, peerID)
	return e.sendTo(ip, port, []byte(msg))
}

func (e *Engine) sendTo(ip string, port int, payload []byte) error {
	target := &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
	if target.IP == nil {
		return fmt.Errorf("engine: invalid ip %q", ip)
	}
	n, err := e.conn.WriteToUDP(payload, target)
	if err != nil {
		return fmt.Errorf("engine: send to %s:%d: %w", ip, port, err)
	}
	logging.Info("engine: tx %dB to %s:%d :: %q", n, ip, port, payload)
	return nil
}

func (e *Engine) receiveLoop() {
	defer e.wg.Done()
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-e.done:
				return
			default:
				logging.Warn("engine: rx error: %v", err)
				return
			}
		}
		e.handleDatagram(buf[:n], from)
	}
}

func (e *Engine) handleDatagram(msg []byte, from *net.UDPAddr) {
	newlineIdx := bytes.IndexByte(msg, '\n')
	var header string
	bodyOffset := len(msg)
	if newlineIdx >= 0 {
		header = string(msg[:newlineIdx])
		bodyOffset = newlineIdx + 1
	} else {
		header = string(msg)
	}

	tokens := strings.Fields(header)
	if len(tokens) == 0 {
		return
	}
	logging.Info("engine: rx %dB from %s :: %q", len(msg), from, header)

	switch tokens[0] {
	case cmdHello:
		if _, err := e.conn.WriteToUDP([]byte(cmdHelloAck), from); err != nil {
			logging.Warn("engine: hello_ack to %s: %v", from, err)
		}
	case cmdHelloAck:
		// Hole confirmed open; nothing further to do.
	case cmdReqPiece:
		if len(tokens) < 3 {
			return
		}
		idx, err := strconv.Atoi(tokens[2])
		if err != nil {
			logging.Warn("engine: bad REQ_PIECE index %q from %s", tokens[2], from)
			return
		}
		e.sendPiece(from, tokens[1], idx)
	case cmdPiece:
		if len(tokens) < 5 {
			return
		}
		idx, err1 := strconv.Atoi(tokens[2])
		offset, err2 := strconv.ParseUint(tokens[3], 10, 64)
		total, err3 := strconv.ParseUint(tokens[4], 10, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			logging.Warn("engine: malformed PIECE header %q from %s", header, from)
			return
		}
		if bodyOffset >= len(msg) {
			return
		}
		e.handlerMu.RLock()
		h := e.handler
		e.handlerMu.RUnlock()
		if h != nil {
			h(tokens[1], idx, offset, total, msg[bodyOffset:])
		}
	}
}

func (e *Engine) sendPiece(to *net.UDPAddr, infoHashHex string, pieceIndex int) {
	e.localFilesMu.Lock()
	lf, ok := e.localFiles[infoHashHex]
	e.localFilesMu.Unlock()
	if !ok {
		logging.Warn("engine: no local file for infohash=%s", infoHashHex)
		return
	}

	f, err := os.Open(lf.Path)
	if err != nil {
		logging.Warn("engine: open %q: %v", lf.Path, err)
		return
	}
	defer f.Close()

	offset := uint64(pieceIndex) * lf.PieceLength
	if offset >= lf.FileLength {
		logging.Warn("engine: requested piece out of range ih=%s index=%d", infoHashHex, pieceIndex)
		return
	}
	remaining := lf.PieceLength
	if left := lf.FileLength - offset; left < remaining {
		remaining = left
	}

	if _, err := f.Seek(int64(offset), io.SeekStart); err != nil {
		logging.Warn("engine: seek %q: %v", lf.Path, err)
		return
	}

	data := make([]byte, maxPayload)
	var sent uint64
	for sent < remaining {
		header := fmt.Sprintf("%s %s %d %d %d\n", cmdPiece, infoHashHex, pieceIndex, sent, remaining)
		toRead := remaining - sent
		if budget := uint64(maxPayload - len(header)); toRead > budget {
			toRead = budget
		}
		n, err := f.Read(data[:toRead])
		if n <= 0 {
			if err != nil && err != io.EOF {
				logging.Warn("engine: read %q: %v", lf.Path, err)
			}
			break
		}

		packet := append([]byte(header), data[:n]...)
		if wrote, err := e.conn.WriteToUDP(packet, to); err != nil {
			logging.Warn("engine: send_piece error: %v", err)
			return
		} else {
			logging.Info("engine: tx %dB PIECE ih=%s index=%d off=%d", wrote, infoHashHex, pieceIndex, sent)
		}

		sent += uint64(n)
	}
}
