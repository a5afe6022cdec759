package engine

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mustEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(0)
	require.NoError(t, err)
	e.Start()
	t.Cleanup(e.Stop)
	return e
}

func TestHelloHelloAckHandshake(t *testing.T) {
	a := mustEngine(t)
	b := mustEngine(t)

	require.NoError(t, a.PunchTo("127.0.0.1", b.LocalPort(), "peer-a"))

	// b replies HELLO_ACK to a; give the goroutines a moment to run.
	time.Sleep(50 * time.Millisecond)
}

func TestRequestAndReceivePiece(t *testing.T) {
	dir := t.TempDir()
	content := make([]byte, 3000)
	for i := range content {
		content[i] = byte(i % 256)
	}
	path := filepath.Join(dir, "file.bin")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	server := mustEngine(t)
	client := mustEngine(t)

	const pieceLength = 2000
	server.RegisterLocalFile("deadbeef", path, pieceLength, uint64(len(content)))

	var mu sync.Mutex
	received := make(map[uint64][]byte)
	var total uint64
	done := make(chan struct{})

	client.SetPieceChunkHandler(func(ih string, idx int, offset, totalSize uint64, data []byte) {
		mu.Lock()
		defer mu.Unlock()
		buf := make([]byte, len(data))
		copy(buf, data)
		received[offset] = buf
		total = totalSize
		var sum int
		for _, c := range received {
			sum += len(c)
		}
		if uint64(sum) >= totalSize {
			select {
			case <-done:
			default:
				close(done)
			}
		}
	})

	require.NoError(t, client.RequestPieceFrom("127.0.0.1", server.LocalPort(), "deadbeef", 0, "peer-client"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for piece 0")
	}

	mu.Lock()
	defer mu.Unlock()
	require.EqualValues(t, pieceLength, total)

	reassembled := make([]byte, total)
	for offset, chunk := range received {
		copy(reassembled[offset:], chunk)
	}
	require.Equal(t, content[:pieceLength], reassembled)
}

func TestRequestLastShorterPiece(t *testing.T) {
	dir := t.TempDir()
	content := make([]byte, 2500)
	path := filepath.Join(dir, "file.bin")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	server := mustEngine(t)
	client := mustEngine(t)

	const pieceLength = 2000
	server.RegisterLocalFile("cafebabe", path, pieceLength, uint64(len(content)))

	var mu sync.Mutex
	var total uint64
	var gotBytes int
	done := make(chan struct{})

	client.SetPieceChunkHandler(func(ih string, idx int, offset, totalSize uint64, data []byte) {
		mu.Lock()
		defer mu.Unlock()
		total = totalSize
		gotBytes += len(data)
		if gotBytes >= int(totalSize) {
			select {
			case <-done:
			default:
				close(done)
			}
		}
	})

	require.NoError(t, client.RequestPieceFrom("127.0.0.1", server.LocalPort(), "cafebabe", 1, "peer-client"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for piece 1")
	}

	mu.Lock()
	defer mu.Unlock()
	require.EqualValues(t, 500, total) // 2500 - 2000
}

func TestRequestPieceUnknownInfoHashIsIgnored(t *testing.T) {
	server := mustEngine(t)
	client := mustEngine(t)

	require.NoError(t, client.RequestPieceFrom("127.0.0.1", server.LocalPort(), "nosuchfile", 0, "peer-client"))
	time.Sleep(50 * time.Millisecond)
}
