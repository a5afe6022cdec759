package download

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitpeer/internal/metainfo"
)

func TestSparseAllocationThenWriteInRangeOrder(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.bin")

	m := NewManager()
	e := m.Start("f", "ih1", out, 10, 5, 2)

	m.HandlePieceFragment("ih1", 0, 0, 5, []byte{1, 2, 3, 4, 5})
	m.HandlePieceFragment("ih1", 1, 0, 5, []byte{6, 7, 8, 9, 10})

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.EqualValues(t, 10, info.Size())

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, got)

	assert.EqualValues(t, 10, e.BytesDownloaded())
	assert.Equal(t, 2, e.PiecesComplete())
	assert.True(t, e.Completed())
}

func TestOutOfOrderFragmentsStillReassembleCorrectly(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.bin")

	m := NewManager()
	m.Start("f", "ih1", out, 10, 5, 2)

	// second piece arrives first, and within it, the second half arrives first.
	m.HandlePieceFragment("ih1", 1, 3, 5, []byte{9, 10})
	m.HandlePieceFragment("ih1", 1, 0, 5, []byte{6, 7, 8})
	m.HandlePieceFragment("ih1", 0, 0, 5, []byte{1, 2, 3, 4, 5})

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, got)
}

func TestLastPieceShorterExpectedSize(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.bin")

	m := NewManager()
	e := m.Start("f", "ih1", out, 7, 5, 2) // pieces: 5 bytes, 2 bytes

	m.HandlePieceFragment("ih1", 0, 0, 5, []byte{1, 2, 3, 4, 5})
	assert.False(t, e.Completed())

	m.HandlePieceFragment("ih1", 1, 0, 2, []byte{6, 7})
	assert.True(t, e.Completed())
	assert.EqualValues(t, 7, e.BytesDownloaded())
}

func TestOverrunFragmentIsClampedNotOvercounted(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.bin")

	m := NewManager()
	e := m.Start("f", "ih1", out, 5, 5, 1)

	// A misbehaving peer claims 5 bytes twice for the same offset.
	m.HandlePieceFragment("ih1", 0, 0, 5, []byte{1, 2, 3, 4, 5})
	m.HandlePieceFragment("ih1", 0, 0, 5, []byte{9, 9, 9, 9, 9})

	assert.EqualValues(t, 5, e.BytesDownloaded())
	assert.Equal(t, 1, e.PiecesComplete())
}

func TestFragmentOverrunningTotalSizeIsDropped(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.bin")

	m := NewManager()
	e := m.Start("f", "ih1", out, 5, 5, 1)
	m.HandlePieceFragment("ih1", 0, 3, 5, []byte{1, 2, 3}) // offset 3 + len 3 = 6 > 5

	assert.EqualValues(t, 0, e.BytesDownloaded())
}

func TestUnknownInfoHashIsIgnored(t *testing.T) {
	m := NewManager()
	m.HandlePieceFragment("nosuch", 0, 0, 5, []byte{1})
}

func TestStartIsIdempotentPerInfoHash(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.bin")

	m := NewManager()
	e1 := m.Start("f", "ih1", out, 5, 5, 1)
	e2 := m.Start("f", "ih1", out, 5, 5, 1)
	assert.Same(t, e1, e2)
}

func TestStartFromMetainfoCarriesPieceHashesAndDedupes(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.bin")
	require.NoError(t, os.WriteFile(srcPath, []byte("hello world!"), 0o644))

	torrentPath := filepath.Join(dir, "src.bin.torrent")
	require.NoError(t, metainfo.MakeMetainfo(srcPath, "http://tracker:8080", torrentPath, 5))
	meta, err := metainfo.ReadMetainfo(torrentPath)
	require.NoError(t, err)

	m := NewManager()
	out := filepath.Join(dir, "out.bin")
	e1 := m.StartFromMetainfo(meta, out)
	e2 := m.StartFromMetainfo(meta, out)
	assert.Same(t, e1, e2)

	require.NotNil(t, e1.ExpectedPieceHash(0))
	assert.Equal(t, meta.PieceHashes[0], e1.ExpectedPieceHash(0))
	assert.Nil(t, e1.ExpectedPieceHash(999))
}
