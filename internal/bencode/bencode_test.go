package bencode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeScalars(t *testing.T) {
	b, err := Encode(int64(42))
	require.NoError(t, err)
	assert.Equal(t, "i42e", string(b))

	b, err = Encode("spam")
	require.NoError(t, err)
	assert.Equal(t, "4:spam", string(b))

	b, err = Encode([]any{"a", int64(1)})
	require.NoError(t, err)
	assert.Equal(t, "l1:ai1ee", string(b))
}

func TestEncodeDictSortsKeysRegardlessOfInsertionOrder(t *testing.T) {
	unordered := Dict{
		"pieces":       "xx",
		"name":         "f.bin",
		"length":       int64(10),
		"piece length": int64(5),
	}
	b, err := Encode(unordered)
	require.NoError(t, err)
	// "length" < "name" < "piece length" < "pieces" byte-lexicographically.
	assert.Equal(t, "d6:lengthi10e4:name5:f.bin12:piece lengthi5e6:pieces2:xxe", string(b))
}

func TestDecodeRoundTrip(t *testing.T) {
	original := Dict{
		"announce": "http://tracker.example/announce",
		"info": Dict{
			"length":       int64(1500000),
			"name":         "movie.mkv",
			"piece length": int64(500000),
			"pieces":       "0123456789",
		},
	}

	encoded, err := Encode(original)
	require.NoError(t, err)

	decoded, n, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, len(encoded), n)

	reencoded, err := Encode(decoded)
	require.NoError(t, err)
	assert.Equal(t, encoded, reencoded)
}

func TestDecodeUnsortedInputStillRoundTripsToCanonicalForm(t *testing.T) {
	// "zzz" then "aaa": not in sorted order in the wire bytes.
	raw := []byte("d3:zzzi1e3:aaai2ee")
	decoded, _, err := Decode(raw)
	require.NoError(t, err)

	reencoded, err := Encode(decoded)
	require.NoError(t, err)
	assert.Equal(t, "d3:aaai2e3:zzzi1ee", string(reencoded))
}

func TestDecodeMalformed(t *testing.T) {
	_, _, err := Decode([]byte("d3:foo"))
	assert.Error(t, err)

	_, _, err = Decode([]byte("i12"))
	assert.Error(t, err)

	_, _, err = Decode([]byte("99:short"))
	assert.Error(t, err)
}
