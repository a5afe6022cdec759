// Package bencode implements the bencoding used by metainfo files: integers,
// byte strings, lists and dictionaries, with dictionary keys always emitted
// in byte-lexicographic order on encode.
package bencode

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
)

// Dict is a bencoded dictionary. Values are int64, string, []byte, []any, or
// Dict.
type Dict map[string]any

// Encode writes x in canonical bencoded form. Dictionary keys are sorted by
// raw byte value regardless of the order they were set in, so the same Dict
// always encodes to the same bytes.
func Encode(x any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, x); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encode(buf *bytes.Buffer, x any) error {
	switch v := x.(type) {
	case int:
		return encodeInt(buf, int64(v))
	case int64:
		return encodeInt(buf, v)
	case uint64:
		return encodeInt(buf, int64(v))
	case string:
		return encodeBytes(buf, []byte(v))
	case []byte:
		return encodeBytes(buf, v)
	case []any:
		buf.WriteByte('l')
		for _, item := range v {
			if err := encode(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte('e')
		return nil
	case Dict:
		return encodeDict(buf, v)
	case map[string]any:
		return encodeDict(buf, v)
	default:
		return fmt.Errorf("bencode: unsupported type %T", x)
	}
}

func encodeInt(buf *bytes.Buffer, v int64) error {
	buf.WriteByte('i')
	buf.WriteString(strconv.FormatInt(v, 10))
	buf.WriteByte('e')
	return nil
}

func encodeBytes(buf *bytes.Buffer, v []byte) error {
	buf.WriteString(strconv.Itoa(len(v)))
	buf.WriteByte(':')
	buf.Write(v)
	return nil
}

func encodeDict(buf *bytes.Buffer, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Byte-lexicographic order, per the spec's canonical encoding rule.
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	buf.WriteByte('d')
	for _, k := range keys {
		if err := encodeBytes(buf, []byte(k)); err != nil {
			return err
		}
		if err := encode(buf, m[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('e')
	return nil
}

// Decode parses a single bencoded value from the start of data and returns
// it along with the number of bytes consumed. Integers decode to int64,
// byte strings decode to []byte, lists decode to []any, and dictionaries
// decode to Dict.
func Decode(data []byte) (any, int, error) {
	return decodeValue(data, 0)
}

func decodeValue(data []byte, pos int) (any, int, error) {
	if pos >= len(data) {
		return nil, pos, fmt.Errorf("bencode: unexpected end of input")
	}

	switch {
	case data[pos] == 'i':
		return decodeInt(data, pos)
	case data[pos] == 'l':
		return decodeList(data, pos)
	case data[pos] == 'd':
		return decodeDict(data, pos)
	case data[pos] >= '0' && data[pos] <= '9':
		return decodeBytes(data, pos)
	default:
		return nil, pos, fmt.Errorf("bencode: invalid token %q at offset %d", data[pos], pos)
	}
}

func decodeInt(data []byte, pos int) (int64, int, error) {
	end := bytes.IndexByte(data[pos:], 'e')
	if end < 0 {
		return 0, pos, fmt.Errorf("bencode: unterminated integer")
	}
	end += pos
	v, err := strconv.ParseInt(string(data[pos+1:end]), 10, 64)
	if err != nil {
		return 0, pos, fmt.Errorf("bencode: bad integer: %w", err)
	}
	return v, end + 1, nil
}

func decodeBytes(data []byte, pos int) ([]byte, int, error) {
	colon := bytes.IndexByte(data[pos:], ':')
	if colon < 0 {
		return nil, pos, fmt.Errorf("bencode: malformed byte string length")
	}
	colon += pos
	n, err := strconv.Atoi(string(data[pos:colon]))
	if err != nil || n < 0 {
		return nil, pos, fmt.Errorf("bencode: bad byte string length")
	}
	start := colon + 1
	if start+n > len(data) {
		return nil, pos, fmt.Errorf("bencode: byte string runs past end of input")
	}
	return data[start : start+n], start + n, nil
}

func decodeList(data []byte, pos int) ([]any, int, error) {
	pos++ // skip 'l'
	out := []any{}
	for {
		if pos >= len(data) {
			return nil, pos, fmt.Errorf("bencode: unterminated list")
		}
		if data[pos] == 'e' {
			return out, pos + 1, nil
		}
		v, next, err := decodeValue(data, pos)
		if err != nil {
			return nil, pos, err
		}
		out = append(out, v)
		pos = next
	}
}

func decodeDict(data []byte, pos int) (Dict, int, error) {
	pos++ // skip 'd'
	out := Dict{}
	for {
		if pos >= len(data) {
			return nil, pos, fmt.Errorf("bencode: unterminated dictionary")
		}
		if data[pos] == 'e' {
			return out, pos + 1, nil
		}
		key, next, err := decodeBytes(data, pos)
		if err != nil {
			return nil, pos, fmt.Errorf("bencode: bad dictionary key: %w", err)
		}
		pos = next
		val, next, err := decodeValue(data, pos)
		if err != nil {
			return nil, pos, err
		}
		out[string(key)] = val
		pos = next
	}
}
