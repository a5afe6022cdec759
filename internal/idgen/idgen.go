// Package idgen generates the peer_id used to identify this process in the
// swarm: a 10-character alphanumeric string, generated once per process
// start, with injection allowed for tests.
package idgen

import (
	"github.com/google/uuid"
)

const (
	alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	length   = 10
)

// New generates a fresh 10-character alphanumeric peer id, folding a
// google/uuid V4 value down into the spec's shorter alphabet rather than
// using the UUID string verbatim.
func New() string {
	id := uuid.New()
	return foldToAlphabet(id[:])
}

// Fixed derives a deterministic 10-character peer id from an arbitrary seed
// string, for tests that need a reproducible identity.
func Fixed(seed string) string {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed))
	return foldToAlphabet(id[:])
}

func foldToAlphabet(b []byte) string {
	out := make([]byte, length)
	for i := 0; i < length; i++ {
		out[i] = alphabet[int(b[i%len(b)])%len(alphabet)]
	}
	return string(out)
}
