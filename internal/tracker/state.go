// Package tracker implements the in-memory swarm index: a concurrent index
// from infohash to the set of live peers, with TTL-driven eviction, upsert
// semantics on announce, and explicit departure on a stopped event.
package tracker

import (
	"sync"
	"time"
)

// DefaultTTL is the duration after which an un-refreshed peer record is
// evicted from its swarm.
const DefaultTTL = 120 * time.Second

// DefaultInterval is the interval, in seconds, the tracker advises clients
// to use between re-announces.
const DefaultInterval = 60

// MaxPeersReturned bounds how many peers an announce response ever carries.
const MaxPeersReturned = 50

// PeerRecord is one peer's membership in a swarm.
type PeerRecord struct {
	IP           string
	Port         uint16
	PeerID       string
	LastSeenUnix int64 // monotonic-ish: set from a single clock, compared via now()
}

func (p PeerRecord) identity() peerIdentity {
	return peerIdentity{ip: p.IP, port: p.Port, peerID: p.PeerID}
}

type peerIdentity struct {
	ip     string
	port   uint16
	peerID string
}

// State is the tracker's shared swarm index. dropeer's Tracker guards a
// map[string]map[string]common.PeerInfo with a sync.RWMutex; bitpeer needs
// insertion-order-preserving semantics per swarm on upsert (spec: "an
// existing peer keeps its position"), so each swarm is a slice instead of a
// nested map, still behind one mutex — single-threaded event loops need no
// lock at all, but this lets the same State serve a multi-threaded HTTP
// server correctly too (spec §4.3, §9).
type State struct {
	mu     sync.Mutex
	swarms map[string][]PeerRecord
	ttl    time.Duration
	now    func() time.Time
}

// NewState creates an empty tracker state with the given peer TTL.
func NewState(ttl time.Duration) *State {
	return &State{
		swarms: make(map[string][]PeerRecord),
		ttl:    ttl,
		now:    time.Now,
	}
}

// GC drops every peer in every swarm whose last announce is older than the
// TTL. Empty swarms are removed entirely.
func (s *State) GC() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gcLocked()
}

func (s *State) gcLocked() {
	now := s.now()
	for infohash, peers := range s.swarms {
		fresh := peers[:0]
		for _, p := range peers {
			if now.Sub(time.Unix(p.LastSeenUnix, 0)) <= s.ttl {
				fresh = append(fresh, p)
			}
		}
		if len(fresh) == 0 {
			delete(s.swarms, infohash)
		} else {
			s.swarms[infohash] = fresh
		}
	}
}

// Upsert updates the last-seen time of a matching peer record to now, or
// appends a new one at the end of the swarm if none matches.
func (s *State) Upsert(infohash string, ip string, port uint16, peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().Unix()
	peers := s.swarms[infohash]
	want := peerIdentity{ip: ip, port: port, peerID: peerID}
	for i := range peers {
		if peers[i].identity() == want {
			peers[i].LastSeenUnix = now
			return
		}
	}
	s.swarms[infohash] = append(peers, PeerRecord{IP: ip, Port: port, PeerID: peerID, LastSeenUnix: now})
}

// Remove deletes the peer record matching (ip, port, peerID) from the named
// swarm, if present. It is a no-op if the peer is not in the swarm.
func (s *State) Remove(infohash string, ip string, port uint16, peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	peers, ok := s.swarms[infohash]
	if !ok {
		return
	}
	want := peerIdentity{ip: ip, port: port, peerID: peerID}
	out := peers[:0]
	for _, p := range peers {
		if p.identity() != want {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		delete(s.swarms, infohash)
	} else {
		s.swarms[infohash] = out
	}
}

// ListExcept returns up to MaxPeersReturned peers currently in the named
// swarm, excluding the one identified by (ip, port, peerID).
func (s *State) ListExcept(infohash string, ip string, port uint16, peerID string) []PeerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	self := peerIdentity{ip: ip, port: port, peerID: peerID}
	var out []PeerRecord
	for _, p := range s.swarms[infohash] {
		if p.identity() == self {
			continue
		}
		out = append(out, p)
		if len(out) >= MaxPeersReturned {
			break
		}
	}
	return out
}

// SwarmSize reports how many peers are currently tracked for an infohash.
// Used by tests to assert on tracker invariants.
func (s *State) SwarmSize(infohash string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.swarms[infohash])
}

// LastSeen returns the last announce time of a specific peer, if present.
func (s *State) LastSeen(infohash string, ip string, port uint16, peerID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := peerIdentity{ip: ip, port: port, peerID: peerID}
	for _, p := range s.swarms[infohash] {
		if p.identity() == want {
			return time.Unix(p.LastSeenUnix, 0), true
		}
	}
	return time.Time{}, false
}

// SetClock overrides the clock used for last-seen timestamps and GC; tests
// use this to simulate TTL expiry without sleeping.
func (s *State) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}
