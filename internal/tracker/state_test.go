package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertThenReAnnounceKeepsOnePeerUpdatesLastSeen(t *testing.T) {
	s := NewState(DefaultTTL)
	fakeNow := time.Unix(1000, 0)
	s.SetClock(func() time.Time { return fakeNow })

	s.Upsert("H", "10.0.0.1", 6881, "pid1")
	first, ok := s.LastSeen("H", "10.0.0.1", 6881, "pid1")
	require.True(t, ok)
	assert.Equal(t, fakeNow.Unix(), first.Unix())

	fakeNow = fakeNow.Add(10 * time.Second)
	s.Upsert("H", "10.0.0.1", 6881, "pid1")

	assert.Equal(t, 1, s.SwarmSize("H"))
	updated, ok := s.LastSeen("H", "10.0.0.1", 6881, "pid1")
	require.True(t, ok)
	assert.Equal(t, fakeNow.Unix(), updated.Unix())
}

func TestListExceptExcludesSelfAndReturnsOthers(t *testing.T) {
	s := NewState(DefaultTTL)
	s.Upsert("H", "10.0.0.1", 6881, "pid1")
	s.Upsert("H", "10.0.0.2", 6882, "pid2")

	peers := s.ListExcept("H", "10.0.0.2", 6882, "pid2")
	require.Len(t, peers, 1)
	assert.Equal(t, "10.0.0.1", peers[0].IP)
	assert.EqualValues(t, 6881, peers[0].Port)
}

func TestStoppedRemovesPeer(t *testing.T) {
	s := NewState(DefaultTTL)
	s.Upsert("H", "10.0.0.1", 6881, "pid1")
	s.Upsert("H", "10.0.0.2", 6882, "pid2")

	s.Remove("H", "10.0.0.1", 6881, "pid1")

	peers := s.ListExcept("H", "10.0.0.2", 6882, "pid2")
	assert.Empty(t, peers)
	assert.Equal(t, 1, s.SwarmSize("H"))
}

func TestTTLEviction(t *testing.T) {
	s := NewState(1 * time.Second)
	fakeNow := time.Unix(5000, 0)
	s.SetClock(func() time.Time { return fakeNow })

	s.Upsert("H", "10.0.0.1", 6881, "pid1")

	fakeNow = fakeNow.Add(2 * time.Second)
	s.Upsert("H", "10.0.0.2", 6882, "pid2") // upsert triggers nothing by itself; GC does the eviction

	s.GC()

	assert.Equal(t, 1, s.SwarmSize("H"))
	peers := s.ListExcept("H", "10.0.0.2", 6882, "pid2")
	assert.Empty(t, peers)
}

func TestAtMostOneRecordPerIdentityAcrossManyAnnounces(t *testing.T) {
	s := NewState(DefaultTTL)
	for i := 0; i < 50; i++ {
		s.Upsert("H", "10.0.0.1", 6881, "pid1")
	}
	assert.Equal(t, 1, s.SwarmSize("H"))
}

func TestListExceptCapsAt50(t *testing.T) {
	s := NewState(DefaultTTL)
	for i := 0; i < 60; i++ {
		s.Upsert("H", "10.0.0.1", uint16(10000+i), "pid-self-excluded-from-others")
	}
	peers := s.ListExcept("H", "0.0.0.0", 1, "nobody")
	assert.LessOrEqual(t, len(peers), MaxPeersReturned)
}
