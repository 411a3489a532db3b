package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncAndGet(t *testing.T) {
	s := NewStore("test")

	s.Inc("tarpit_hits")
	s.Inc("tarpit_hits")
	s.Add("ips_blocklisted", 5)

	assert.Equal(t, uint64(2), s.Get("tarpit_hits"))
	assert.Equal(t, uint64(5), s.Get("ips_blocklisted"))
	assert.Equal(t, uint64(0), s.Get("never_touched"))
}

func TestNegativeDeltaIgnored(t *testing.T) {
	s := NewStore("test")
	s.Add("events", 3)
	s.Add("events", -2)
	assert.Equal(t, uint64(3), s.Get("events"))
}

func TestConcurrentIncrements(t *testing.T) {
	s := NewStore("test")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Inc("concurrent")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(5000), s.Get("concurrent"))
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore("test")
	s.Inc("a")

	snap := s.Snapshot()
	require.Equal(t, uint64(1), snap.Counters["a"])
	assert.GreaterOrEqual(t, snap.UptimeSeconds, float64(0))
	assert.NotEmpty(t, snap.LastUpdated)

	// Mutating the snapshot must not leak back into the store.
	snap.Counters["a"] = 99
	assert.Equal(t, uint64(1), s.Get("a"))
}

func TestEachStoreHasItsOwnRegistry(t *testing.T) {
	a := NewStore("svc-a")
	b := NewStore("svc-b")
	assert.NotSame(t, a.Registry(), b.Registry())

	a.Inc("x")
	families, err := a.Registry().Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "defense_pipeline_events_total", families[0].GetName())
}
