// Package metrics provides the process-wide counter store shared by all
// request handlers. Counters are monotonic; the snapshot endpoint exports a
// point-in-time copy plus process uptime. Every increment is mirrored to a
// Prometheus counter vector so the same numbers appear on the scrape
// endpoint.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Store holds named monotonic counters. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	counters  map[string]uint64
	startedAt time.Time
	updatedAt time.Time

	registry *prometheus.Registry
	promVec  *prometheus.CounterVec
}

// Snapshot is the read-only export returned by the metrics endpoint.
type Snapshot struct {
	Counters      map[string]uint64 `json:"counters"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	LastUpdated   string            `json:"last_updated"`
}

// NewStore creates an empty counter store with its own Prometheus registry.
// Each service owns exactly one Store, assembled in main and passed down.
func NewStore(service string) *Store {
	registry := prometheus.NewRegistry()
	vec := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "defense_pipeline_events_total",
			Help: "Pipeline event counters keyed by counter name",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
		[]string{"counter"},
	)
	now := time.Now()
	return &Store{
		counters:  make(map[string]uint64),
		startedAt: now,
		updatedAt: now,
		registry:  registry,
		promVec:   vec,
	}
}

// Inc increments a counter by one.
func (s *Store) Inc(key string) {
	s.Add(key, 1)
}

// Add increments a counter by delta. Negative deltas are ignored; counters
// never decrement.
func (s *Store) Add(key string, delta int64) {
	if delta < 0 {
		return
	}
	s.mu.Lock()
	s.counters[key] += uint64(delta)
	s.updatedAt = time.Now()
	s.mu.Unlock()

	s.promVec.WithLabelValues(key).Add(float64(delta))
}

// Get returns the current value of a counter.
func (s *Store) Get(key string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters[key]
}

// Snapshot copies the counter map. The copy is point-in-time per key; it is
// not required to be consistent across keys.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]uint64, len(s.counters))
	for k, v := range s.counters {
		out[k] = v
	}
	return Snapshot{
		Counters:      out,
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
		LastUpdated:   s.updatedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
	}
}

// Registry exposes the Prometheus registry for the scrape handler.
func (s *Store) Registry() *prometheus.Registry {
	return s.registry
}

// Reset clears all counters. Test helper only.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = make(map[string]uint64)
	s.startedAt = time.Now()
	s.updatedAt = s.startedAt
}
