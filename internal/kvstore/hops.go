package kvstore

import (
	"context"
	"fmt"
	"time"

	"github.com/scrapewall/backend/internal/events"
)

// HopCounter tracks how many times each source has hit the tarpit. The
// counter expires with the frequency window so a quiet source starts fresh.
type HopCounter struct {
	client *Client
	ttl    time.Duration
}

// NewHopCounter wraps the hops namespace.
func NewHopCounter(client *Client, ttl time.Duration) *HopCounter {
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &HopCounter{client: client, ttl: ttl}
}

func hopKey(source string) string {
	return "tarpit_hop_count:" + source
}

// Increment bumps the hop count for a source and refreshes the TTL,
// returning the new count. On store failure the caller must allow
// conservatively (hop limiting fails open).
func (h *HopCounter) Increment(ctx context.Context, source string) (int64, error) {
	if h.client == nil {
		return 0, fmt.Errorf("hop store unavailable")
	}
	cctx, cancel := h.client.callCtx(ctx)
	defer cancel()

	pipe := h.client.rdb.TxPipeline()
	incrCmd := pipe.Incr(cctx, hopKey(source))
	pipe.Expire(cctx, hopKey(source), h.ttl)
	if _, err := pipe.Exec(cctx); err != nil {
		return 0, fmt.Errorf("hop incr %s: %w", source, err)
	}
	return incrCmd.Val(), nil
}

// Ping proxies a connectivity check for health endpoints.
func (h *HopCounter) Ping(ctx context.Context) error {
	if h.client == nil {
		return fmt.Errorf("hop store unavailable")
	}
	return h.client.Ping(ctx)
}

// FlagStore marks tarpit visitors as suspicious for the other subsystems.
// Values are opaque timestamps; only key presence matters.
type FlagStore struct {
	client *Client
	ttl    time.Duration
}

// NewFlagStore wraps the tarpit-flags namespace.
func NewFlagStore(client *Client, ttl time.Duration) *FlagStore {
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &FlagStore{client: client, ttl: ttl}
}

func flagKey(source string) string {
	return "tarpit_flag:" + source
}

// Flag marks a source as having reached the tarpit.
func (f *FlagStore) Flag(ctx context.Context, source string) error {
	if f.client == nil {
		return fmt.Errorf("flag store unavailable")
	}
	cctx, cancel := f.client.callCtx(ctx)
	defer cancel()

	value := events.ISOTimestamp(time.Now())
	if err := f.client.rdb.Set(cctx, flagKey(source), value, f.ttl).Err(); err != nil {
		return fmt.Errorf("flag set %s: %w", source, err)
	}
	return nil
}

// IsFlagged reports whether a source currently carries the tarpit flag.
func (f *FlagStore) IsFlagged(ctx context.Context, source string) (bool, error) {
	if f.client == nil {
		return false, fmt.Errorf("flag store unavailable")
	}
	cctx, cancel := f.client.callCtx(ctx)
	defer cancel()

	n, err := f.client.rdb.Exists(cctx, flagKey(source)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
