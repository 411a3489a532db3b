package kvstore

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/scrapewall/backend/internal/metrics"
)

// FreqInfo is the per-source frequency view returned to the scorer. The
// count excludes the request that triggered the read.
type FreqInfo struct {
	CountBefore   int64
	SinceLastSec  float64 // -1 when no prior request in the window
	WindowSeconds int
}

// FrequencyTracker maintains sliding-window request timestamps per source
// using one sorted set per source. All mutations for a single observation go
// through one transactional pipeline so concurrent observers see
// self-consistent counts.
type FrequencyTracker struct {
	client  *Client
	window  time.Duration
	metrics *metrics.Store
}

// NewFrequencyTracker builds a tracker over the frequency namespace.
func NewFrequencyTracker(client *Client, window time.Duration, m *metrics.Store) *FrequencyTracker {
	if window <= 0 {
		window = 300 * time.Second
	}
	return &FrequencyTracker{client: client, window: window, metrics: m}
}

// Window returns the configured sliding window.
func (t *FrequencyTracker) Window() time.Duration {
	return t.window
}

func freqKey(source string) string {
	return "freq:" + source
}

// RecordAndQuery prunes entries older than the window, reads the in-window
// count and the most recent prior timestamp, then records the current
// request. Prune-before-count means the returned count is "requests before
// this one". A store failure returns zeros and increments the frequency
// error counter; analysis continues degraded.
func (t *FrequencyTracker) RecordAndQuery(ctx context.Context, source string) FreqInfo {
	windowSecs := int(t.window.Seconds())
	info := FreqInfo{CountBefore: 0, SinceLastSec: -1.0, WindowSeconds: windowSecs}
	if t.client == nil {
		t.metrics.Inc("redis_errors_frequency")
		return info
	}

	now := float64(time.Now().UnixNano()) / 1e9
	cutoff := now - t.window.Seconds()
	key := freqKey(source)

	cctx, cancel := t.client.callCtx(ctx)
	defer cancel()

	pipe := t.client.rdb.TxPipeline()
	pipe.ZRemRangeByScore(cctx, key, "-inf", strconv.FormatFloat(cutoff, 'f', 6, 64))
	cardCmd := pipe.ZCard(cctx, key)
	lastCmd := pipe.ZRevRangeByScoreWithScores(cctx, key, &redis.ZRangeBy{
		Min: "-inf", Max: "+inf", Offset: 0, Count: 1,
	})
	pipe.ZAdd(cctx, key, redis.Z{Score: now, Member: fmt.Sprintf("%.6f", now)})
	pipe.Expire(cctx, key, t.window+60*time.Second)

	if _, err := pipe.Exec(cctx); err != nil {
		slog.Error("frequency pipeline failed", "source", source, "error", err)
		t.metrics.Inc("redis_errors_frequency")
		return info
	}

	info.CountBefore = cardCmd.Val()
	if last := lastCmd.Val(); len(last) > 0 {
		// Millisecond precision is enough for the inter-arrival feature.
		delta := now - last[0].Score
		info.SinceLastSec = float64(int64(delta*1000)) / 1000
		if info.SinceLastSec < 0 {
			info.SinceLastSec = 0
		}
	}
	return info
}
