// Package kvstore wraps go-redis v9 behind the four logical namespaces of
// the defense pipeline: frequency sorted sets, the blocklist set, tarpit hop
// counters, and tarpit flags. Namespaces are isolated by logical database
// index; no key crosses namespaces.
//
// Every call degrades gracefully: callers translate connection failures into
// the documented fallback (frequency reads zero, blocklist writes are
// skipped and counted, hop checks allow conservatively).
package kvstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default per-call budget for KV operations.
const defaultCallTimeout = 2 * time.Second

// Client is a namespaced handle on one logical redis database.
type Client struct {
	rdb     *redis.Client
	timeout time.Duration
}

// Dial connects to one logical database and verifies connectivity with a
// ping. Callers decide whether a dial failure is fatal or a degraded start.
func Dial(host string, port, db int, password string) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     50,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s:%d db=%d): %w", host, port, db, err)
	}

	return &Client{rdb: rdb, timeout: defaultCallTimeout}, nil
}

// NewFromRedis wraps an existing go-redis client. Used by tests with
// miniredis-backed clients.
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb, timeout: defaultCallTimeout}
}

// callCtx derives the per-call deadline from the request context.
func (c *Client) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// Ping checks connectivity within a short budget.
func (c *Client) Ping(ctx context.Context) error {
	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	return c.rdb.Ping(cctx).Err()
}

// Close releases the connection pool.
func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
