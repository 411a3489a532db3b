package kvstore

import (
	"context"
	"fmt"
	"time"
)

// blocklistKey is the single cluster-wide set of blocked source addresses.
const blocklistKey = "blocklist:ip"

// Blocklist is the authoritative set of addresses the fronting proxy must
// refuse. Members are inserted by the webhook receiver and the tarpit hop
// limiter; the core never removes them.
type Blocklist struct {
	client *Client
	ttl    time.Duration // optional set-level TTL, 0 disables
}

// NewBlocklist wraps the blocklist namespace. ttl, when positive, refreshes
// an expiry on the whole set after each insert.
func NewBlocklist(client *Client, ttl time.Duration) *Blocklist {
	return &Blocklist{client: client, ttl: ttl}
}

// Add inserts an address into the blocklist. Inserting an existing member is
// success; the operation is idempotent.
func (b *Blocklist) Add(ctx context.Context, source string) error {
	if b.client == nil {
		return fmt.Errorf("blocklist store unavailable")
	}
	cctx, cancel := b.client.callCtx(ctx)
	defer cancel()

	if err := b.client.rdb.SAdd(cctx, blocklistKey, source).Err(); err != nil {
		return fmt.Errorf("blocklist SADD %s: %w", source, err)
	}
	if b.ttl > 0 {
		// Set-level expiry is a lever, not a per-member guarantee.
		_ = b.client.rdb.Expire(cctx, blocklistKey, b.ttl).Err()
	}
	return nil
}

// Contains reports blocklist membership.
func (b *Blocklist) Contains(ctx context.Context, source string) (bool, error) {
	if b.client == nil {
		return false, fmt.Errorf("blocklist store unavailable")
	}
	cctx, cancel := b.client.callCtx(ctx)
	defer cancel()
	return b.client.rdb.SIsMember(cctx, blocklistKey, source).Result()
}

// Count returns the blocklist cardinality.
func (b *Blocklist) Count(ctx context.Context) (int64, error) {
	if b.client == nil {
		return 0, fmt.Errorf("blocklist store unavailable")
	}
	cctx, cancel := b.client.callCtx(ctx)
	defer cancel()
	return b.client.rdb.SCard(cctx, blocklistKey).Result()
}

// Ping proxies a connectivity check for health endpoints.
func (b *Blocklist) Ping(ctx context.Context) error {
	if b.client == nil {
		return fmt.Errorf("blocklist store unavailable")
	}
	return b.client.Ping(ctx)
}
