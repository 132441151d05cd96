package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/engsudal909/sapience-1-sub012/internal/domain"
)

// NonceCounter issues strictly increasing per-address nonces via INCR, so a
// signer's nonces stay monotonic across restarts and across relay instances
// sharing one Redis.
type NonceCounter struct {
	rdb *redis.Client
}

// NewNonceCounter creates a NonceCounter backed by the given Client.
func NewNonceCounter(c *Client) *NonceCounter {
	return &NonceCounter{rdb: c.Underlying()}
}

func nonceKey(address string) string {
	return "nonce:" + strings.ToLower(address)
}

// Next returns the next nonce for an address, starting at 1.
func (nc *NonceCounter) Next(ctx context.Context, address string) (uint64, error) {
	n, err := nc.rdb.Incr(ctx, nonceKey(address)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: next nonce for %s: %w", address, err)
	}
	return uint64(n), nil
}

// Compile-time interface check.
var _ domain.NonceCounter = (*NonceCounter)(nil)
