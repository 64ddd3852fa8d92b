package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// PeerResolver resolves a peer set from a Redis sorted set. Peers are
// returned in ascending score order.
type PeerResolver struct {
	client *Client
	name   string
}

// Resolver returns the resolver for the peer set called name.
func (c *Client) Resolver(name string) *PeerResolver {
	return &PeerResolver{client: c, name: name}
}

// Resolve returns the current members of the peer set.
func (r *PeerResolver) Resolve(ctx context.Context) ([]string, error) {
	peers, err := r.client.rdb.ZRange(ctx, peersKey(r.name), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}
	return peers, nil
}

// AddPeer adds peer to the set called name at position score.
func (c *Client) AddPeer(ctx context.Context, name, peer string, score float64) error {
	if err := c.rdb.ZAdd(ctx, peersKey(name), redis.Z{Score: score, Member: peer}).Err(); err != nil {
		return fmt.Errorf("zadd failed: %w", err)
	}
	return nil
}

// RemovePeer removes peer from the set called name.
func (c *Client) RemovePeer(ctx context.Context, name, peer string) error {
	if err := c.rdb.ZRem(ctx, peersKey(name), peer).Err(); err != nil {
		return fmt.Errorf("zrem failed: %w", err)
	}
	return nil
}
