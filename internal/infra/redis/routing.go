package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/vietddude/peercall/internal/core/config"
)

// Hash fields of a routing record.
const (
	fieldStrategy = "strategy"
	fieldSticky   = "sticky"
	fieldPeers    = "peers"
	fieldResolver = "resolver"
)

// Routing returns the routing record stored for target. The record is a
// hash with optional strategy, sticky, peers and resolver fields; peers is
// a comma separated list.
func (c *Client) Routing(ctx context.Context, target string) (map[string]any, error) {
	fields, err := c.rdb.HGetAll(ctx, routingKey(target)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall failed: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("no routing record for target %s", target)
	}
	return parseRouting(fields), nil
}

// SetRouting replaces the routing record of target. Records that would not
// validate as routing options are rejected before anything is written.
func (c *Client) SetRouting(ctx context.Context, target string, fields map[string]string) error {
	if err := checkRouting(target, fields); err != nil {
		return err
	}
	key := routingKey(target)
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, formatRouting(fields))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set routing failed: %w", err)
	}
	return nil
}

// DeleteRouting removes the routing record of target.
func (c *Client) DeleteRouting(ctx context.Context, target string) error {
	return c.rdb.Del(ctx, routingKey(target)).Err()
}

func checkRouting(target string, fields map[string]string) error {
	if len(fields) == 0 {
		return fmt.Errorf("empty routing record for target %s", target)
	}
	if _, err := config.ValidateRouting(parseRouting(fields)); err != nil {
		return fmt.Errorf("invalid routing record for target %s: %w", target, err)
	}
	return nil
}

// parseRouting converts hash fields to raw routing options. Unknown fields
// are passed through so validation can reject them.
func parseRouting(fields map[string]string) map[string]any {
	raw := make(map[string]any, len(fields))
	for k, v := range fields {
		switch k {
		case fieldPeers:
			raw[k] = splitPeers(v)
		case fieldSticky:
			if b, err := strconv.ParseBool(v); err == nil {
				raw[k] = b
			} else {
				raw[k] = v
			}
		default:
			raw[k] = v
		}
	}
	return raw
}

func formatRouting(fields map[string]string) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func splitPeers(s string) []any {
	peers := []any{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			peers = append(peers, p)
		}
	}
	return peers
}
