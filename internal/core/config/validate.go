package config

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"time"

	"github.com/vietddude/peercall/internal/core/rpcerr"
)

// RawOptions is the unvalidated form of a target configuration, as decoded
// from a configuration file or assembled by code generation.
type RawOptions map[string]any

// Recognised keys.
const (
	KeyTarget        = "target"
	KeyTimeout       = "timeout"
	KeyRetry         = "retry"
	KeyErrorHandling = "error_handling"
	KeyStrategy      = "strategy"
	KeySticky        = "sticky"
	KeyRetryPeer     = "retry_peer"
	KeyPeers         = "peers"
	KeyResolver      = "resolver"
	KeySelectorID    = "selector_id"
	KeyDynamic       = "dynamic"
	KeyOperations    = "operations"

	KeyName    = "name"
	KeyArity   = "arity"
	KeyNewName = "new_name"
	KeyPrivate = "private"
)

// Infinite is the raw timeout value for calls without a deadline.
const Infinite = "infinite"

var (
	topLevelKeys = keySet(KeyTarget, KeyTimeout, KeyRetry, KeyErrorHandling, KeyStrategy,
		KeySticky, KeyRetryPeer, KeyPeers, KeyResolver, KeySelectorID, KeyDynamic, KeyOperations)
	routingKeys   = keySet(KeyStrategy, KeySticky, KeyPeers, KeyResolver)
	operationKeys = keySet(KeyName, KeyArity, KeyNewName, KeyRetry, KeyTimeout,
		KeyErrorHandling, KeyPrivate)

	identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.:/-]*$`)
)

func keySet(keys ...string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}

// Validate checks raw and builds a Configuration from it. Any invalid field
// fails with a config error naming the field and the value received.
func Validate(raw RawOptions) (Configuration, error) {
	if err := checkKeys("", raw, topLevelKeys); err != nil {
		return Configuration{}, err
	}

	cfg := Configuration{
		Timeout:   DefaultTimeout,
		RetryPeer: RetryReselect,
	}

	target, ok := raw[KeyTarget]
	if !ok {
		return Configuration{}, rpcerr.Configf(KeyTarget, nil, "target is required")
	}
	s, err := identifier(KeyTarget, target)
	if err != nil {
		return Configuration{}, err
	}
	cfg.Target = s

	if v, ok := raw[KeyTimeout]; ok {
		if cfg.Timeout, err = parseTimeout(KeyTimeout, v); err != nil {
			return Configuration{}, err
		}
	}
	if v, ok := raw[KeyRetry]; ok {
		if cfg.RetryBudget, err = parseRetry(KeyRetry, v); err != nil {
			return Configuration{}, err
		}
	}
	if v, ok := raw[KeyErrorHandling]; ok {
		if cfg.ErrorHandling, err = parseBool(KeyErrorHandling, v); err != nil {
			return Configuration{}, err
		}
	}
	if v, ok := raw[KeyRetryPeer]; ok {
		s, _ := v.(string)
		switch RetryPeer(s) {
		case RetryReselect, RetrySame:
			cfg.RetryPeer = RetryPeer(s)
		default:
			return Configuration{}, rpcerr.Configf(KeyRetryPeer, v,
				"retry_peer must be %q or %q", RetryReselect, RetrySame)
		}
	}
	if v, ok := raw[KeySelectorID]; ok {
		if cfg.SelectorID, err = identifier(KeySelectorID, v); err != nil {
			return Configuration{}, err
		}
	}
	if v, ok := raw[KeyDynamic]; ok {
		if cfg.Dynamic, err = parseBool(KeyDynamic, v); err != nil {
			return Configuration{}, err
		}
	}

	if cfg.Routing, err = parseRouting(raw, !cfg.Dynamic); err != nil {
		return Configuration{}, err
	}

	if v, ok := raw[KeyOperations]; ok {
		if cfg.Operations, err = parseOperations(v); err != nil {
			return Configuration{}, err
		}
	}

	if cfg.RetryBudget > 0 {
		cfg.ErrorHandling = true
	}
	return cfg, nil
}

// ValidateRouting checks a routing record, such as one read from a dynamic
// routing store. A peer source is required.
func ValidateRouting(raw RawOptions) (Routing, error) {
	if err := checkKeys("", raw, routingKeys); err != nil {
		return Routing{}, err
	}
	return parseRouting(raw, true)
}

func parseRouting(raw RawOptions, requirePeers bool) (Routing, error) {
	r := Routing{Strategy: DefaultStrategy}

	if v, ok := raw[KeyStrategy]; ok {
		s, _ := v.(string)
		switch Strategy(s) {
		case StrategyRandom, StrategyRoundRobin, StrategyHash:
			r.Strategy = Strategy(s)
		case StrategySticky:
			r.Strategy = StrategyRandom
			r.Sticky = true
		default:
			return Routing{}, rpcerr.Configf(KeyStrategy, v,
				"strategy must be one of random, round_robin, hash, sticky")
		}
	}
	if v, ok := raw[KeySticky]; ok {
		b, err := parseBool(KeySticky, v)
		if err != nil {
			return Routing{}, err
		}
		r.Sticky = r.Sticky || b
	}

	peers, hasPeers := raw[KeyPeers]
	resolver, hasResolver := raw[KeyResolver]
	switch {
	case hasPeers && hasResolver:
		return Routing{}, rpcerr.Configf(KeyResolver, resolver,
			"peers and resolver are mutually exclusive")
	case hasPeers:
		list, err := parsePeers(peers)
		if err != nil {
			return Routing{}, err
		}
		r.Peers.Static = list
	case hasResolver:
		name, err := identifier(KeyResolver, resolver)
		if err != nil {
			return Routing{}, err
		}
		r.Peers.Resolver = name
	case requirePeers:
		return Routing{}, rpcerr.Configf(KeyPeers, nil, "a peer list or resolver is required")
	}
	return r, nil
}

func parsePeers(v any) ([]string, error) {
	items, ok := asList(v)
	if !ok {
		return nil, rpcerr.Configf(KeyPeers, v, "peers must be a list of peer identifiers")
	}
	if len(items) == 0 {
		return nil, rpcerr.Configf(KeyPeers, v, "peers must not be empty")
	}
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for i, it := range items {
		s, ok := it.(string)
		if !ok || s == "" {
			return nil, rpcerr.Configf(fmt.Sprintf("%s[%d]", KeyPeers, i), it,
				"peer must be a non-empty string")
		}
		if seen[s] {
			return nil, rpcerr.Configf(fmt.Sprintf("%s[%d]", KeyPeers, i), it, "duplicate peer")
		}
		seen[s] = true
		out = append(out, s)
	}
	return out, nil
}

func parseOperations(v any) ([]OperationSpec, error) {
	items, ok := asList(v)
	if !ok {
		return nil, rpcerr.Configf(KeyOperations, v, "operations must be a list")
	}
	type key struct {
		name  string
		arity int
	}
	seen := make(map[key]bool, len(items))
	out := make([]OperationSpec, 0, len(items))
	for i, it := range items {
		prefix := fmt.Sprintf("%s[%d]", KeyOperations, i)
		m, ok := asMap(it)
		if !ok {
			return nil, rpcerr.Configf(prefix, it, "operation must be a mapping")
		}
		if err := checkKeys(prefix+".", m, operationKeys); err != nil {
			return nil, err
		}
		op, err := parseOperation(prefix, m)
		if err != nil {
			return nil, err
		}
		k := key{op.Name, op.Arity}
		if seen[k] {
			return nil, rpcerr.Configf(prefix, fmt.Sprintf("%s/%d", op.Name, op.Arity),
				"duplicate operation")
		}
		seen[k] = true
		out = append(out, op)
	}
	return out, nil
}

func parseOperation(prefix string, m map[string]any) (OperationSpec, error) {
	var (
		op  OperationSpec
		err error
	)
	name, ok := m[KeyName]
	if !ok {
		return op, rpcerr.Configf(prefix+"."+KeyName, nil, "operation name is required")
	}
	if op.Name, err = identifier(prefix+"."+KeyName, name); err != nil {
		return op, err
	}
	arity, ok := m[KeyArity]
	if !ok {
		return op, rpcerr.Configf(prefix+"."+KeyArity, nil, "operation arity is required")
	}
	n, ok := asInt(arity)
	if !ok || n < 0 {
		return op, rpcerr.Configf(prefix+"."+KeyArity, arity, "arity must be a non-negative integer")
	}
	op.Arity = n

	if v, ok := m[KeyNewName]; ok {
		if op.NewName, err = identifier(prefix+"."+KeyNewName, v); err != nil {
			return op, err
		}
	}
	if v, ok := m[KeyPrivate]; ok {
		if op.Private, err = parseBool(prefix+"."+KeyPrivate, v); err != nil {
			return op, err
		}
	}
	if v, ok := m[KeyRetry]; ok {
		r, err := parseRetry(prefix+"."+KeyRetry, v)
		if err != nil {
			return op, err
		}
		op.Overrides.Retry = &r
	}
	if v, ok := m[KeyTimeout]; ok {
		t, err := parseTimeout(prefix+"."+KeyTimeout, v)
		if err != nil {
			return op, err
		}
		op.Overrides.Timeout = &t
	}
	if v, ok := m[KeyErrorHandling]; ok {
		b, err := parseBool(prefix+"."+KeyErrorHandling, v)
		if err != nil {
			return op, err
		}
		op.Overrides.ErrorHandling = &b
	}
	return op, nil
}

func checkKeys(prefix string, m map[string]any, allowed map[string]bool) error {
	var unknown []string
	for k := range m {
		if !allowed[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return rpcerr.Configf(prefix+unknown[0], m[unknown[0]], "unrecognised option %q", unknown[0])
}

func identifier(field string, v any) (string, error) {
	s, ok := v.(string)
	if !ok || !identRE.MatchString(s) {
		return "", rpcerr.Configf(field, v, "%s must be a non-empty identifier", field)
	}
	return s, nil
}

// maxTimeoutMillis is the largest millisecond timeout a time.Duration holds.
const maxTimeoutMillis = math.MaxInt64 / int64(time.Millisecond)

func parseTimeout(field string, v any) (time.Duration, error) {
	if s, ok := v.(string); ok && s == Infinite {
		return NoTimeout, nil
	}
	if d, ok := v.(time.Duration); ok && d > 0 {
		return d, nil
	}
	ms, ok := asInt(v)
	if !ok || ms <= 0 {
		return 0, rpcerr.Configf(field, v,
			"timeout must be a positive number of milliseconds or %q", Infinite)
	}
	if int64(ms) > maxTimeoutMillis {
		return 0, rpcerr.Configf(field, v,
			"timeout must be at most %d milliseconds", maxTimeoutMillis)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func parseRetry(field string, v any) (int, error) {
	n, ok := asInt(v)
	if !ok || n < 0 {
		return 0, rpcerr.Configf(field, v, "retry must be a non-negative integer")
	}
	return n, nil
}

func parseBool(field string, v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, rpcerr.Configf(field, v, "%s must be a boolean", field)
	}
	return b, nil
}

// asInt accepts the integer representations produced by YAML and JSON
// decoders. Floats must be integral.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), n <= math.MaxInt
	case uint32:
		return int(n), true
	case uint64:
		return int(n), n <= math.MaxInt
	case float64:
		if n != math.Trunc(n) || n > math.MaxInt || n < math.MinInt {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case RawOptions:
		return m, true
	default:
		return nil, false
	}
}
