package cache

import (
	"fmt"
	"strings"
)

// Policy selects the local cache eviction strategy. It is resolved once at
// start-up.
type Policy int

const (
	// PolicyLFU evicts the least frequently used entries (ristretto).
	PolicyLFU Policy = iota
	// PolicyLRU evicts the least recently used entries.
	PolicyLRU
	// PolicyFIFO evicts the oldest entries first (bigcache).
	PolicyFIFO
	// PolicyAdaptive balances recency and frequency (2Q).
	PolicyAdaptive
)

var policyNames = map[Policy]string{
	PolicyLFU:      "lfu",
	PolicyLRU:      "lru",
	PolicyFIFO:     "fifo",
	PolicyAdaptive: "adaptive",
}

func (p Policy) String() string {
	if name, ok := policyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// Valid reports whether p is one of the declared policies.
func (p Policy) Valid() bool {
	_, ok := policyNames[p]
	return ok
}

// ParsePolicy maps a configuration string to a Policy. Matching is case
// insensitive; "2q" is accepted for the adaptive policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lfu":
		return PolicyLFU, nil
	case "lru":
		return PolicyLRU, nil
	case "fifo":
		return PolicyFIFO, nil
	case "adaptive", "2q":
		return PolicyAdaptive, nil
	default:
		return 0, fmt.Errorf("%w: unknown local cache policy %q", ErrInvalidConfig, s)
	}
}

// UnmarshalText lets Policy be used directly in env and flag parsing.
func (p *Policy) UnmarshalText(text []byte) error {
	v, err := ParsePolicy(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// NewLocalCacheFactory returns the factory for config.Policy.
func NewLocalCacheFactory(config LocalCacheConfig) (LocalCacheFactory, error) {
	switch config.Policy {
	case PolicyLFU:
		return NewLFUCacheFactory(config), nil
	case PolicyLRU:
		return NewLRUCacheFactory(config.MaxSize), nil
	case PolicyFIFO:
		return NewFIFOCacheFactory(config), nil
	case PolicyAdaptive:
		return NewAdaptiveCacheFactory(config.MaxSize), nil
	default:
		return nil, fmt.Errorf("%w: unknown local cache policy %s", ErrInvalidConfig, config.Policy)
	}
}
