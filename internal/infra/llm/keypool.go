package llm

import (
	"math/rand/v2"
	"sync/atomic"
)

// KeyStrategy selects how a KeyPool hands out keys.
type KeyStrategy string

const (
	KeyStrategyRandom     KeyStrategy = "random"
	KeyStrategyRoundRobin KeyStrategy = "round_robin"
)

// KeyPool spreads calls across several API keys of one provider.
// It is safe for concurrent use.
type KeyPool struct {
	keys     []string
	strategy KeyStrategy
	next     atomic.Uint64
	intn     func(n int) int
}

// NewKeyPool creates a pool from keys, skipping empty entries.
func NewKeyPool(keys []string, strategy KeyStrategy) *KeyPool {
	clean := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			clean = append(clean, k)
		}
	}
	if strategy != KeyStrategyRoundRobin {
		strategy = KeyStrategyRandom
	}
	return &KeyPool{
		keys:     clean,
		strategy: strategy,
		intn:     rand.IntN,
	}
}

// Len returns the number of usable keys.
func (p *KeyPool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// Next returns a key, or "" if the pool is empty.
func (p *KeyPool) Next() string {
	if p.Len() == 0 {
		return ""
	}
	if p.strategy == KeyStrategyRoundRobin {
		i := p.next.Add(1) - 1
		return p.keys[i%uint64(len(p.keys))]
	}
	return p.keys[p.intn(len(p.keys))]
}
