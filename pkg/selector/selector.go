// Package selector provides pluggable strategies for choosing API keys and models.
package selector

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"
)

const (
	StrategyRoundRobin     = "round-robin"
	StrategyWeightedRandom = "weighted-random"
)

// Selector picks the next item for a call.
type Selector[T any] interface {
	Next() T
	Len() int
}

// New builds a selector for strategy. Weights are only read by weighted-random;
// a nil rng uses a time-seeded source. The selector takes ownership of rng.
func New[T any](strategy string, items []T, weights []float64, rng *rand.Rand) (Selector[T], error) {
	if len(items) == 0 {
		return nil, errors.New("selector needs at least one item")
	}
	switch strategy {
	case "", StrategyRoundRobin:
		return NewRoundRobin(items), nil
	case StrategyWeightedRandom:
		return NewWeightedRandom(items, weights, rng)
	default:
		return nil, fmt.Errorf("unknown selection strategy %q", strategy)
	}
}

// RoundRobin cycles through items in order.
type RoundRobin[T any] struct {
	items []T
	next  atomic.Uint64
}

func NewRoundRobin[T any](items []T) *RoundRobin[T] {
	return &RoundRobin[T]{items: append([]T(nil), items...)}
}

func (r *RoundRobin[T]) Next() T {
	n := r.next.Add(1) - 1
	return r.items[n%uint64(len(r.items))]
}

func (r *RoundRobin[T]) Len() int { return len(r.items) }

// WeightedRandom draws items with probability proportional to their weight.
type WeightedRandom[T any] struct {
	items      []T
	cumulative []float64
	mu         sync.Mutex
	rng        *rand.Rand
}

// NewWeightedRandom requires one non-negative weight per item with a positive sum.
// Missing weights default to 1.
func NewWeightedRandom[T any](items []T, weights []float64, rng *rand.Rand) (*WeightedRandom[T], error) {
	if len(weights) > len(items) {
		return nil, fmt.Errorf("got %d weights for %d items", len(weights), len(items))
	}
	cumulative := make([]float64, len(items))
	total := 0.0
	for i := range items {
		w := 1.0
		if i < len(weights) {
			w = weights[i]
		}
		if w < 0 {
			return nil, fmt.Errorf("weight %d is negative", i)
		}
		total += w
		cumulative[i] = total
	}
	if total <= 0 {
		return nil, errors.New("weights must sum to a positive value")
	}
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>17))
	}
	return &WeightedRandom[T]{
		items:      append([]T(nil), items...),
		cumulative: cumulative,
		rng:        rng,
	}, nil
}

func (w *WeightedRandom[T]) Next() T {
	w.mu.Lock()
	x := w.rng.Float64() * w.cumulative[len(w.cumulative)-1]
	w.mu.Unlock()
	for i, c := range w.cumulative {
		if x < c {
			return w.items[i]
		}
	}
	return w.items[len(w.items)-1]
}

func (w *WeightedRandom[T]) Len() int { return len(w.items) }
