// Package tally records the count each rank contributes to a collective sum.
package tally

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrRank is returned for a contribution from a rank outside [0, size).
	ErrRank = errors.New("tally: rank out of range")
	// ErrDuplicate is returned when a rank contributes a second time.
	ErrDuplicate = errors.New("tally: duplicate contribution")
)

// Tally is a rank-keyed table protected by a mutex.
type Tally struct {
	mu   sync.RWMutex
	size int
	mp   map[int]uint64
}

// New creates a Tally expecting one contribution from each of size ranks.
func New(size int) *Tally {
	return &Tally{size: size, mp: make(map[int]uint64, size)}
}

func (t *Tally) String() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return fmt.Sprintf("%d/%d %v", len(t.mp), t.size, t.mp)
}

// Add records count for rank.
func (t *Tally) Add(rank int, count uint64) error {
	if rank < 0 || rank >= t.size {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrRank, rank, t.size)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, found := t.mp[rank]; found {
		return fmt.Errorf("%w: rank %d", ErrDuplicate, rank)
	}
	t.mp[rank] = count
	return nil
}

// Get retrieves the count for rank along with a boolean indicating
// whether the rank has contributed.
func (t *Tally) Get(rank int) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, found := t.mp[rank]
	return v, found
}

// Len returns the number of ranks that have contributed.
func (t *Tally) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.mp)
}

// Complete reports whether every rank has contributed.
func (t *Tally) Complete() bool {
	return t.Len() == t.size
}

// Missing returns the ranks that have not contributed, in order.
func (t *Tally) Missing() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []int
	for r := 0; r < t.size; r++ {
		if _, found := t.mp[r]; !found {
			out = append(out, r)
		}
	}
	return out
}

// Sum returns the sum of all contributions so far.
func (t *Tally) Sum() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var s uint64
	for _, v := range t.mp {
		s += v
	}
	return s
}
