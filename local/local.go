// Package local runs a group of ranks as goroutines of one process. The
// reduction travels over a channel to rank 0.
package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/sbromberger/mcpi/tally"
)

const root = 0

var (
	// ErrSize is returned when asked for a group with no ranks.
	ErrSize = errors.New("local: group size must be positive")
	// ErrReduced is returned when a rank joins the reduction twice.
	ErrReduced = errors.New("local: reduction already performed")
)

type contribution struct {
	rank  int
	count uint64
}

// Group is a fixed set of ranks sharing one reduction.
type Group struct {
	size  int
	inbox chan contribution
	done  chan struct{}
	once  sync.Once
	sum   uint64
	err   error
	comms []*Comm
}

// NewGroup creates a group of size ranks.
func NewGroup(size int) (*Group, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: %d", ErrSize, size)
	}
	g := &Group{
		size:  size,
		inbox: make(chan contribution, size),
		done:  make(chan struct{}),
	}
	g.comms = make([]*Comm, size)
	for r := range g.comms {
		g.comms[r] = &Comm{g: g, rank: r}
	}
	return g, nil
}

// Size returns the number of ranks in the group.
func (g *Group) Size() int {
	return g.size
}

// Comms returns one communicator per rank, indexed by rank.
func (g *Group) Comms() []*Comm {
	return g.comms
}

// finish publishes the outcome of the reduction and releases the waiters.
func (g *Group) finish(sum uint64, err error) {
	g.once.Do(func() {
		g.sum, g.err = sum, err
		close(g.done)
	})
}

// Comm is one rank's handle on a Group.
type Comm struct {
	g       *Group
	rank    int
	reduced atomic.Bool
}

func (c *Comm) Rank() int { return c.rank }
func (c *Comm) Size() int { return c.g.size }

// ReduceSum posts local to rank 0 and waits until rank 0 has the sum of
// all contributions. Rank 0 gets the sum; every other rank gets 0.
func (c *Comm) ReduceSum(ctx context.Context, local uint64) (uint64, error) {
	if !c.reduced.CompareAndSwap(false, true) {
		return 0, fmt.Errorf("%w: rank %d", ErrReduced, c.rank)
	}
	if c.rank != root {
		c.g.inbox <- contribution{rank: c.rank, count: local}
		select {
		case <-c.g.done:
			return 0, c.g.err
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return c.gather(ctx, local)
}

func (c *Comm) gather(ctx context.Context, local uint64) (uint64, error) {
	t := tally.New(c.g.size)
	if err := t.Add(root, local); err != nil {
		c.g.finish(0, err)
		return 0, err
	}
	for !t.Complete() {
		select {
		case m := <-c.g.inbox:
			if err := t.Add(m.rank, m.count); err != nil {
				c.g.finish(0, err)
				return 0, err
			}
			slog.Debug("contribution", "rank", m.rank, "count", m.count, "have", t.Len())
		case <-ctx.Done():
			err := fmt.Errorf("waiting for ranks %v: %w", t.Missing(), ctx.Err())
			c.g.finish(0, err)
			return 0, err
		}
	}
	sum := t.Sum()
	c.g.finish(sum, nil)
	return sum, nil
}

// Launch runs fn once per rank of a new group of size ranks, each on its
// own goroutine, and returns the first error. The context handed to fn is
// cancelled as soon as any rank fails, which unblocks ranks waiting in
// the reduction.
func Launch(ctx context.Context, size int, fn func(ctx context.Context, comm *Comm) error) error {
	g, err := NewGroup(size)
	if err != nil {
		return err
	}
	eg, ctx := errgroup.WithContext(ctx)
	for _, c := range g.Comms() {
		eg.Go(func() error {
			return fn(ctx, c)
		})
	}
	return eg.Wait()
}
