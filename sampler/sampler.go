// Package sampler counts uniform random points of the square [-1,1]×[-1,1]
// that land inside the unit circle.
package sampler

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
)

// DefaultBatchSize is the number of points held in memory at once.
const DefaultBatchSize = 1_000_000

var (
	// ErrNegativeSamples is returned when asked for fewer than zero samples.
	ErrNegativeSamples = errors.New("sampler: negative sample count")
	// ErrBatchSize is returned for a batch size below one.
	ErrBatchSize = errors.New("sampler: batch size must be positive")
)

// Point is one sample of the square.
type Point struct {
	X, Y float64
}

// Inside reports whether p lies in the closed unit disc.
func (p Point) Inside() bool {
	return math.Sqrt(p.X*p.X+p.Y*p.Y) <= 1.0
}

// Sampler draws points from a generator it owns. A Sampler is not safe
// for concurrent use; give every worker its own.
type Sampler struct {
	rnd *rand.Rand

	// Progress, if set, is called after every batch with the number of
	// points drawn so far and how many of those were inside.
	Progress func(drawn, inside int64)
}

// New returns a Sampler whose generator is seeded with seed.
func New(seed int64) *Sampler {
	return NewWithSource(rand.NewSource(uint64(seed)))
}

// NewWithSource returns a Sampler drawing from src.
func NewWithSource(src rand.Source) *Sampler {
	return &Sampler{rnd: rand.New(src)}
}

// fill overwrites batch with fresh points.
func (s *Sampler) fill(batch []Point) {
	for i := range batch {
		batch[i] = Point{
			X: 2*s.rnd.Float64() - 1,
			Y: 2*s.rnd.Float64() - 1,
		}
	}
}

func countInside(batch []Point) int64 {
	var n int64
	for _, p := range batch {
		if p.Inside() {
			n++
		}
	}
	return n
}

// Count draws n points in batches of at most batchSize and returns how
// many fell inside the unit circle. The last batch is exactly the
// remainder, so no more than n points are ever drawn.
func (s *Sampler) Count(n int64, batchSize int) (int64, error) {
	if n < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNegativeSamples, n)
	}
	if batchSize < 1 {
		return 0, fmt.Errorf("%w: %d", ErrBatchSize, batchSize)
	}
	if n == 0 {
		return 0, nil
	}

	buf := make([]Point, min(int64(batchSize), n))
	var drawn, inside int64
	for drawn < n {
		size := min(int64(len(buf)), n-drawn)
		batch := buf[:size]
		s.fill(batch)
		inside += countInside(batch)
		drawn += size
		if s.Progress != nil {
			s.Progress(drawn, inside)
		}
	}
	return inside, nil
}
