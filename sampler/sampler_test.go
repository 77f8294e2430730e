package sampler

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

// tolerance is five standard deviations of the inside count for n draws.
func tolerance(n int64) float64 {
	p := math.Pi / 4
	return 5 * math.Sqrt(float64(n)*p*(1-p))
}

func TestPointInside(t *testing.T) {
	assert.True(t, Point{0, 0}.Inside())
	assert.True(t, Point{1, 0}.Inside(), "boundary is inside")
	assert.True(t, Point{0, -1}.Inside(), "boundary is inside")
	assert.True(t, Point{0.5, 0.5}.Inside())
	assert.False(t, Point{1, 1}.Inside())
	assert.False(t, Point{-0.9, 0.9}.Inside())
}

func TestFillRange(t *testing.T) {
	s := NewWithSource(rand.NewSource(7))
	batch := make([]Point, 10000)
	s.fill(batch)
	for _, p := range batch {
		require.GreaterOrEqual(t, p.X, -1.0)
		require.Less(t, p.X, 1.0)
		require.GreaterOrEqual(t, p.Y, -1.0)
		require.Less(t, p.Y, 1.0)
	}
}

func TestCountZero(t *testing.T) {
	s := New(1)
	calls := 0
	s.Progress = func(drawn, inside int64) { calls++ }
	got, err := s.Count(0, 10)
	require.NoError(t, err)
	assert.Zero(t, got)
	assert.Zero(t, calls, "no batch drawn for n = 0")
}

func TestCountInvalid(t *testing.T) {
	s := New(1)
	_, err := s.Count(-1, 10)
	assert.ErrorIs(t, err, ErrNegativeSamples)
	_, err = s.Count(10, 0)
	assert.ErrorIs(t, err, ErrBatchSize)
	_, err = s.Count(10, -5)
	assert.ErrorIs(t, err, ErrBatchSize)
}

func TestCountBounds(t *testing.T) {
	cases := []struct {
		n     int64
		batch int
	}{
		{1, 1}, {1, 100}, {7, 3}, {100, 1}, {1000, 999}, {1000, 1000}, {1001, 1000}, {50000, 4096},
	}
	for i, c := range cases {
		got, err := New(int64(i)).Count(c.n, c.batch)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got, int64(0), "n=%d batch=%d", c.n, c.batch)
		assert.LessOrEqual(t, got, c.n, "n=%d batch=%d", c.n, c.batch)
	}
}

func TestCountBatching(t *testing.T) {
	const n, batch = 10_500, 1_000
	s := New(3)
	var sizes []int64
	var lastDrawn, lastInside int64
	s.Progress = func(drawn, inside int64) {
		sizes = append(sizes, drawn-lastDrawn)
		assert.GreaterOrEqual(t, inside, lastInside, "inside count must not decrease")
		assert.LessOrEqual(t, inside, drawn)
		lastDrawn, lastInside = drawn, inside
	}
	got, err := s.Count(n, batch)
	require.NoError(t, err)

	require.Len(t, sizes, 11)
	for _, sz := range sizes[:10] {
		assert.EqualValues(t, batch, sz)
	}
	assert.EqualValues(t, 500, sizes[10], "last batch is the remainder")
	assert.EqualValues(t, n, lastDrawn, "never over-draws")
	assert.Equal(t, lastInside, got)
}

func TestCountDeterministic(t *testing.T) {
	a, err := New(42).Count(100_000, 777)
	require.NoError(t, err)
	b, err := New(42).Count(100_000, 777)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// batch size bounds memory only; the stream of points is the same
	c, err := New(42).Count(100_000, 100_000)
	require.NoError(t, err)
	assert.Equal(t, a, c)

	d, err := New(43).Count(100_000, 777)
	require.NoError(t, err)
	assert.NotEqual(t, a, d)
}

func TestCountExpectation(t *testing.T) {
	const n = 1_000_000
	got, err := New(42).Count(n, 65536)
	require.NoError(t, err)
	assert.InDelta(t, n*math.Pi/4, float64(got), tolerance(n))
}

func TestSplitMatchesWhole(t *testing.T) {
	const parts, each = 10, 100_000
	var split int64
	for i := 0; i < parts; i++ {
		c, err := New(int64(100+i)).Count(each, 10_000)
		require.NoError(t, err)
		split += c
	}
	whole, err := New(99).Count(parts*each, 10_000)
	require.NoError(t, err)

	want := parts * each * math.Pi / 4
	assert.InDelta(t, want, float64(split), tolerance(parts*each))
	assert.InDelta(t, want, float64(whole), tolerance(parts*each))
	assert.InDelta(t, float64(whole), float64(split), 2*tolerance(parts*each))
}

func BenchmarkCount(b *testing.B) {
	s := New(1)
	for i := 0; i < b.N; i++ {
		if _, err := s.Count(1_000_000, DefaultBatchSize); err != nil {
			b.Fatal(err)
		}
	}
}
