// Package mcpi estimates pi by Monte Carlo sampling spread over a group of
// ranks. Every rank samples its share of the points and a single
// collective sum brings the inside-circle counts to the root.
package mcpi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sbromberger/mcpi/sampler"
)

const (
	// Root is the rank that receives the reduction and reports.
	Root = 0

	DefaultSamples = 10_000_000
	DefaultSeed    = 42
)

// ErrInvalidConfig is returned before any sampling when a run cannot be
// carried out as configured.
var ErrInvalidConfig = errors.New("mcpi: invalid configuration")

// Communicator is a rank's view of the parallel runtime.
type Communicator interface {
	Rank() int
	Size() int
	// ReduceSum is a blocking collective: every rank calls it exactly
	// once and it returns once all ranks have contributed. The sum is
	// only meaningful at Root; other ranks receive 0.
	ReduceSum(ctx context.Context, local uint64) (uint64, error)
}

// Config holds the parameters of one run.
type Config struct {
	Samples   int64 // total over all ranks
	BatchSize int
	Seed      int64 // rank r seeds its generator with Seed + r

	// Progress, if set, is handed to this rank's sampler.
	Progress func(drawn, inside int64)
}

// DefaultConfig returns the configuration of a standard run.
func DefaultConfig() Config {
	return Config{
		Samples:   DefaultSamples,
		BatchSize: sampler.DefaultBatchSize,
		Seed:      DefaultSeed,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Samples < 0 {
		return fmt.Errorf("%w: negative sample count %d", ErrInvalidConfig, c.Samples)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("%w: batch size %d must be positive", ErrInvalidConfig, c.BatchSize)
	}
	return nil
}

// Result is the outcome of a run as seen by one rank. The global fields
// are only filled in at Root.
type Result struct {
	Rank   int
	Size   int
	Share  int64 // samples drawn by this rank
	Inside int64 // of those, inside the circle

	Samples   int64
	Global    uint64
	Pi        float64
	StdErr    float64
	HalfWidth float64 // 95% confidence half-width
}

// IsRoot reports whether the result belongs to Root.
func (r Result) IsRoot() bool {
	return r.Rank == Root
}

// Run carries out this rank's part of a run: sample the assigned share,
// join the reduction, and at Root compute the estimate.
func Run(ctx context.Context, comm Communicator, cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	rank, size := comm.Rank(), comm.Size()
	share, err := Share(cfg.Samples, size, rank)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	s := sampler.New(Seed(cfg.Seed, rank))
	s.Progress = cfg.Progress
	inside, err := s.Count(share, cfg.BatchSize)
	if err != nil {
		return Result{}, fmt.Errorf("rank %d: %w", rank, err)
	}
	slog.Debug("sampled", "rank", rank, "share", share, "inside", inside)

	res := Result{Rank: rank, Size: size, Share: share, Inside: inside, Samples: cfg.Samples}
	global, err := comm.ReduceSum(ctx, uint64(inside))
	if err != nil {
		return res, fmt.Errorf("rank %d: reduce: %w", rank, err)
	}
	if rank != Root {
		return res, nil
	}

	res.Global = global
	res.Pi = Estimate(global, cfg.Samples)
	res.StdErr, res.HalfWidth = Confidence(global, cfg.Samples)
	slog.Debug("reduced", "global", global, "pi", res.Pi, "stderr", res.StdErr)
	return res, nil
}
