// Command mcpi estimates pi by Monte Carlo sampling over a group of ranks.
//
//	mcpi -workers 4                          # goroutine ranks in one process
//	mpirun -np 4 mcpi -transport mpi         # built with -tags mpi
//	mcpi -transport nats -rank R -size 4     # one process per rank
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/nats-io/nats.go"

	"github.com/sbromberger/mcpi"
	"github.com/sbromberger/mcpi/local"
	"github.com/sbromberger/mcpi/mpi"
	"github.com/sbromberger/mcpi/natscomm"
	"github.com/sbromberger/mcpi/sampler"
)

type options struct {
	transport string
	workers   int
	natsURL   string
	run       string
	rank      int
	size      int
	progress  bool
	timing    bool
	verbose   bool
}

func main() {
	cfg := mcpi.DefaultConfig()
	var o options
	flag.Int64Var(&cfg.Samples, "n", mcpi.DefaultSamples, "total number of samples")
	flag.IntVar(&cfg.BatchSize, "batch", sampler.DefaultBatchSize, "samples drawn per batch")
	flag.Int64Var(&cfg.Seed, "seed", mcpi.DefaultSeed, "base random seed; rank r uses seed+r")
	flag.StringVar(&o.transport, "transport", "local", "parallel runtime: local, mpi or nats")
	flag.IntVar(&o.workers, "workers", runtime.NumCPU(), "number of ranks (local)")
	flag.StringVar(&o.natsURL, "nats", nats.DefaultURL, "NATS server URL (nats)")
	flag.StringVar(&o.run, "run", natscomm.DefaultRun, "run id shared by all ranks (nats)")
	flag.IntVar(&o.rank, "rank", 0, "rank of this process (nats)")
	flag.IntVar(&o.size, "size", 1, "number of ranks (nats)")
	flag.BoolVar(&o.progress, "progress", false, "show root sampling progress on stderr")
	flag.BoolVar(&o.timing, "timing", false, "log elapsed time at root")
	flag.BoolVar(&o.verbose, "v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(context.Background(), cfg, o, os.Stdout); err != nil {
		slog.Error("mcpi failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg mcpi.Config, o options, out io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	switch o.transport {
	case "local":
		return local.Launch(ctx, o.workers, func(ctx context.Context, c *local.Comm) error {
			return runRank(ctx, c, cfg, o, out, since(time.Now()))
		})
	case "mpi":
		mpi.Start()
		defer mpi.Stop()
		c, err := mpi.NewComm()
		if err != nil {
			return err
		}
		t0 := mpi.WorldTime()
		return runRank(ctx, c, cfg, o, out, func() float64 { return mpi.WorldTime() - t0 })
	case "nats":
		c, err := natscomm.Dial(natscomm.Options{URL: o.natsURL, Run: o.run, Rank: o.rank, Size: o.size})
		if err != nil {
			return err
		}
		defer c.Close()
		return runRank(ctx, c, cfg, o, out, since(time.Now()))
	default:
		return fmt.Errorf("%w: unknown transport %q", mcpi.ErrInvalidConfig, o.transport)
	}
}

func since(t0 time.Time) func() float64 {
	return func() float64 { return time.Since(t0).Seconds() }
}

// runRank is one rank's run; only the root draws a progress bar, logs
// timing and writes the result line.
func runRank(ctx context.Context, c mcpi.Communicator, cfg mcpi.Config, o options, out io.Writer, elapsed func() float64) error {
	isRoot := c.Rank() == mcpi.Root
	var bar *pb.ProgressBar
	if o.progress && isRoot {
		share, err := mcpi.Share(cfg.Samples, c.Size(), c.Rank())
		if err != nil {
			return err
		}
		bar = pb.New64(share).SetWriter(os.Stderr).Start()
		cfg.Progress = func(drawn, inside int64) { bar.SetCurrent(drawn) }
	}

	res, err := mcpi.Run(ctx, c, cfg)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return err
	}
	if !isRoot {
		return nil
	}
	if o.timing {
		slog.Info("elapsed", "seconds", fmt.Sprintf("%0.2f", elapsed()), "ranks", res.Size, "samples", res.Samples,
			"ci95", fmt.Sprintf("%.7f±%.7f", res.Pi, res.HalfWidth))
	}
	slog.Debug("estimate", "pi", res.Pi, "stderr", res.StdErr)
	return mcpi.Report(out, res)
}
