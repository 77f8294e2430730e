//go:build !mpi

package mpi

// this file provides a single-rank stand-in, built by default, so the
// program builds and runs without an MPI installation.

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"
	"time"
)

// launcherSizeVars are set by mpirun/mpiexec (Open MPI, MPICH/PMI, PMIx,
// MVAPICH) to the number of ranks in the job.
var launcherSizeVars = []string{"OMPI_COMM_WORLD_SIZE", "PMI_SIZE", "PMIX_SIZE", "MV2_COMM_WORLD_SIZE"}

var started = time.Now()

// Start initialises MPI.
func Start() {
}

// Stop shuts MPI down.
func Stop() {
}

// WorldTime returns seconds since the process started.
func WorldTime() float64 {
	return time.Since(started).Seconds()
}

// Comm is a communicator with one rank.
type Comm struct {
	reduced atomic.Bool
}

// NewComm returns the single-rank communicator. It fails when launched
// by mpirun with more than one rank, where every process would otherwise
// report as rank 0 over all the samples.
func NewComm() (*Comm, error) {
	for _, v := range launcherSizeVars {
		if n, err := strconv.Atoi(os.Getenv(v)); err == nil && n > 1 {
			return nil, fmt.Errorf("%w: %s=%d", ErrNotBuilt, v, n)
		}
	}
	return &Comm{}, nil
}

func (c *Comm) Rank() int { return Root }
func (c *Comm) Size() int { return 1 }

// ReduceSum returns local: with one rank the sum is its own contribution.
func (c *Comm) ReduceSum(ctx context.Context, local uint64) (uint64, error) {
	if !c.reduced.CompareAndSwap(false, true) {
		return 0, fmt.Errorf("%w: rank %d", ErrReduced, Root)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return local, nil
}
