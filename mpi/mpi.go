//go:build mpi

package mpi

import (
	"context"
	"fmt"
	"sync/atomic"

	gompi "github.com/sbromberger/gompi"
)

// Start initialises MPI. It must be called before NewComm.
func Start() {
	gompi.Start(true)
}

// Stop shuts MPI down.
func Stop() {
	gompi.Stop()
}

// WorldTime returns the MPI wall clock in seconds.
func WorldTime() float64 {
	return gompi.WorldTime()
}

// Comm is a rank's handle on MPI_COMM_WORLD.
type Comm struct {
	o       *gompi.Communicator
	reduced atomic.Bool
}

// NewComm returns a communicator over all ranks of the job.
func NewComm() (*Comm, error) {
	return &Comm{o: gompi.NewCommunicator(nil)}, nil
}

func (c *Comm) Rank() int { return c.o.Rank() }
func (c *Comm) Size() int { return c.o.Size() }

// ReduceSum sums local over all ranks into Root. MPI offers no way to
// abandon a collective, so ctx is only checked on entry; a failing rank
// aborts the job through the MPI error handler.
func (c *Comm) ReduceSum(ctx context.Context, local uint64) (uint64, error) {
	if !c.reduced.CompareAndSwap(false, true) {
		return 0, fmt.Errorf("%w: rank %d", ErrReduced, c.Rank())
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	dest := make([]uint64, 1)
	c.o.ReduceUint64s(dest, []uint64{local}, gompi.OpSum, Root)
	if c.Rank() != Root {
		return 0, nil
	}
	return dest[0], nil
}
