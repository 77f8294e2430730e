// Package mpi runs ranks as processes of an MPI job launched with mpirun.
//
// Build with -tags mpi to link against MPI through gompi. Without the tag
// the package compiles to a single-rank stand-in with the same API.
package mpi

import "errors"

// Root is the rank 0 node, which receives reductions.
const Root = 0

var (
	// ErrReduced is returned when a rank joins the reduction twice.
	ErrReduced = errors.New("mpi: reduction already performed")
	// ErrNotBuilt is returned by the stand-in when an MPI launcher started
	// several ranks; rebuild with -tags mpi.
	ErrNotBuilt = errors.New("mpi: launched with several ranks but built without -tags mpi")
)
