package mcpi

import "fmt"

// Share returns the number of samples rank draws out of n. Every rank gets
// n/size, and the last rank also takes the remainder, so the shares sum
// to n exactly.
func Share(n int64, size, rank int) (int64, error) {
	if n < 0 {
		return 0, fmt.Errorf("%w: negative sample count %d", ErrInvalidConfig, n)
	}
	if size < 1 {
		return 0, fmt.Errorf("%w: worker count %d", ErrInvalidConfig, size)
	}
	if rank < 0 || rank >= size {
		return 0, fmt.Errorf("%w: rank %d not in [0, %d)", ErrInvalidConfig, rank, size)
	}
	share := n / int64(size)
	if rank == size-1 {
		share += n % int64(size)
	}
	return share, nil
}

// Seed returns the generator seed for rank.
func Seed(base int64, rank int) int64 {
	return base + int64(rank)
}
