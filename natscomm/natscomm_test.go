package natscomm_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbromberger/mcpi"
	"github.com/sbromberger/mcpi/local"
	"github.com/sbromberger/mcpi/natscomm"
)

func startServer(t *testing.T) string {
	t.Helper()
	s := natsserver.RunRandClientPortServer()
	t.Cleanup(s.Shutdown)
	return s.ClientURL()
}

func dial(t *testing.T, url, run string, rank, size int) *natscomm.Comm {
	t.Helper()
	c, err := natscomm.Dial(natscomm.Options{
		URL:       url,
		Run:       run,
		Rank:      rank,
		Size:      size,
		RetryWait: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestReduceSum(t *testing.T) {
	url := startServer(t)
	const size = 4
	comms := make([]*natscomm.Comm, size)
	for r := range comms {
		comms[r] = dial(t, url, "sum", r, size)
	}

	got := make([]uint64, size)
	var wg sync.WaitGroup
	for _, c := range comms {
		wg.Add(1)
		go func(c *natscomm.Comm) {
			defer wg.Done()
			v, err := c.ReduceSum(context.Background(), uint64(100+c.Rank()))
			assert.NoError(t, err)
			got[c.Rank()] = v
		}(c)
	}
	wg.Wait()

	assert.EqualValues(t, 406, got[0])
	for r := 1; r < size; r++ {
		assert.Zero(t, got[r])
	}
	sent, recv := comms[0].MsgCount()
	assert.EqualValues(t, 1, sent, "root announces once")
	assert.EqualValues(t, size-1, recv)
}

func TestWorkerBeforeRoot(t *testing.T) {
	url := startServer(t)
	worker := dial(t, url, "late", 1, 2)

	errc := make(chan error, 1)
	go func() {
		_, err := worker.ReduceSum(context.Background(), 5)
		errc <- err
	}()
	time.Sleep(50 * time.Millisecond)

	root := dial(t, url, "late", 0, 2)
	v, err := root.ReduceSum(context.Background(), 7)
	require.NoError(t, err)
	assert.EqualValues(t, 12, v)
	require.NoError(t, <-errc)
}

func TestRootCancelled(t *testing.T) {
	url := startServer(t)
	root := dial(t, url, "missing", 0, 3)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := root.ReduceSum(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "[1 2]")

	_, err = root.ReduceSum(context.Background(), 1)
	assert.ErrorIs(t, err, natscomm.ErrReduced)
}

func TestRunMatchesLocal(t *testing.T) {
	url := startServer(t)
	const size = 3
	cfg := mcpi.Config{Samples: 300_001, BatchSize: 4096, Seed: 42}

	var viaNATS mcpi.Result
	var wg sync.WaitGroup
	for r := 0; r < size; r++ {
		c := dial(t, url, fmt.Sprintf("run-%d", size), r, size)
		wg.Add(1)
		go func(c *natscomm.Comm) {
			defer wg.Done()
			res, err := mcpi.Run(context.Background(), c, cfg)
			assert.NoError(t, err)
			if res.IsRoot() {
				viaNATS = res
			}
		}(c)
	}
	wg.Wait()

	var viaLocal mcpi.Result
	err := local.Launch(context.Background(), size, func(ctx context.Context, c *local.Comm) error {
		res, err := mcpi.Run(ctx, c, cfg)
		if res.IsRoot() {
			viaLocal = res
		}
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, viaLocal.Global, viaNATS.Global)
	assert.Equal(t, viaLocal.Pi, viaNATS.Pi)
}
