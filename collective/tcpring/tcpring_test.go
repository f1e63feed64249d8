package tcpring

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/collbench/bench"
	"github.com/unixpickle/collbench/payload"
)

func freeAddr(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	return log
}

// dialGroup connects n participants over loopback.
func dialGroup(t *testing.T, n int) []*Comm {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	master := freeAddr(t)

	comms := make([]*Comm, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for rank := 0; rank < n; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			comms[rank], errs[rank] = Dial(ctx, Options{
				Rank:          rank,
				WorldSize:     n,
				MasterAddr:    master,
				ListenAddr:    "127.0.0.1:0",
				AdvertiseHost: "127.0.0.1",
				Logger:        quietLogger(),
			})
		}(rank)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	t.Cleanup(func() {
		for _, c := range comms {
			c.Close()
		}
	})
	return comms
}

// parallel runs fn on every participant and waits.
func parallel(t *testing.T, comms []*Comm, fn func(c *Comm) error) {
	errs := make([]error, len(comms))
	var wg sync.WaitGroup
	for i, c := range comms {
		wg.Add(1)
		go func(i int, c *Comm) {
			defer wg.Done()
			errs[i] = fn(c)
		}(i, c)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
}

func TestAllReduceLoopback(t *testing.T) {
	comms := dialGroup(t, 3)
	for _, c := range comms[1:] {
		require.Equal(t, comms[0].Session(), c.Session())
	}
	require.NotEqual(t, uuid.Nil, comms[0].Session())

	for _, size := range []int{1, 2, 3, 7, 1000} {
		bufs := make([]payload.Buffer, len(comms))
		for i := range bufs {
			bufs[i] = payload.New(int64(size))
			for j := range bufs[i] {
				bufs[i][j] = payload.FromFloat32(float32(i + 1 + j%4))
			}
		}
		parallel(t, comms, func(c *Comm) error {
			return c.AllReduce(context.Background(), bufs[c.Rank()])
		})
		for i, buf := range bufs {
			for j, x := range buf.Float32s() {
				require.Equal(t, float32(6+3*(j%4)), x, "size %d rank %d index %d", size, i, j)
			}
		}
	}
}

func TestBarrierLoopback(t *testing.T) {
	comms := dialGroup(t, 4)
	var mu sync.Mutex
	arrived := 0
	parallel(t, comms, func(c *Comm) error {
		for i := 0; i < 3; i++ {
			if c.Rank() == 2 {
				time.Sleep(10 * time.Millisecond)
			}
			mu.Lock()
			arrived++
			mu.Unlock()
			if err := c.Barrier(context.Background()); err != nil {
				return err
			}
			mu.Lock()
			count := arrived
			mu.Unlock()
			if count < (i+1)*len(comms) {
				t.Errorf("rank %d left barrier %d early", c.Rank(), i)
			}
		}
		return nil
	})
}

func TestRunnerOverRing(t *testing.T) {
	comms := dialGroup(t, 2)
	cfg := bench.DefaultConfig()
	cfg.MaxElements = 0
	cfg.Warmup = 1
	cfg.Iterations = 2
	plan := bench.Plan{4, 1024}

	var outputs [2]bytes.Buffer
	parallel(t, comms, func(c *Comm) error {
		runner, err := bench.NewRunner(cfg, plan, c, quietLogger())
		if err != nil {
			return err
		}
		return runner.Run(context.Background(), &outputs[c.Rank()])
	})
	require.Contains(t, outputs[0].String(), "METRIC|1024|1.00 KB|")
	require.Empty(t, outputs[1].String())

	require.ErrorIs(t, comms[0].Close(), ErrClosed)
}

func TestSingleParticipant(t *testing.T) {
	c, err := Dial(context.Background(), Options{Rank: 0, WorldSize: 1})
	require.NoError(t, err)
	buf := payload.New(5)
	buf.Fill(3)
	require.NoError(t, c.AllReduce(context.Background(), buf))
	require.NoError(t, c.Barrier(context.Background()))
	for _, x := range buf.Float32s() {
		require.Equal(t, float32(3), x)
	}
	require.NoError(t, c.Close())
	require.ErrorIs(t, c.AllReduce(context.Background(), buf), ErrClosed)
}

func TestDialBadRank(t *testing.T) {
	_, err := Dial(context.Background(), Options{Rank: 3, WorldSize: 2})
	require.Error(t, err)
}

func TestDialTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err := Dial(ctx, Options{
		Rank:          1,
		WorldSize:     2,
		MasterAddr:    freeAddr(t),
		ListenAddr:    "127.0.0.1:0",
		AdvertiseHost: "127.0.0.1",
		Logger:        quietLogger(),
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAllReduceCanceled(t *testing.T) {
	comms := dialGroup(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	// Rank 1 never joins, so rank 0 blocks until canceled.
	err := comms[0].AllReduce(ctx, payload.New(16))
	require.ErrorIs(t, err, context.Canceled)
}

func TestLinkHeader(t *testing.T) {
	var buf bytes.Buffer
	session := uuid.New()
	require.NoError(t, writeLinkHeader(&buf, session, 7))
	require.Equal(t, linkHeaderSize, buf.Len())
	gotSession, rank, err := readLinkHeader(&buf)
	require.NoError(t, err)
	require.Equal(t, session, gotSession)
	require.Equal(t, 7, rank)
}
