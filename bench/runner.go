// Package bench measures the latency and bandwidth of
// all-reduce operations across a sweep of packet sizes.
package bench

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/unixpickle/collbench/payload"
)

// A Result is the measurement for one packet size.
type Result struct {
	RequestedBytes int64
	ActualBytes    int64
	Elements       int64

	// Latency is the average duration of one all-reduce.
	Latency time.Duration

	// Bandwidths are in GB/s, where a GB is 2^30 bytes.
	AlgBandwidth float64
	BusBandwidth float64
}

// LatencyMicros returns the latency in microseconds.
func (r Result) LatencyMicros() float64 {
	return float64(r.Latency) / float64(time.Microsecond)
}

// AlgBandwidth computes the payload size in GB divided by
// the average latency. It is 0 for a zero latency.
func AlgBandwidth(bytes int64, latency time.Duration) float64 {
	if latency <= 0 {
		return 0
	}
	return float64(bytes) / GiB / latency.Seconds()
}

// BusBandwidth scales an algorithmic bandwidth by
// 2*(n-1)/n, the traffic a ring all-reduce puts on each
// link relative to the payload size.
func BusBandwidth(algBandwidth float64, worldSize int) float64 {
	n := float64(worldSize)
	return algBandwidth * 2 * (n - 1) / n
}

// A Runner sweeps all-reduce operations over a plan of
// packet sizes on one participant.
//
// Every participant in the group runs its own Runner with
// the same Config and Plan.
type Runner struct {
	cfg     Config
	plan    Plan
	comm    Communicator
	clock   Clock
	log     logrus.FieldLogger
	metrics *Metrics

	buf payload.Buffer
}

// NewRunner creates a Runner and allocates its payload.
//
// The payload holds max(cfg.MaxElements, plan.MaxElements())
// elements and is reused for every packet size.
func NewRunner(cfg Config, plan Plan, comm Communicator, log logrus.FieldLogger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(plan) == 0 {
		return nil, &ConfigError{Field: "packet_sizes", Reason: "plan is empty"}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	var clock Clock
	if c, ok := comm.(Clocked); ok {
		clock = c.Clock()
	} else {
		clock = NewWallClock()
	}
	capacity := cfg.MaxElements
	if n := plan.MaxElements(); n > capacity {
		capacity = n
	}
	if capacity > payload.MaxElements {
		return nil, &CapacityError{
			PacketBytes:      plan[len(plan)-1],
			Elements:         capacity,
			CapacityElements: payload.MaxElements,
		}
	}
	log.WithFields(logrus.Fields{
		"elements": capacity,
		"bytes":    capacity * payload.ElementSize,
	}).Debug("allocating payload")
	return &Runner{
		cfg:   cfg,
		plan:  plan,
		comm:  comm,
		clock: clock,
		log:   log,
		buf:   payload.New(capacity),
	}, nil
}

// SetMetrics makes the coordinator record every result in
// m.
func (r *Runner) SetMetrics(m *Metrics) {
	r.metrics = m
}

// Capacity returns the payload size in elements.
func (r *Runner) Capacity() int64 {
	return int64(len(r.buf))
}

// Plan returns the packet sizes that Sweep visits.
func (r *Runner) Plan() Plan {
	return r.plan
}

// BenchmarkSize measures one packet size.
//
// It fails with a *CapacityError, without issuing any
// collective, if the packet does not fit in the payload.
func (r *Runner) BenchmarkSize(ctx context.Context, packetBytes int64) (*Result, error) {
	elements := payload.ElementsFor(packetBytes)
	if elements > r.Capacity() {
		return nil, &CapacityError{
			PacketBytes:      packetBytes,
			Elements:         elements,
			CapacityElements: r.Capacity(),
		}
	}
	res, err := r.benchmarkBuffer(ctx, r.buf[:elements])
	if err != nil {
		return nil, fmt.Errorf("benchmark %d bytes: %w", packetBytes, err)
	}
	res.RequestedBytes = packetBytes
	return res, nil
}

func (r *Runner) benchmarkBuffer(ctx context.Context, buf payload.Buffer) (*Result, error) {
	for i := 0; i < r.cfg.Warmup; i++ {
		if err := r.comm.AllReduce(ctx, buf); err != nil {
			return nil, fmt.Errorf("warm-up all-reduce: %w", err)
		}
	}
	if err := r.comm.Synchronize(ctx); err != nil {
		return nil, fmt.Errorf("synchronize after warm-up: %w", err)
	}

	// Nobody starts the clock until the slowest participant
	// has finished warming up.
	if err := r.comm.Barrier(ctx); err != nil {
		return nil, fmt.Errorf("barrier: %w", err)
	}

	start := r.clock.Now()
	for i := 0; i < r.cfg.Iterations; i++ {
		if err := r.comm.AllReduce(ctx, buf); err != nil {
			return nil, fmt.Errorf("timed all-reduce: %w", err)
		}
	}
	if err := r.comm.Synchronize(ctx); err != nil {
		return nil, fmt.Errorf("synchronize after timed rounds: %w", err)
	}
	total := r.clock.Now() - start

	latency := total / time.Duration(r.cfg.Iterations)
	alg := AlgBandwidth(buf.Bytes(), latency)
	return &Result{
		ActualBytes:  buf.Bytes(),
		Elements:     int64(len(buf)),
		Latency:      latency,
		AlgBandwidth: alg,
		BusBandwidth: BusBandwidth(alg, r.comm.WorldSize()),
	}, nil
}

// Sweep benchmarks every packet size in ascending order.
//
// All participants do the same communication, but only
// the coordinator (rank 0) returns results; the others
// return nil.
func (r *Runner) Sweep(ctx context.Context) ([]Result, error) {
	coordinator := r.comm.Rank() == 0
	var results []Result
	for _, size := range r.plan {
		res, err := r.BenchmarkSize(ctx, size)
		if err != nil {
			return nil, err
		}
		if !coordinator {
			continue
		}
		r.log.WithFields(logrus.Fields{
			"bytes":      res.ActualBytes,
			"latency_us": res.LatencyMicros(),
			"alg_bw":     res.AlgBandwidth,
			"bus_bw":     res.BusBandwidth,
		}).Debug("measured packet size")
		if r.metrics != nil {
			r.metrics.Observe(*res)
		}
		results = append(results, *res)
	}
	return results, nil
}

// Run sweeps the plan, closes the communicator, and then
// writes the report to w on the coordinator.
//
// The communicator is closed even if the sweep fails.
func (r *Runner) Run(ctx context.Context, w io.Writer) error {
	results, err := r.Sweep(ctx)
	if closeErr := r.comm.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("close communicator: %w", closeErr)
	}
	if err != nil {
		return err
	}
	if r.comm.Rank() != 0 {
		return nil
	}
	return WriteReport(w, ReportHeader{
		WorldSize:  r.comm.WorldSize(),
		Iterations: r.cfg.Iterations,
		Warmup:     r.cfg.Warmup,
	}, results)
}
