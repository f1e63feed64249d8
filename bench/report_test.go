package bench_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/collbench/bench"
)

func TestFormatBytes(t *testing.T) {
	cases := map[int64]string{
		0:                "0.00 B",
		4:                "4.00 B",
		1023:             "1023.00 B",
		1536:             "1.50 KB",
		1 << 20:          "1.00 MB",
		1073741824:       "1.00 GB",
		16 * bench.GiB:   "16.00 GB",
		4096 * bench.GiB: "4096.00 GB",
	}
	for n, expected := range cases {
		require.Equal(t, expected, bench.FormatBytes(n), "FormatBytes(%d)", n)
	}
}

func TestWriteReport(t *testing.T) {
	results := []bench.Result{
		{
			RequestedBytes: 3,
			ActualBytes:    4,
			Elements:       2,
			Latency:        12345 * time.Nanosecond,
			AlgBandwidth:   0.0003,
			BusBandwidth:   0.00045,
		},
		{
			RequestedBytes: bench.GiB,
			ActualBytes:    bench.GiB,
			Elements:       bench.GiB / 2,
			Latency:        50 * time.Millisecond,
			AlgBandwidth:   20,
			BusBandwidth:   30,
		},
	}
	var out bytes.Buffer
	require.NoError(t, bench.WriteReport(&out, bench.ReportHeader{WorldSize: 4, Iterations: 50, Warmup: 10}, results))

	lines := strings.Split(out.String(), "\n")
	require.Equal(t, "--- AllReduce Packet Size Sweep ---", lines[0])
	require.Contains(t, lines, "|      4.00 B |        2 |            12.35 |          0.00 |          0.00 |")
	require.Contains(t, lines, "|     1.00 GB | 536870912 |         50000.00 |         20.00 |         30.00 |")
	require.Contains(t, lines, "Packet Size:      1.00 GB (1073741824 bytes)")
	require.Contains(t, lines, "METRIC|4|4.00 B|12.35|0.00|0.00")
	require.Contains(t, lines, "METRIC|1073741824|1.00 GB|50000.00|20.00|30.00")

	var metrics int
	for _, line := range lines {
		if strings.HasPrefix(line, "METRIC|") {
			require.Len(t, strings.Split(line, "|"), 6)
			metrics++
		}
	}
	require.Equal(t, len(results), metrics)
}

func TestMetricsObserve(t *testing.T) {
	reg := newRegistry()
	m := bench.NewMetrics(reg)
	m.Observe(bench.Result{RequestedBytes: 1024, ActualBytes: 1024, Latency: 2 * time.Millisecond, AlgBandwidth: 3, BusBandwidth: 4.5})
	require.InDelta(t, 0.002, testutil.ToFloat64(m.Latency.WithLabelValues("1024")), 1e-12)
	require.Equal(t, 3.0, testutil.ToFloat64(m.AlgBandwidth.WithLabelValues("1024")))
	require.Equal(t, 4.5, testutil.ToFloat64(m.BusBandwidth.WithLabelValues("1024")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Packets))
}

func TestMetricsKeepRoundedSizesApart(t *testing.T) {
	reg := newRegistry()
	m := bench.NewMetrics(reg)
	m.Observe(bench.Result{RequestedBytes: 3, ActualBytes: 4, Elements: 2, AlgBandwidth: 1})
	m.Observe(bench.Result{RequestedBytes: 4, ActualBytes: 4, Elements: 2, AlgBandwidth: 2})
	require.Equal(t, 2, countSeries(t, reg, "collbench_allreduce_alg_bandwidth_gibps"))
	require.Equal(t, 1.0, testutil.ToFloat64(m.AlgBandwidth.WithLabelValues("3")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.AlgBandwidth.WithLabelValues("4")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.Packets))
}

func newRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

func countSeries(t *testing.T, reg *prometheus.Registry, name string) int {
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == name {
			return len(family.GetMetric())
		}
	}
	return 0
}
