package bench

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports sweep results as Prometheus gauges,
// labeled by requested packet size in bytes.
type Metrics struct {
	Latency      *prometheus.GaugeVec
	AlgBandwidth *prometheus.GaugeVec
	BusBandwidth *prometheus.GaugeVec
	Packets      prometheus.Counter
}

// NewMetrics creates the gauges and registers them with
// reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Latency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "collbench",
			Name:      "allreduce_latency_seconds",
			Help:      "Average latency of one all-reduce.",
		}, []string{"bytes"}),
		AlgBandwidth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "collbench",
			Name:      "allreduce_alg_bandwidth_gibps",
			Help:      "Algorithmic bandwidth in GiB/s.",
		}, []string{"bytes"}),
		BusBandwidth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "collbench",
			Name:      "allreduce_bus_bandwidth_gibps",
			Help:      "Bus bandwidth in GiB/s.",
		}, []string{"bytes"}),
		Packets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "collbench",
			Name:      "packet_sizes_measured_total",
			Help:      "Number of packet sizes measured.",
		}),
	}
	reg.MustRegister(m.Latency, m.AlgBandwidth, m.BusBandwidth, m.Packets)
	return m
}

// Observe records one result under its requested size, so
// sizes that round to the same element count stay apart.
func (m *Metrics) Observe(r Result) {
	label := strconv.FormatInt(r.RequestedBytes, 10)
	m.Latency.WithLabelValues(label).Set(r.Latency.Seconds())
	m.AlgBandwidth.WithLabelValues(label).Set(r.AlgBandwidth)
	m.BusBandwidth.WithLabelValues(label).Set(r.BusBandwidth)
	m.Packets.Inc()
}
