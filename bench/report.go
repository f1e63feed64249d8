package bench

import (
	"bufio"
	"fmt"
	"io"
)

// ReportHeader describes the run in the report preamble.
type ReportHeader struct {
	WorldSize  int
	Iterations int
	Warmup     int
}

// WriteReport writes a human-readable table of results,
// followed by the per-size log records that downstream
// scrapers parse.
func WriteReport(w io.Writer, header ReportHeader, results []Result) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintln(bw, "--- AllReduce Packet Size Sweep ---")
	fmt.Fprintf(bw, "World Size:       %d ranks\n", header.WorldSize)
	fmt.Fprintf(bw, "Iterations:       %d\n", header.Iterations)
	fmt.Fprintf(bw, "Warm-up:          %d\n", header.Warmup)
	fmt.Fprintln(bw, "---")

	fmt.Fprintln(bw, "| Packet Size | Elements | Avg Latency (us) | Alg BW (GB/s) | Bus BW (GB/s) |")
	fmt.Fprintln(bw, "|-------------|----------|------------------|---------------|---------------|")
	for _, r := range results {
		fmt.Fprintf(bw, "| %11s | %8d | %16.2f | %13.2f | %13.2f |\n",
			FormatBytes(r.ActualBytes), r.Elements, r.LatencyMicros(), r.AlgBandwidth, r.BusBandwidth)
	}
	fmt.Fprintln(bw)

	for _, r := range results {
		readable := FormatBytes(r.ActualBytes)

		// Older log parsers read these key/value blocks.
		fmt.Fprintf(bw, "Packet Size:      %s (%d bytes)\n", readable, r.ActualBytes)
		fmt.Fprintf(bw, "Avg Latency:      %.2f us\n", r.LatencyMicros())
		fmt.Fprintf(bw, "Alg Bandwidth:    %.2f GB/s\n", r.AlgBandwidth)
		fmt.Fprintf(bw, "Bus Bandwidth:    %.2f GB/s\n", r.BusBandwidth)
		fmt.Fprintln(bw, "---------------------------")

		fmt.Fprintln(bw, MetricLine(r))
	}

	return bw.Flush()
}

// MetricLine formats a result as a single
// METRIC|bytes|size|latency_us|alg_bw|bus_bw record.
func MetricLine(r Result) string {
	return fmt.Sprintf("METRIC|%d|%s|%.2f|%.2f|%.2f",
		r.ActualBytes, FormatBytes(r.ActualBytes), r.LatencyMicros(), r.AlgBandwidth, r.BusBandwidth)
}

// FormatBytes renders a byte count with a binary unit, e.g.
// "1.50 KB".
func FormatBytes(n int64) string {
	units := []string{"B", "KB", "MB", "GB"}
	value := float64(n)
	for i, unit := range units {
		if value < 1024 || i == len(units)-1 {
			return fmt.Sprintf("%.2f %s", value, unit)
		}
		value /= 1024
	}
	panic("unreachable")
}
