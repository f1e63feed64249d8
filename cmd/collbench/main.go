// Command collbench measures all-reduce latency and
// bandwidth across a group of participants.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/unixpickle/collbench/bench"
	"github.com/unixpickle/collbench/config"
)

func main() {
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logrus.WithError(err).Error("collbench failed")
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:   "collbench",
		Short: "All-reduce latency and bandwidth benchmark",
		Long: `Collbench sweeps a range of packet sizes, timing repeated all-reduce
operations across every participant, and prints latency, algorithmic
bandwidth and bus bandwidth for each size.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.AddCommand(newRunCmd(), newSimulateCmd(), newCompareCmd())
	return root
}

// benchFlagDefaults are the flag defaults shared by the
// benchmark commands.
type benchFlagDefaults struct {
	MaxPacketBytes int64
	MaxElements    int64
}

// addBenchFlags registers the flags that shape a sweep.
func addBenchFlags(fs *pflag.FlagSet, d benchFlagDefaults) {
	fs.String(config.FlagName(config.KeyPacketSizes), "",
		"comma-separated packet sizes in bytes (overrides min/max)")
	fs.Int64(config.FlagName(config.KeyMinPacketBytes), bench.DefaultMinPacketBytes,
		"smallest packet size in the geometric sweep")
	fs.Int64(config.FlagName(config.KeyMaxPacketBytes), d.MaxPacketBytes,
		"largest packet size in the geometric sweep")
	fs.Int64(config.FlagName(config.KeyMaxElements), d.MaxElements,
		"minimum payload capacity in elements")
	fs.Int(config.FlagName(config.KeyWarmup), bench.DefaultWarmup, "untimed rounds per packet size")
	fs.Int(config.FlagName(config.KeyIterations), bench.DefaultIterations, "timed rounds per packet size")
	fs.String(config.FlagName(config.KeyPushgateway), "", "Prometheus Pushgateway URL for results")
}

// newMetrics returns a registry and metrics for the
// coordinator when results should be pushed.
func newMetrics(s *config.Settings) (*prometheus.Registry, *bench.Metrics) {
	if s.Pushgateway == "" || !s.Participant.IsCoordinator() {
		return nil, nil
	}
	reg := prometheus.NewRegistry()
	return reg, bench.NewMetrics(reg)
}

// pushMetrics sends the gathered results to the
// Pushgateway under the given job name.
func pushMetrics(url, job string, reg *prometheus.Registry, worldSize int) error {
	if reg == nil {
		return nil
	}
	logrus.WithFields(logrus.Fields{"url": url, "job": job}).Info("pushing metrics")
	return push.New(url, job).
		Gatherer(reg).
		Grouping("world_size", strconv.Itoa(worldSize)).
		Push()
}
