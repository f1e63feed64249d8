package main

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/unixpickle/collbench/bench"
	"github.com/unixpickle/collbench/collcomm"
	"github.com/unixpickle/collbench/collcomm/allreduce"
	"github.com/unixpickle/collbench/collective/simnet"
	"github.com/unixpickle/collbench/config"
)

// Simulated sweeps stop at 1 MiB and only allocate what
// the plan needs.
const (
	simDefaultWorldSize      = 4
	simDefaultMaxPacketBytes = 1 << 20
	simDefaultMaxElements    = 0
)

func newSimulateCmd() *cobra.Command {
	var (
		latency   time.Duration
		rate      float64
		intraRate float64
		algorithm string
		skipMath  bool
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Benchmark a simulated network with every participant in-process",
		Long: `Simulate runs the benchmark against a virtual-time network fabric.
Every participant runs in this process, and latencies are measured on the
simulation clock rather than the wall clock.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := config.NewViper()
			v.SetDefault(config.KeyWorldSize, simDefaultWorldSize)
			v.SetDefault(config.KeyMaxPacketBytes, simDefaultMaxPacketBytes)
			v.SetDefault(config.KeyMaxElements, simDefaultMaxElements)
			if err := config.BindFlags(v, cmd.Flags()); err != nil {
				return err
			}
			settings, err := config.Load(v)
			if err != nil {
				return err
			}
			algo, err := allreduce.ByName(algorithm)
			if err != nil {
				return err
			}
			fabric := &simnet.Fabric{
				WorldSize:  settings.Participant.WorldSize,
				LocalWorld: settings.Participant.LocalWorldSize,
				Latency:    latency,
				InterRate:  rate,
				IntraRate:  intraRate,
				Algorithm:  algo,
			}
			if skipMath {
				fabric.Reduce = collcomm.FakeSum
			}
			logrus.WithFields(logrus.Fields{
				"component":  "simnet",
				"world_size": fabric.WorldSize,
				"hosts":      settings.Participant.NumHosts(),
				"algorithm":  algorithm,
				"sizes":      len(settings.Plan),
			}).Info("starting simulation")

			reg, metrics := newMetrics(settings)
			err = fabric.Run(cmd.Context(), func(ctx context.Context, c *simnet.Communicator) error {
				log := logrus.WithFields(logrus.Fields{"component": "bench", "rank": c.Rank()})
				runner, err := bench.NewRunner(settings.Bench, settings.Plan, c, log)
				if err != nil {
					c.Close()
					return err
				}
				if c.Rank() == 0 && metrics != nil {
					runner.SetMetrics(metrics)
				}
				return runner.Run(ctx, os.Stdout)
			})
			if err != nil {
				return err
			}
			return pushMetrics(settings.Pushgateway, "collbench_simnet", reg, fabric.WorldSize)
		},
	}
	fs := cmd.Flags()
	addBenchFlags(fs, benchFlagDefaults{
		MaxPacketBytes: simDefaultMaxPacketBytes,
		MaxElements:    simDefaultMaxElements,
	})
	fs.Int(config.FlagName(config.KeyWorldSize), simDefaultWorldSize, "number of simulated participants")
	fs.Int(config.FlagName(config.KeyLocalWorld), 1, "participants per simulated host")
	fs.DurationVar(&latency, "latency", 5*time.Microsecond, "per-message network latency")
	fs.Float64Var(&rate, "rate", 12.5e9, "NIC rate in bytes per second")
	fs.Float64Var(&intraRate, "intra-rate", 0, "device-to-device rate inside a host (0 disables host modeling)")
	fs.StringVar(&algorithm, "algorithm", "ring", "all-reduce algorithm")
	fs.BoolVar(&skipMath, "skip-math", false, "charge reduction time without computing sums")
	return cmd
}
