package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/unixpickle/collbench/bench"
	"github.com/unixpickle/collbench/collective/tcpring"
	"github.com/unixpickle/collbench/config"
)

func newRunCmd() *cobra.Command {
	var (
		listenAddr    string
		advertiseHost string
		setupTimeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Benchmark a TCP ring with one process per participant",
		Long: `Run joins a group of participants launched by mpirun or torchrun.
Identity comes from OMPI_COMM_WORLD_* or RANK, WORLD_SIZE and LOCAL_RANK,
and rank 0 hosts the rendezvous at MASTER_ADDR:MASTER_PORT.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := config.NewViper()
			if err := config.BindFlags(v, cmd.Flags()); err != nil {
				return err
			}
			settings, err := config.Load(v)
			if err != nil {
				return err
			}
			p := settings.Participant
			log := logrus.WithFields(logrus.Fields{"component": "bench", "rank": p.Rank})
			log.WithFields(logrus.Fields{
				"device":     p.LocalRank,
				"host":       p.Host(),
				"world_size": p.WorldSize,
				"hosts":      p.NumHosts(),
			}).Info("selected device")

			comm, err := tcpring.Dial(cmd.Context(), tcpring.Options{
				Rank:          p.Rank,
				WorldSize:     p.WorldSize,
				MasterAddr:    settings.MasterAddr,
				ListenAddr:    listenAddr,
				AdvertiseHost: advertiseHost,
				SetupTimeout:  setupTimeout,
			})
			if err != nil {
				return err
			}
			runner, err := bench.NewRunner(settings.Bench, settings.Plan, comm, log)
			if err != nil {
				comm.Close()
				return err
			}
			reg, metrics := newMetrics(settings)
			if metrics != nil {
				runner.SetMetrics(metrics)
			}
			if err := runner.Run(cmd.Context(), os.Stdout); err != nil {
				return fmt.Errorf("rank %d: %w", p.Rank, err)
			}
			return pushMetrics(settings.Pushgateway, "collbench_tcpring", reg, p.WorldSize)
		},
	}
	addBenchFlags(cmd.Flags(), benchFlagDefaults{
		MaxPacketBytes: bench.DefaultMaxPacketBytes,
		MaxElements:    bench.DefaultMaxElements,
	})
	cmd.Flags().StringVar(&listenAddr, "listen", ":0", "local address for ring connections")
	cmd.Flags().StringVar(&advertiseHost, "advertise-host", "",
		"host other participants dial (default: hostname, or 127.0.0.1 for a loopback master)")
	cmd.Flags().DurationVar(&setupTimeout, "setup-timeout", tcpring.DefaultSetupTimeout,
		"time allowed for rendezvous and ring setup")
	return cmd
}
