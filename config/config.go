// Package config reads benchmark settings from the
// environment and command-line flags.
package config

import (
	"net"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/unixpickle/collbench/bench"
	"github.com/unixpickle/essentials"
)

// Setting keys. Flags bound with BindFlags use the same
// names with underscores replaced by dashes.
const (
	KeyLocalWorld     = "local_world"
	KeyRank           = "rank"
	KeyWorldSize      = "world_size"
	KeyLocalRank      = "local_rank"
	KeyPacketSizes    = "packet_sizes_bytes"
	KeyMinPacketBytes = "min_packet_bytes"
	KeyMaxPacketBytes = "max_packet_bytes"
	KeyMaxElements    = "max_elements"
	KeyWarmup         = "warmup"
	KeyIterations     = "iterations"
	KeyMasterAddr     = "master_addr"
	KeyMasterPort     = "master_port"
	KeyPushgateway    = "pushgateway_url"
)

const (
	DefaultMasterAddr = "127.0.0.1"
	DefaultMasterPort = 29500
)

// envBindings lists the variables behind each key, in
// order of precedence. Open MPI names come before the
// torchrun names.
var envBindings = map[string][]string{
	KeyLocalWorld:     {"LOCAL_WORLD"},
	KeyRank:           {"OMPI_COMM_WORLD_RANK", "RANK"},
	KeyWorldSize:      {"OMPI_COMM_WORLD_SIZE", "WORLD_SIZE"},
	KeyLocalRank:      {"OMPI_COMM_WORLD_LOCAL_RANK", "LOCAL_RANK"},
	KeyPacketSizes:    {"PACKET_SIZES_BYTES"},
	KeyMinPacketBytes: {"MIN_PACKET_BYTES"},
	KeyMaxPacketBytes: {"MAX_PACKET_BYTES"},
	KeyMaxElements:    {"MAX_ELEMENTS", "NUM_ELEMENTS"},
	KeyWarmup:         {"WARMUP"},
	KeyIterations:     {"ITERATIONS"},
	KeyMasterAddr:     {"MASTER_ADDR"},
	KeyMasterPort:     {"MASTER_PORT"},
	KeyPushgateway:    {"PUSHGATEWAY_URL"},
}

// Settings is everything a benchmark process needs to
// know before it sets up communication.
type Settings struct {
	Participant bench.Participant
	Bench       bench.Config
	Plan        bench.Plan

	// MasterAddr is the host:port of rank 0's rendezvous
	// listener.
	MasterAddr string

	// Pushgateway is the URL results are pushed to, or ""
	// to disable pushing.
	Pushgateway string
}

// NewViper creates a viper instance with every setting
// bound to its environment variables and defaults.
func NewViper() *viper.Viper {
	v := viper.New()
	for key, envs := range envBindings {
		v.BindEnv(append([]string{key}, envs...)...)
	}
	v.SetDefault(KeyLocalWorld, 1)
	v.SetDefault(KeyRank, 0)
	v.SetDefault(KeyWorldSize, 1)
	v.SetDefault(KeyLocalRank, 0)
	v.SetDefault(KeyPacketSizes, "")
	v.SetDefault(KeyMinPacketBytes, bench.DefaultMinPacketBytes)
	v.SetDefault(KeyMaxPacketBytes, int64(bench.DefaultMaxPacketBytes))
	v.SetDefault(KeyMaxElements, int64(bench.DefaultMaxElements))
	v.SetDefault(KeyWarmup, bench.DefaultWarmup)
	v.SetDefault(KeyIterations, bench.DefaultIterations)
	v.SetDefault(KeyMasterAddr, DefaultMasterAddr)
	v.SetDefault(KeyMasterPort, DefaultMasterPort)
	v.SetDefault(KeyPushgateway, "")
	return v
}

// FlagName converts a setting key to its flag name.
func FlagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// BindFlags binds every flag in fs whose name matches a
// setting key. A flag that was set on the command line
// overrides the environment.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for key := range envBindings {
		if flag := fs.Lookup(FlagName(key)); flag != nil {
			if err := v.BindPFlag(key, flag); err != nil {
				return essentials.AddCtx("bind flag "+flag.Name, err)
			}
		}
	}
	return nil
}

// Load reads and validates every setting, including the
// packet plan. All configuration errors surface here as
// *bench.ConfigError.
func Load(v *viper.Viper) (*Settings, error) {
	p := &parser{v: v}
	s := &Settings{
		Participant: bench.Participant{
			Rank:           p.int(KeyRank),
			LocalRank:      p.int(KeyLocalRank),
			WorldSize:      p.int(KeyWorldSize),
			LocalWorldSize: p.int(KeyLocalWorld),
		},
		Bench: bench.Config{
			PacketSizes:    strings.TrimSpace(v.GetString(KeyPacketSizes)),
			MinPacketBytes: p.int64(KeyMinPacketBytes),
			MaxPacketBytes: p.int64(KeyMaxPacketBytes),
			MaxElements:    p.int64(KeyMaxElements),
			Warmup:         p.int(KeyWarmup),
			Iterations:     p.int(KeyIterations),
		},
		Pushgateway: strings.TrimSpace(v.GetString(KeyPushgateway)),
	}
	port := p.int(KeyMasterPort)
	if p.err != nil {
		return nil, p.err
	}
	if port < 1 || port > 65535 {
		return nil, &bench.ConfigError{Field: KeyMasterPort, Reason: "must be in [1, 65535], got " + strconv.Itoa(port)}
	}
	s.MasterAddr = net.JoinHostPort(v.GetString(KeyMasterAddr), strconv.Itoa(port))

	if err := s.Participant.Validate(); err != nil {
		return nil, err
	}
	if s.Participant.WorldSize%s.Participant.LocalWorldSize != 0 {
		return nil, &bench.ConfigError{
			Field:  KeyLocalWorld,
			Reason: "must divide world_size " + strconv.Itoa(s.Participant.WorldSize),
		}
	}
	if err := s.Bench.Validate(); err != nil {
		return nil, err
	}
	plan, err := s.Bench.Plan()
	if err != nil {
		return nil, err
	}
	s.Plan = plan
	return s, nil
}

// parser reads integer settings strictly, keeping the
// first error.
type parser struct {
	v   *viper.Viper
	err error
}

func (p *parser) int64(key string) int64 {
	if p.err != nil {
		return 0
	}
	raw := strings.TrimSpace(p.v.GetString(key))
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		p.err = &bench.ConfigError{Field: key, Reason: "not an integer: " + strconv.Quote(raw)}
		return 0
	}
	return n
}

func (p *parser) int(key string) int {
	n := p.int64(key)
	if int64(int(n)) != n {
		if p.err == nil {
			p.err = &bench.ConfigError{Field: key, Reason: "out of range: " + strconv.FormatInt(n, 10)}
		}
		return 0
	}
	return int(n)
}
