package bench_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/unixpickle/collbench/bench"
)

func TestParsePacketSizesExplicit(t *testing.T) {
	plan, err := bench.ParsePacketSizes("100,50,50,200", 4, 32)
	require.NoError(t, err)
	require.Equal(t, bench.Plan{50, 100, 200}, plan)

	plan, err = bench.ParsePacketSizes(" 8, ,3 ,", 0, 0)
	require.NoError(t, err)
	require.Equal(t, bench.Plan{3, 8}, plan)
}

func TestParsePacketSizesGeometric(t *testing.T) {
	plan, err := bench.ParsePacketSizes("", 4, 32)
	require.NoError(t, err)
	require.Equal(t, bench.Plan{4, 8, 16, 32}, plan)

	plan, err = bench.ParsePacketSizes("", 5, 5)
	require.NoError(t, err)
	require.Equal(t, bench.Plan{5}, plan)

	plan, err = bench.ParsePacketSizes("", bench.DefaultMinPacketBytes, bench.DefaultMaxPacketBytes)
	require.NoError(t, err)
	require.Len(t, plan, 33)
	require.Equal(t, int64(16*bench.GiB), plan[len(plan)-1])
}

func TestParsePacketSizesErrors(t *testing.T) {
	cases := []struct {
		name     string
		list     string
		min, max int64
	}{
		{"MinAboveMax", "", 64, 32},
		{"ZeroMin", "", 0, 32},
		{"NegativeMax", "", 4, -1},
		{"ZeroEntry", "100,0", 4, 32},
		{"NegativeEntry", "-5", 4, 32},
		{"NotANumber", "12,abc", 4, 32},
		{"OnlyCommas", " , ,", 4, 32},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := bench.ParsePacketSizes(c.list, c.min, c.max)
			var configErr *bench.ConfigError
			require.True(t, errors.As(err, &configErr), "expected ConfigError, got %v", err)
		})
	}
}

func TestPlanMaxElements(t *testing.T) {
	require.Equal(t, int64(50), bench.Plan{3, 99, 100}.MaxElements())
	require.Equal(t, int64(1), bench.Plan{1}.MaxElements())
}

func TestParticipant(t *testing.T) {
	p := bench.Participant{Rank: 5, LocalRank: 1, WorldSize: 8, LocalWorldSize: 4}
	require.NoError(t, p.Validate())
	require.Equal(t, 1, p.Host())
	require.Equal(t, 2, p.NumHosts())
	require.False(t, p.IsCoordinator())

	bad := []bench.Participant{
		{Rank: 8, WorldSize: 8, LocalWorldSize: 1},
		{Rank: 0, WorldSize: 0, LocalWorldSize: 1},
		{Rank: 0, LocalRank: 2, WorldSize: 4, LocalWorldSize: 2},
		{Rank: 0, WorldSize: 4, LocalWorldSize: 0},
	}
	for _, p := range bad {
		var configErr *bench.ConfigError
		require.ErrorAs(t, p.Validate(), &configErr, "participant %+v", p)
	}
}
