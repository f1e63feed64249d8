package bench

import "strconv"

// A Participant identifies one process in the group.
type Participant struct {
	// Rank is the global rank in [0, WorldSize).
	Rank int

	// LocalRank is the rank among the processes on the
	// same host. It selects the device.
	LocalRank int

	WorldSize      int
	LocalWorldSize int
}

// Host returns the index of the participant's host.
func (p Participant) Host() int {
	return p.Rank / p.LocalWorldSize
}

// NumHosts returns the number of hosts in the group.
func (p Participant) NumHosts() int {
	return p.WorldSize / p.LocalWorldSize
}

// IsCoordinator checks if this participant collects and
// prints results.
func (p Participant) IsCoordinator() bool {
	return p.Rank == 0
}

// Validate checks that the identity is self-consistent.
func (p Participant) Validate() error {
	if p.WorldSize < 1 {
		return &ConfigError{Field: "world_size", Reason: "must be positive, got " + strconv.Itoa(p.WorldSize)}
	}
	if p.LocalWorldSize < 1 {
		return &ConfigError{Field: "local_world", Reason: "must be positive, got " + strconv.Itoa(p.LocalWorldSize)}
	}
	if p.Rank < 0 || p.Rank >= p.WorldSize {
		return &ConfigError{Field: "rank", Reason: "must be in [0, world_size), got " + strconv.Itoa(p.Rank)}
	}
	if p.LocalRank < 0 || p.LocalRank >= p.LocalWorldSize {
		return &ConfigError{Field: "local_rank", Reason: "must be in [0, local_world), got " + strconv.Itoa(p.LocalRank)}
	}
	return nil
}
