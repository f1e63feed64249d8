package bench

import "fmt"

// A ConfigError reports invalid or contradictory benchmark
// settings. It is always raised before any communication
// is set up.
type ConfigError struct {
	Field  string
	Reason string
}

func (c *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", c.Field, c.Reason)
}

// A CapacityError reports a packet size that does not fit
// in the allocated payload buffer.
type CapacityError struct {
	PacketBytes      int64
	Elements         int64
	CapacityElements int64
}

func (c *CapacityError) Error() string {
	return fmt.Sprintf("packet size %d bytes (%d elements) exceeds allocated capacity (%d elements)",
		c.PacketBytes, c.Elements, c.CapacityElements)
}
