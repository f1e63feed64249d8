package bench

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/unixpickle/collbench/payload"
)

// A Plan is an ascending list of distinct, positive packet
// sizes in bytes.
type Plan []int64

// ParsePacketSizes derives the packet sizes to benchmark.
//
// If list is non-empty, it is a comma-separated list of
// byte counts; the result is the sorted set of entries.
// Otherwise the sizes double from minBytes while they are
// at most maxBytes.
func ParsePacketSizes(list string, minBytes, maxBytes int64) (Plan, error) {
	if strings.TrimSpace(list) != "" {
		return parseExplicitSizes(list)
	}
	if minBytes <= 0 || maxBytes <= 0 || minBytes > maxBytes {
		return nil, &ConfigError{
			Field:  "min_packet_bytes/max_packet_bytes",
			Reason: "need 0 < min <= max, got min=" + strconv.FormatInt(minBytes, 10) + " max=" + strconv.FormatInt(maxBytes, 10),
		}
	}
	var res Plan
	for size := minBytes; size <= maxBytes; size *= 2 {
		res = append(res, size)
		if size > math.MaxInt64/2 {
			break
		}
	}
	return res, nil
}

func parseExplicitSizes(list string) (Plan, error) {
	seen := map[int64]bool{}
	var res Plan
	for _, chunk := range strings.Split(list, ",") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		value, err := strconv.ParseInt(chunk, 10, 64)
		if err != nil {
			return nil, &ConfigError{Field: "packet_sizes_bytes", Reason: "not an integer: " + strconv.Quote(chunk)}
		}
		if value <= 0 {
			return nil, &ConfigError{Field: "packet_sizes_bytes", Reason: "packet sizes must be positive, got " + chunk}
		}
		if !seen[value] {
			seen[value] = true
			res = append(res, value)
		}
	}
	if len(res) == 0 {
		return nil, &ConfigError{Field: "packet_sizes_bytes", Reason: "did not contain valid values"}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i] < res[j]
	})
	return res, nil
}

// MaxElements returns the number of elements needed by the
// largest packet in the plan.
func (p Plan) MaxElements() int64 {
	var res int64
	for _, size := range p {
		if n := payload.ElementsFor(size); n > res {
			res = n
		}
	}
	return res
}
