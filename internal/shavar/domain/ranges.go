package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// FormatChunkRange renders a set of chunk numbers as a canonical range
// string, e.g. [1 4 6 8..20 99] -> "1,4,6,8-20,99". The input is not
// mutated; duplicates collapse. An empty set renders as "".
func FormatChunkRange(nums []uint32) string {
	if len(nums) == 0 {
		return ""
	}
	sorted := make([]uint32, len(nums))
	copy(sorted, nums)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var b strings.Builder
	start, prev := sorted[0], sorted[0]
	flush := func() {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		if start == prev {
			b.WriteString(strconv.FormatUint(uint64(start), 10))
		} else {
			b.WriteString(strconv.FormatUint(uint64(start), 10))
			b.WriteByte('-')
			b.WriteString(strconv.FormatUint(uint64(prev), 10))
		}
	}
	for _, n := range sorted[1:] {
		switch {
		case n == prev: // duplicate
		case n == prev+1:
			prev = n
		default:
			flush()
			start, prev = n, n
		}
	}
	flush()
	return b.String()
}

// ParseChunkRange expands a range string like "1,4,8-20" into its chunk
// numbers. An empty string yields nil. Spans must be ascending; anything
// else is a malformed directive from the server.
func ParseChunkRange(s string) ([]uint32, error) {
	if s == "" {
		return nil, nil
	}
	var out []uint32
	for _, part := range strings.Split(s, ",") {
		lo, hi, ok := strings.Cut(part, "-")
		a, err := parseChunkNumber(lo)
		if err != nil {
			return nil, err
		}
		if !ok {
			out = append(out, a)
			continue
		}
		b, err := parseChunkNumber(hi)
		if err != nil {
			return nil, err
		}
		if b < a {
			return nil, fmt.Errorf("descending chunk range %q", part)
		}
		for n := a; ; n++ {
			out = append(out, n)
			if n == b {
				break
			}
		}
	}
	return out, nil
}

func parseChunkNumber(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid chunk number %q", s)
	}
	return uint32(n), nil
}
