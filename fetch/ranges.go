package fetch

import "fmt"

// Range is an inclusive block range
type Range struct {
	From uint64
	To   uint64
}

// String implements fmt.Stringer
func (r Range) String() string {
	return fmt.Sprintf("[%d, %d]", r.From, r.To)
}

// Size returns the number of blocks in the range
func (r Range) Size() uint64 {
	return r.To - r.From + 1
}

// Ranges splits [from, to] into consecutive ranges. Each range ends at
// min(from+size, to) and the next one starts right after it, so with
// from=100, to=250, size=100 the result is [100,200], [201,250].
// It returns nil when from > to or size is zero.
func Ranges(from, to, size uint64) []Range {
	if from > to || size == 0 {
		return nil
	}

	var out []Range
	for start := from; ; {
		end := to
		if start+size >= start && start+size < to {
			end = start + size
		}
		out = append(out, Range{From: start, To: end})
		if end == to {
			return out
		}
		start = end + 1
	}
}
