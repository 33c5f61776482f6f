package worker

import (
	"fmt"

	"github.com/jzx17/gothreadpool/pkg/types"
)

// Integer is the set of index types accepted by ParallelFor
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Range is a half-open index interval [Begin, End)
type Range[I Integer] struct {
	Begin I
	End   I
}

// Len returns the number of indexes in the range. It is computed in uint64 so
// a range spanning more than half of a signed type does not overflow.
func (r Range[I]) Len() uint64 {
	if r.End <= r.Begin {
		return 0
	}
	return uint64(r.End) - uint64(r.Begin)
}

func (r Range[I]) String() string {
	return fmt.Sprintf("[%v,%v)", r.Begin, r.End)
}

// Partition splits [begin, end) into at most parts contiguous, non-overlapping
// ranges. The first range also takes the remainder of len/parts, every other
// range has length len/parts. When the interval is shorter than parts a single
// range covers it. An empty or inverted interval yields no ranges. Any
// interval of I is accepted, including one wider than the maximum of I.
func Partition[I Integer](begin, end I, parts int) []Range[I] {
	if end <= begin {
		return nil
	}
	if parts < 1 {
		parts = 1
	}

	length := Range[I]{Begin: begin, End: end}.Len()
	base := length / uint64(parts)
	rem := length % uint64(parts)

	ranges := make([]Range[I], 0, min(uint64(parts), length))
	lo, size := begin, base+rem
	for remaining := length; remaining > 0; remaining -= size {
		if size > remaining {
			size = remaining
		}
		// wraps for steps wider than I, but the sum lands on an index of [begin, end]
		hi := lo + I(size)
		if remaining == size {
			hi = end
		}
		ranges = append(ranges, Range[I]{Begin: lo, End: hi})
		lo = hi
		if base == 0 {
			break
		}
		size = base
	}
	return ranges
}

// ParallelFor splits [begin, end) into one range per worker (see Partition)
// and submits fn(lo, hi) for each as an independent task. It does not wait;
// call WaitAll to know when every range has run. A panic in fn is recovered
// and logged like any other task failure.
func ParallelFor[I Integer](p *Pool, begin, end I, fn func(lo, hi I)) error {
	if fn == nil {
		return types.ErrNilTask
	}

	for _, r := range Partition(begin, end, p.Size()) {
		lo, hi := r.Begin, r.End
		task := NewBasicTaskWithDescription("parallel-for "+r.String(), func() error {
			fn(lo, hi)
			return nil
		})
		if err := p.enqueue(task); err != nil {
			return err
		}
	}
	return nil
}
