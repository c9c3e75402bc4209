package classify

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Distribution is a probability per class, aligned with the ascending
// registered class ids it was computed for.
type Distribution []float64

// Argmax returns the index of the most probable entry, or -1 if d is empty.
// Ties resolve to the lowest index.
func (d Distribution) Argmax() int {
	if len(d) == 0 {
		return -1
	}
	return floats.MaxIdx(d)
}

// Clone returns a copy of d.
func (d Distribution) Clone() Distribution {
	if d == nil {
		return nil
	}
	out := make(Distribution, len(d))
	copy(out, d)
	return out
}

// normalized clips negative or non-finite entries to zero and rescales the
// rest to sum to one. A distribution with nothing left becomes uniform.
func (d Distribution) normalized() Distribution {
	return Normalize(d)
}

// Normalize returns d clipped to non-negative finite values and rescaled to
// sum to one. An all-zero input becomes uniform.
func Normalize(d Distribution) Distribution {
	out := make(Distribution, len(d))
	var sum float64
	for i, p := range d {
		if p > 0 && !math.IsInf(p, 0) {
			out[i] = p
			sum += p
		}
	}
	if len(out) == 0 {
		return out
	}
	if sum == 0 {
		for i := range out {
			out[i] = 1 / float64(len(out))
		}
		return out
	}
	floats.Scale(1/sum, out)
	return out
}
