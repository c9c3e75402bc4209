// Package smooth blends successive per-frame distributions so that a single
// misclassified frame does not flip the displayed prediction.
package smooth

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"

	"github.com/ayusman/fewshot/internal/classify"
)

// DefaultAlpha is the weight given to the newest frame.
const DefaultAlpha = 0.15

// ValidateAlpha checks that alpha is a usable blending weight.
func ValidateAlpha(alpha float64) error {
	if !(alpha >= 0 && alpha <= 1) {
		return fmt.Errorf("%w: smoothing weight must be in [0,1], got %v", classify.ErrInvalidConfiguration, alpha)
	}
	return nil
}

// Smooth returns alpha*next + (1-alpha)*prev. A nil or misaligned prev is
// treated as absent and next is returned unchanged (as a copy).
func Smooth(next, prev classify.Distribution, alpha float64) classify.Distribution {
	if prev == nil || len(prev) != len(next) {
		return next.Clone()
	}
	out := make(classify.Distribution, len(next))
	floats.ScaleTo(out, 1-alpha, prev)
	floats.AddScaled(out, alpha, next)
	if !isDistribution(out) {
		return classify.Normalize(out)
	}
	return out
}

func isDistribution(d classify.Distribution) bool {
	var sum float64
	for _, p := range d {
		if p < 0 {
			return false
		}
		sum += p
	}
	return scalar.EqualWithinAbs(sum, 1, 1e-9)
}

// State is the smoothed prediction carried between frames. The zero value
// means no previous prediction.
type State struct {
	ClassIDs     []int
	Distribution classify.Distribution
}

// Empty reports whether there is no previous prediction.
func (s *State) Empty() bool {
	return s == nil || s.Distribution == nil
}

// Clear drops the previous prediction.
func (s *State) Clear() {
	s.ClassIDs = nil
	s.Distribution = nil
}

// Smoother applies Smooth with a fixed weight against a caller-owned State.
type Smoother struct {
	Alpha float64
}

// Update blends next into st and returns the new smoothed distribution.
// If the class set differs from the one st was computed for, st is dropped
// first.
func (m Smoother) Update(st *State, classIDs []int, next classify.Distribution) classify.Distribution {
	if !slices.Equal(st.ClassIDs, classIDs) {
		st.Clear()
	}
	out := Smooth(next, st.Distribution, m.Alpha)
	st.ClassIDs = slices.Clone(classIDs)
	st.Distribution = out
	return out.Clone()
}
