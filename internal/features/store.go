// Package features holds the background representation and the per-class
// exemplar vectors ("shots") of a few-shot session.
package features

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrInsufficientSamples is returned when the background is finalized
	// without any accumulated sample.
	ErrInsufficientSamples = errors.New("insufficient background samples")

	// ErrRegistryFull is returned when a new class would exceed the
	// configured maximum number of classes.
	ErrRegistryFull = errors.New("class registry full")

	// ErrBackgroundNotReady is returned when a vector must be centered
	// before the background has been finalized.
	ErrBackgroundNotReady = errors.New("background not finalized")

	// ErrDimensionMismatch is returned when a vector does not match the
	// dimension established by earlier vectors.
	ErrDimensionMismatch = errors.New("feature dimension mismatch")

	// ErrInvalidClass is returned for class identifiers outside
	// [0, maxClasses).
	ErrInvalidClass = errors.New("invalid class id")
)

// Vector is a feature vector produced by the backbone.
type Vector []float64

// Clone returns a copy of v.
func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// Class is a read-only view of one registered class.
type Class struct {
	ID    int
	Shots []Vector
}

// Store accumulates the background representation and the class registry.
// It is not safe for concurrent use; the session loop is its only mutator.
type Store struct {
	maxClasses int
	dim        int

	mean      Vector
	delta     Vector
	samples   int
	bg        Vector
	finalized bool

	classes map[int][]Vector
}

// NewStore creates an empty store that accepts at most maxClasses classes.
func NewStore(maxClasses int) *Store {
	return &Store{
		maxClasses: maxClasses,
		classes:    make(map[int][]Vector),
	}
}

// BeginInitialization clears the background accumulator.
func (s *Store) BeginInitialization() {
	s.mean = nil
	s.delta = nil
	s.samples = 0
	s.bg = nil
	s.finalized = false
	if len(s.classes) == 0 {
		s.dim = 0
	}
}

// AccumulateBackground folds one sample into the running background mean.
// The running form keeps the mean of identical samples exact.
func (s *Store) AccumulateBackground(v Vector) error {
	if err := s.checkDim(v); err != nil {
		return err
	}
	if s.mean == nil {
		s.mean = make(Vector, len(v))
		s.delta = make(Vector, len(v))
	}
	s.samples++
	floats.SubTo(s.delta, v, s.mean)
	floats.AddScaled(s.mean, 1/float64(s.samples), s.delta)
	return nil
}

// FinalizeBackground turns the accumulated samples into the background
// representation (their arithmetic mean).
func (s *Store) FinalizeBackground() error {
	if s.samples == 0 {
		return ErrInsufficientSamples
	}
	s.bg = s.mean.Clone()
	s.finalized = true
	return nil
}

// RegisterShot stores v, centered by the background, as a shot of classID.
// A failed call leaves the registry unchanged.
func (s *Store) RegisterShot(classID int, v Vector) error {
	if classID < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidClass, classID)
	}
	centered, err := s.Center(v)
	if err != nil {
		return err
	}
	if _, ok := s.classes[classID]; !ok && len(s.classes) >= s.maxClasses {
		return fmt.Errorf("%w: class %d rejected, %d of %d classes registered", ErrRegistryFull, classID, len(s.classes), s.maxClasses)
	}
	if classID >= s.maxClasses {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrInvalidClass, classID, s.maxClasses)
	}
	s.classes[classID] = append(s.classes[classID], centered)
	return nil
}

// Center returns v minus the background representation.
func (s *Store) Center(v Vector) (Vector, error) {
	if !s.finalized {
		return nil, ErrBackgroundNotReady
	}
	if len(v) != len(s.bg) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), len(s.bg))
	}
	out := make(Vector, len(v))
	floats.SubTo(out, v, s.bg)
	return out, nil
}

// Reset returns the store to its just-constructed state.
func (s *Store) Reset() {
	s.dim = 0
	s.mean = nil
	s.delta = nil
	s.samples = 0
	s.bg = nil
	s.finalized = false
	s.classes = make(map[int][]Vector)
}

// IsReady reports whether the background is finalized and at least one
// class has been registered.
func (s *Store) IsReady() bool {
	return s.finalized && len(s.classes) > 0
}

// RegisteredClassIDs returns the ids of all registered classes in ascending
// order. This order is used for every distribution downstream.
func (s *Store) RegisteredClassIDs() []int {
	ids := make([]int, 0, len(s.classes))
	for id := range s.classes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Classes returns the registered classes in ascending id order. The shot
// slices are shared with the store and must not be modified.
func (s *Store) Classes() []Class {
	ids := s.RegisteredClassIDs()
	out := make([]Class, len(ids))
	for i, id := range ids {
		out[i] = Class{ID: id, Shots: s.classes[id]}
	}
	return out
}

// EmptyClasses returns the ids between 0 and the highest registered id that
// have no shot. Classes are expected to be registered without gaps. Ids are
// below maxClasses, which bounds the result.
func (s *Store) EmptyClasses() []int {
	ids := s.RegisteredClassIDs()
	if len(ids) == 0 {
		return nil
	}
	var empty []int
	for id := 0; id < ids[len(ids)-1]; id++ {
		if _, ok := s.classes[id]; !ok {
			empty = append(empty, id)
		}
	}
	return empty
}

// ShotCount returns the number of shots registered for classID.
func (s *Store) ShotCount(classID int) int {
	return len(s.classes[classID])
}

// ShotCounts returns the shot count of every registered class.
func (s *Store) ShotCounts() map[int]int {
	counts := make(map[int]int, len(s.classes))
	for id, shots := range s.classes {
		counts[id] = len(shots)
	}
	return counts
}

// TotalShots returns the number of shots across all classes.
func (s *Store) TotalShots() int {
	n := 0
	for _, shots := range s.classes {
		n += len(shots)
	}
	return n
}

// Background returns the finalized background representation.
func (s *Store) Background() (Vector, bool) {
	if !s.finalized {
		return nil, false
	}
	return s.bg.Clone(), true
}

// BackgroundSamples returns how many samples have been accumulated since the
// last BeginInitialization.
func (s *Store) BackgroundSamples() int {
	return s.samples
}

// Dim returns the feature dimension seen so far, or 0 if none.
func (s *Store) Dim() int {
	return s.dim
}

// MaxClasses returns the configured class limit.
func (s *Store) MaxClasses() int {
	return s.maxClasses
}

func (s *Store) checkDim(v Vector) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}
	if s.dim == 0 {
		s.dim = len(v)
		return nil
	}
	if len(v) != s.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), s.dim)
	}
	return nil
}
