// Package session drives the few-shot lifecycle: background initialization,
// class registration and smoothed inference, one frame at a time.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/cyclopcam/logs"

	"github.com/ayusman/fewshot/internal/classify"
	"github.com/ayusman/fewshot/internal/features"
	"github.com/ayusman/fewshot/internal/smooth"
)

var (
	// ErrExtractionFailed wraps backbone failures. They are transient: the
	// session keeps its state and retries on the next frame.
	ErrExtractionFailed = errors.New("feature extraction failed")

	// ErrEmptyClassInference is reported when inference is requested while
	// a class below the highest registered id has no shot.
	ErrEmptyClassInference = errors.New("inference requested with empty classes")
)

// FeatureExtractor turns a frame into a feature vector.
type FeatureExtractor[F any] interface {
	Extract(frame F) (features.Vector, error)
}

// ExtractorFunc adapts a function to FeatureExtractor.
type ExtractorFunc[F any] func(frame F) (features.Vector, error)

// Extract calls f.
func (f ExtractorFunc[F]) Extract(frame F) (features.Vector, error) {
	return f(frame)
}

// Transition records one state change.
type Transition struct {
	Frame  uint64
	From   State
	To     State
	Reason string
	Err    error
}

// Output is what a session reports after every frame.
type Output struct {
	Frame              uint64                `json:"frame"`
	State              State                 `json:"state"`
	ClassIDs           []int                 `json:"classIds,omitempty"`
	Probabilities      classify.Distribution `json:"probabilities,omitempty"`
	Prediction         int                   `json:"prediction"`
	TargetClass        int                   `json:"targetClass"`
	Shots              map[int]int           `json:"shots,omitempty"`
	BackgroundSamples  int                   `json:"backgroundSamples"`
	EmptyClasses       []int                 `json:"emptyClasses,omitempty"`
	Err                error                 `json:"-"`
	Diagnostic         string                `json:"diagnostic,omitempty"`
	ExtractionFailures int                   `json:"extractionFailures,omitempty"`
	BackboneLatency    time.Duration         `json:"backboneLatencyNs"`
	Quit               bool                  `json:"quit,omitempty"`
}

// Session is the per-process few-shot state machine. It is driven from a
// single goroutine and performs no locking.
type Session[F any] struct {
	// OnTransition, if set, is called after every state change.
	OnTransition func(Transition)

	cfg        Config
	log        logs.Log
	extractor  FeatureExtractor[F]
	classifier classify.Classifier
	smoother   smooth.Smoother
	store      *features.Store
	prediction smooth.State
	now        func() time.Time

	state        State
	frame        uint64
	initCount    int
	regCount     int
	target       int
	failures     int
	lastErr      error
	emptyClasses []int
}

// New creates a session in the reset state.
func New[F any](cfg Config, extractor FeatureExtractor[F], log logs.Log) (*Session[F], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if extractor == nil {
		return nil, fmt.Errorf("%w: no feature extractor", classify.ErrInvalidConfiguration)
	}
	c, err := classify.New(cfg.Classifier)
	if err != nil {
		return nil, err
	}
	if cfg.ExtractionWarnEvery == 0 {
		cfg.ExtractionWarnEvery = DefaultConfig().ExtractionWarnEvery
	}
	return &Session[F]{
		cfg:        cfg,
		log:        log,
		extractor:  extractor,
		classifier: c,
		smoother:   smooth.Smoother{Alpha: cfg.Alpha},
		store:      features.NewStore(cfg.MaxClasses),
		now:        time.Now,
		state:      StateReset,
		target:     -1,
	}, nil
}

// State returns the current state.
func (s *Session[F]) State() State {
	return s.state
}

// Store exposes the feature store for inspection.
func (s *Session[F]) Store() *features.Store {
	return s.store
}

// Config returns the session configuration.
func (s *Session[F]) Config() Config {
	return s.cfg
}

// Step processes one frame and at most one command, and reports the result.
// It never panics on collaborator failures; they surface in the Output and,
// where appropriate, as the error state.
func (s *Session[F]) Step(frame F, cmd Command) Output {
	s.frame++
	out := Output{Frame: s.frame, Prediction: -1, TargetClass: -1}

	if s.state == StatePause {
		next, reason := s.paused(cmd, &out)
		s.transition(next, reason, nil)
		return s.report(out)
	}

	next, reason, err := s.process(frame, &out)
	next, reason = s.command(cmd, next, reason, &out)
	s.transition(next, reason, err)
	return s.report(out)
}

// paused handles a frame while paused: only resume (or a second pause)
// and quit have an effect.
func (s *Session[F]) paused(cmd Command, out *Output) (State, string) {
	switch cmd.Kind {
	case CommandResume, CommandPause:
		return StateReset, "resume"
	case CommandQuit:
		out.Quit = true
	case CommandNone:
	default:
		s.log.Debugf("Ignoring %v while paused", cmd)
	}
	return StatePause, ""
}

// process runs the per-state action for the current frame and returns the
// state it leads to.
func (s *Session[F]) process(frame F, out *Output) (State, string, error) {
	switch s.state {
	case StateReset:
		s.store.Reset()
		s.store.BeginInitialization()
		s.prediction.Clear()
		s.initCount = 0
		s.regCount = 0
		s.target = -1
		s.failures = 0
		s.lastErr = nil
		s.emptyClasses = nil
		return StateInitialization, "reset done", nil

	case StateInitialization:
		v, ok := s.extract(frame, out)
		if !ok {
			return s.state, "", nil
		}
		if err := s.store.AccumulateBackground(v); err != nil {
			return StateError, "background sample rejected", err
		}
		s.initCount++
		if s.initCount < s.cfg.InitFrames {
			return s.state, "", nil
		}
		if err := s.store.FinalizeBackground(); err != nil {
			return StateError, "background finalization failed", err
		}
		return StateIdle, fmt.Sprintf("background averaged over %d frames", s.initCount), nil

	case StateRegistration:
		v, ok := s.extract(frame, out)
		if !ok {
			return s.state, "", nil
		}
		if err := s.store.RegisterShot(s.target, v); err != nil {
			return StateError, fmt.Sprintf("registration of class %d failed", s.target), err
		}
		s.regCount++
		if s.regCount < s.cfg.ShotsPerClass {
			return s.state, "", nil
		}
		return StateIdle, fmt.Sprintf("class %d has %d shots", s.target, s.store.ShotCount(s.target)), nil

	case StateInference:
		v, ok := s.extract(frame, out)
		if !ok {
			return s.state, "", nil
		}
		query, err := s.store.Center(v)
		if err != nil {
			return StateError, "query centering failed", err
		}
		classes := s.store.Classes()
		dist, err := s.classifier.Classify(query, classes)
		if err != nil {
			return StateError, "classification failed", err
		}
		s.smoother.Update(&s.prediction, s.store.RegisteredClassIDs(), dist)
		return s.state, "", nil

	case StateIdle, StateError, StatePause:
		return s.state, "", nil
	}
	return StateError, "", fmt.Errorf("unhandled state %v", s.state)
}

// command applies the user command on top of the state computed for this
// frame. Guards are evaluated against the state the frame started in.
func (s *Session[F]) command(cmd Command, next State, reason string, out *Output) (State, string) {
	switch cmd.Kind {
	case CommandNone:
		return next, reason

	case CommandQuit:
		out.Quit = true
		return next, reason

	case CommandReset:
		return StateReset, "reset requested"

	case CommandPause:
		return StatePause, "pause requested"

	case CommandResume:
		s.log.Debugf("Ignoring resume in state %v", s.state)
		return next, reason

	case CommandSelectClass:
		if s.state != StateIdle || next != StateIdle {
			s.log.Debugf("Ignoring %v in state %v", cmd, s.state)
			return next, reason
		}
		if cmd.Class < 0 {
			s.log.Warnf("Ignoring %v: invalid class", cmd)
			return next, reason
		}
		if err := cmd.Validate(s.cfg.MaxClasses); err != nil {
			s.lastErr = fmt.Errorf("%w: %w", features.ErrRegistryFull, err)
			return StateError, "registration rejected"
		}
		s.target = cmd.Class
		s.regCount = 0
		return StateRegistration, fmt.Sprintf("registering class %d", cmd.Class)

	case CommandStartInference:
		if s.state != StateIdle || next != StateIdle {
			s.log.Debugf("Ignoring %v in state %v", cmd, s.state)
			return next, reason
		}
		if !s.store.IsReady() {
			s.log.Infof("Cannot start inference: no class registered")
			return next, reason
		}
		if empty := s.store.EmptyClasses(); len(empty) > 0 {
			s.emptyClasses = empty
			s.lastErr = fmt.Errorf("%w: classes %v of %d have no shot", ErrEmptyClassInference, empty, len(empty)+len(s.store.RegisteredClassIDs()))
			return StateError, "inference rejected"
		}
		if k := s.cfg.Classifier.Neighbors; s.cfg.Classifier.Strategy == classify.StrategyKNN && k > s.store.TotalShots() {
			s.lastErr = fmt.Errorf("%w: %d neighbors exceed %d registered shots", classify.ErrInvalidConfiguration, k, s.store.TotalShots())
			return StateError, "inference rejected"
		}
		s.prediction.Clear()
		return StateInference, fmt.Sprintf("inference over classes %v", s.store.RegisteredClassIDs())
	}

	s.log.Warnf("Ignoring unknown command %v", cmd)
	return next, reason
}

// extract calls the backbone and measures it. Failures are counted and
// leave the state untouched.
func (s *Session[F]) extract(frame F, out *Output) (features.Vector, bool) {
	start := s.now()
	v, err := s.extractor.Extract(frame)
	out.BackboneLatency = s.now().Sub(start)
	if err != nil {
		s.failures++
		out.Err = fmt.Errorf("%w: %w", ErrExtractionFailed, err)
		if s.failures%s.cfg.ExtractionWarnEvery == 0 {
			s.log.Warnf("%d consecutive extraction failures in state %v: %v", s.failures, s.state, err)
		} else {
			s.log.Debugf("Extraction failed in state %v, retrying next frame: %v", s.state, err)
		}
		return nil, false
	}
	s.failures = 0
	return v, true
}

func (s *Session[F]) transition(next State, reason string, err error) {
	if err != nil {
		s.lastErr = err
	}
	if next == s.state {
		return
	}
	from := s.state
	s.state = next

	if from == StateInference {
		s.prediction.Clear()
	}
	if next == StateError {
		s.log.Errorf("Session error at frame %d (%v): %v", s.frame, reason, s.lastErr)
	} else {
		s.log.Infof("State %v -> %v (%v)", from, next, reason)
	}

	if s.OnTransition != nil {
		s.OnTransition(Transition{Frame: s.frame, From: from, To: next, Reason: reason, Err: s.lastErr})
	}
}

func (s *Session[F]) report(out Output) Output {
	out.State = s.state
	out.ClassIDs = s.store.RegisteredClassIDs()
	out.Shots = s.store.ShotCounts()
	out.BackgroundSamples = s.store.BackgroundSamples()
	out.ExtractionFailures = s.failures

	switch s.state {
	case StateRegistration:
		out.TargetClass = s.target
	case StateInference:
		if !s.prediction.Empty() {
			out.ClassIDs = append([]int(nil), s.prediction.ClassIDs...)
			out.Probabilities = s.prediction.Distribution.Clone()
			out.Prediction = out.ClassIDs[out.Probabilities.Argmax()]
		}
	case StateError:
		out.EmptyClasses = append([]int(nil), s.emptyClasses...)
		if out.Err == nil {
			out.Err = s.lastErr
		}
	}
	if out.Err != nil {
		out.Diagnostic = out.Err.Error()
	}
	return out
}
