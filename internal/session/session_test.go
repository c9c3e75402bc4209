package session

import (
	"errors"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/fewshot/internal/classify"
	"github.com/ayusman/fewshot/internal/features"
)

// fakeBackbone returns the frame itself as its feature vector.
type fakeBackbone struct {
	err   error
	calls int
}

func (b *fakeBackbone) Extract(frame features.Vector) (features.Vector, error) {
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	return frame.Clone(), nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxClasses = 3
	cfg.InitFrames = 2
	cfg.ShotsPerClass = 2
	return cfg
}

func newTestSession(t *testing.T, cfg Config) (*Session[features.Vector], *fakeBackbone) {
	t.Helper()
	b := &fakeBackbone{}
	s, err := New[features.Vector](cfg, b, logs.NewTestingLog(t))
	require.NoError(t, err)
	return s, b
}

// feed steps n frames with no command and returns the last output.
func feed(s *Session[features.Vector], frame features.Vector, n int) Output {
	var out Output
	for i := 0; i < n; i++ {
		out = s.Step(frame, None)
	}
	return out
}

// toIdle runs reset and initialization on a zero background.
func toIdle(t *testing.T, s *Session[features.Vector]) {
	t.Helper()
	feed(s, features.Vector{0, 0}, 1+s.Config().InitFrames)
	require.Equal(t, StateIdle, s.State())
}

func register(t *testing.T, s *Session[features.Vector], id int, shot features.Vector) {
	t.Helper()
	out := s.Step(shot, SelectClass(id))
	require.Equal(t, StateRegistration, out.State)
	require.Equal(t, id, out.TargetClass)
	feed(s, shot, s.Config().ShotsPerClass)
	require.Equal(t, StateIdle, s.State())
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Alpha = 2
	_, err := New[features.Vector](cfg, &fakeBackbone{}, logs.NewTestingLog(t))
	assert.ErrorIs(t, err, classify.ErrInvalidConfiguration)

	cfg = testConfig()
	cfg.Classifier.Strategy = classify.StrategyKNN
	cfg.Classifier.Neighbors = 3
	_, err = New[features.Vector](cfg, &fakeBackbone{}, logs.NewTestingLog(t))
	assert.ErrorIs(t, err, classify.ErrInvalidConfiguration)

	_, err = New[features.Vector](testConfig(), nil, logs.NewTestingLog(t))
	assert.ErrorIs(t, err, classify.ErrInvalidConfiguration)
}

func TestSession_ResetDoesNotExtract(t *testing.T) {
	s, b := newTestSession(t, testConfig())
	require.Equal(t, StateReset, s.State())

	out := s.Step(features.Vector{1, 1}, None)
	assert.Equal(t, StateInitialization, out.State)
	assert.Equal(t, 0, b.calls)
	assert.Equal(t, uint64(1), out.Frame)
}

func TestSession_InitializationUsesExactlyInitFrames(t *testing.T) {
	cfg := testConfig()
	cfg.InitFrames = 3
	s, b := newTestSession(t, cfg)

	s.Step(nil, None)
	out := feed(s, features.Vector{2, 4}, 2)
	assert.Equal(t, StateInitialization, out.State)
	assert.Equal(t, 2, out.BackgroundSamples)

	out = feed(s, features.Vector{2, 4}, 1)
	assert.Equal(t, StateIdle, out.State)
	assert.Equal(t, 3, out.BackgroundSamples)
	assert.Equal(t, 3, b.calls)

	bg, ok := s.Store().Background()
	require.True(t, ok)
	assert.Equal(t, features.Vector{2, 4}, bg)
}

func TestSession_LifecycleToInference(t *testing.T) {
	s, _ := newTestSession(t, testConfig())
	toIdle(t, s)

	register(t, s, 0, features.Vector{1, 0})
	register(t, s, 1, features.Vector{0, 1})
	assert.Equal(t, map[int]int{0: 2, 1: 2}, s.Store().ShotCounts())

	out := s.Step(features.Vector{0, 0}, Of(CommandStartInference))
	require.Equal(t, StateInference, out.State)
	assert.Nil(t, out.Probabilities)
	assert.Equal(t, -1, out.Prediction)

	out = s.Step(features.Vector{0.9, 0.1}, None)
	require.Equal(t, StateInference, out.State)
	assert.Equal(t, []int{0, 1}, out.ClassIDs)
	require.Len(t, out.Probabilities, 2)
	assert.InDelta(t, 1.0, out.Probabilities[0]+out.Probabilities[1], 1e-9)
	assert.Equal(t, 0, out.Prediction)
	assert.NoError(t, out.Err)
}

func TestSession_SmoothingAcrossFrames(t *testing.T) {
	cfg := testConfig()
	cfg.Alpha = 0
	s, _ := newTestSession(t, cfg)
	toIdle(t, s)
	register(t, s, 0, features.Vector{1, 0})
	register(t, s, 1, features.Vector{0, 1})
	s.Step(nil, Of(CommandStartInference))

	first := s.Step(features.Vector{1, 0}, None)
	require.Equal(t, 0, first.Prediction)
	for i := 0; i < 3; i++ {
		out := s.Step(features.Vector{0, 1}, None)
		assert.Equal(t, first.Probabilities, out.Probabilities)
	}

	// Re-entering inference starts from an empty prediction.
	s.Step(nil, Of(CommandPause))
	s.Step(nil, Of(CommandResume))
	toIdle(t, s)
	register(t, s, 0, features.Vector{1, 0})
	register(t, s, 1, features.Vector{0, 1})
	s.Step(nil, Of(CommandStartInference))
	out := s.Step(features.Vector{0, 1}, None)
	assert.Equal(t, 1, out.Prediction)
}

func TestSession_EmptyClassFailsInference(t *testing.T) {
	s, _ := newTestSession(t, testConfig())
	toIdle(t, s)

	var transitions []Transition
	s.OnTransition = func(tr Transition) { transitions = append(transitions, tr) }

	register(t, s, 0, features.Vector{1, 0})
	register(t, s, 2, features.Vector{0, 1})

	out := s.Step(features.Vector{0, 0}, Of(CommandStartInference))
	assert.Equal(t, StateError, out.State)
	assert.Equal(t, []int{1}, out.EmptyClasses)
	assert.ErrorIs(t, out.Err, ErrEmptyClassInference)
	assert.NotEmpty(t, out.Diagnostic)

	last := transitions[len(transitions)-1]
	assert.Equal(t, StateIdle, last.From)
	assert.Equal(t, StateError, last.To)
	assert.ErrorIs(t, last.Err, ErrEmptyClassInference)

	// Error holds until an explicit reset.
	out = feed(s, features.Vector{0, 0}, 3)
	assert.Equal(t, StateError, out.State)
	out = s.Step(nil, Of(CommandStartInference))
	assert.Equal(t, StateError, out.State)

	out = s.Step(nil, Of(CommandReset))
	assert.Equal(t, StateReset, out.State)
	out = s.Step(nil, None)
	assert.Equal(t, StateInitialization, out.State)
	assert.Empty(t, out.ClassIDs)
	assert.Empty(t, out.EmptyClasses)
	assert.NoError(t, out.Err)
}

func TestSession_RegistryFull(t *testing.T) {
	cfg := testConfig()
	cfg.MaxClasses = 1
	s, _ := newTestSession(t, cfg)
	toIdle(t, s)
	register(t, s, 0, features.Vector{1, 0})

	out := s.Step(features.Vector{0, 1}, SelectClass(1))
	assert.Equal(t, StateError, out.State)
	assert.ErrorIs(t, out.Err, features.ErrRegistryFull)
	assert.ErrorIs(t, out.Err, ErrInvalidClass)
	assert.Equal(t, []int{0}, s.Store().RegisteredClassIDs())
	assert.Equal(t, 2, s.Store().ShotCount(0))
}

func TestSession_HugeClassIDIsRejected(t *testing.T) {
	s, b := newTestSession(t, testConfig())
	toIdle(t, s)
	register(t, s, 0, features.Vector{1, 0})
	calls := b.calls

	out := s.Step(features.Vector{0, 1}, SelectClass(20000000))
	assert.Equal(t, StateError, out.State)
	assert.ErrorIs(t, out.Err, features.ErrRegistryFull)
	assert.Empty(t, out.EmptyClasses)
	assert.Equal(t, calls, b.calls, "no shot is extracted for a rejected class")
	assert.Equal(t, []int{0}, s.Store().RegisteredClassIDs())

	// After a reset the session starts over with a small empty-class report.
	s.Step(nil, Of(CommandReset))
	toIdle(t, s)
	register(t, s, 1, features.Vector{0, 1})
	out = s.Step(nil, Of(CommandStartInference))
	assert.Equal(t, StateError, out.State)
	assert.ErrorIs(t, out.Err, ErrEmptyClassInference)
	assert.Equal(t, []int{0}, out.EmptyClasses)
}

func TestSession_ExtractionFailureIsTransient(t *testing.T) {
	cfg := testConfig()
	cfg.ExtractionWarnEvery = 2
	s, b := newTestSession(t, cfg)
	s.Step(nil, None)

	boom := errors.New("backbone crashed")
	b.err = boom
	for i := 1; i <= 3; i++ {
		out := s.Step(features.Vector{1, 1}, None)
		assert.Equal(t, StateInitialization, out.State)
		assert.ErrorIs(t, out.Err, ErrExtractionFailed)
		assert.ErrorIs(t, out.Err, boom)
		assert.Equal(t, i, out.ExtractionFailures)
		assert.Equal(t, 0, out.BackgroundSamples)
	}

	b.err = nil
	out := s.Step(features.Vector{1, 1}, None)
	assert.NoError(t, out.Err)
	assert.Equal(t, 0, out.ExtractionFailures)
	assert.Equal(t, 1, out.BackgroundSamples)
	out = s.Step(features.Vector{1, 1}, None)
	assert.Equal(t, StateIdle, out.State)
}

func TestSession_PauseAndResume(t *testing.T) {
	s, b := newTestSession(t, testConfig())
	toIdle(t, s)
	register(t, s, 0, features.Vector{1, 0})

	out := s.Step(nil, Of(CommandPause))
	require.Equal(t, StatePause, out.State)

	calls := b.calls
	out = s.Step(features.Vector{1, 0}, SelectClass(1))
	assert.Equal(t, StatePause, out.State)
	out = s.Step(features.Vector{1, 0}, Of(CommandReset))
	assert.Equal(t, StatePause, out.State)
	assert.Equal(t, calls, b.calls)
	assert.Equal(t, []int{0}, out.ClassIDs)

	out = s.Step(nil, Of(CommandResume))
	assert.Equal(t, StateReset, out.State)
	out = s.Step(nil, None)
	assert.Equal(t, StateInitialization, out.State)
	assert.Empty(t, out.ClassIDs)
}

func TestSession_PauseTogglesBack(t *testing.T) {
	s, _ := newTestSession(t, testConfig())
	toIdle(t, s)

	s.Step(nil, Of(CommandPause))
	out := s.Step(nil, Of(CommandPause))
	assert.Equal(t, StateReset, out.State)
}

func TestSession_IgnoredCommands(t *testing.T) {
	s, _ := newTestSession(t, testConfig())

	// Resume outside pause.
	out := s.Step(nil, Of(CommandResume))
	assert.Equal(t, StateInitialization, out.State)

	// Select-class during initialization.
	out = s.Step(features.Vector{0, 0}, SelectClass(0))
	assert.Equal(t, StateInitialization, out.State)
	s.Step(features.Vector{0, 0}, None)
	require.Equal(t, StateIdle, s.State())

	// Inference with nothing registered.
	out = s.Step(nil, Of(CommandStartInference))
	assert.Equal(t, StateIdle, out.State)

	register(t, s, 0, features.Vector{1, 0})
	s.Step(nil, Of(CommandStartInference))
	require.Equal(t, StateInference, s.State())

	// Select-class during inference.
	out = s.Step(features.Vector{1, 0}, SelectClass(1))
	assert.Equal(t, StateInference, out.State)
	assert.Equal(t, []int{0}, s.Store().RegisteredClassIDs())
}

func TestSession_Quit(t *testing.T) {
	s, _ := newTestSession(t, testConfig())
	toIdle(t, s)

	out := s.Step(nil, Of(CommandQuit))
	assert.True(t, out.Quit)
	assert.Equal(t, StateIdle, out.State)

	s.Step(nil, Of(CommandPause))
	out = s.Step(nil, Of(CommandQuit))
	assert.True(t, out.Quit)
	assert.Equal(t, StatePause, out.State)
}

func TestSession_KNNInference(t *testing.T) {
	cfg := testConfig()
	cfg.Classifier.Strategy = classify.StrategyKNN
	cfg.Classifier.Neighbors = 2
	s, _ := newTestSession(t, cfg)
	toIdle(t, s)
	register(t, s, 0, features.Vector{1, 0})
	register(t, s, 1, features.Vector{0, 1})

	s.Step(nil, Of(CommandStartInference))
	out := s.Step(features.Vector{0.1, 0.9}, None)
	assert.Equal(t, 1, out.Prediction)
	assert.InDeltaSlice(t, []float64{0, 1}, []float64(out.Probabilities), 1e-12)
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name  string
		class int
		want  Command
		err   bool
	}{
		{"select-class", 2, SelectClass(2), false},
		{"select-class", -1, None, true},
		{"start-inference", 0, Of(CommandStartInference), false},
		{"pause", 0, Of(CommandPause), false},
		{"resume", 0, Of(CommandResume), false},
		{"reset", 0, Of(CommandReset), false},
		{"quit", 0, Of(CommandQuit), false},
		{"dance", 0, None, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.name, tt.class)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCommand_Validate(t *testing.T) {
	assert.NoError(t, SelectClass(0).Validate(3))
	assert.NoError(t, SelectClass(2).Validate(3))
	assert.ErrorIs(t, SelectClass(3).Validate(3), ErrInvalidClass)
	assert.ErrorIs(t, SelectClass(20000000).Validate(3), ErrInvalidClass)
	assert.ErrorIs(t, SelectClass(-1).Validate(3), ErrInvalidClass)
	assert.NoError(t, Of(CommandReset).Validate(3))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "inference", StateInference.String())
	assert.Equal(t, "State(42)", State(42).String())

	text, err := StateError.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "error", string(text))
}

func TestState_UnmarshalText(t *testing.T) {
	var s State
	require.NoError(t, s.UnmarshalText([]byte("pause")))
	assert.Equal(t, StatePause, s)
	assert.Error(t, s.UnmarshalText([]byte("sleeping")))
}
