package journal

import (
	"sync"

	"github.com/cyclopcam/logs"

	"github.com/ayusman/fewshot/internal/app"
	"github.com/ayusman/fewshot/internal/session"
)

// DefaultTimingEvery is the default number of frames between timing samples.
const DefaultTimingEvery = 30

// Recorder writes the current run to the journal. It is an app.Sink and an
// app.TransitionRecorder.
type Recorder struct {
	runs   *RunRepository
	run    *Run
	log    logs.Log
	every  int
	mu     sync.Mutex
	frames uint64
	state  session.State
	closed bool
}

// NewRecorder starts a run. Timing is sampled every timingEvery frames
// (DefaultTimingEvery when zero).
func NewRecorder(j *Journal, config any, timingEvery int, log logs.Log) (*Recorder, error) {
	run, err := j.Runs().Start(config)
	if err != nil {
		return nil, err
	}
	if timingEvery <= 0 {
		timingEvery = DefaultTimingEvery
	}
	log.Infof("Journal run %v in %v", run.ID, j.Path())
	return &Recorder{runs: j.Runs(), run: run, log: log, every: timingEvery}, nil
}

// RunID returns the id of the run being recorded.
func (r *Recorder) RunID() string {
	return r.run.ID
}

// Publish samples the timing every few frames.
func (r *Recorder) Publish(u app.Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.frames = u.Output.Frame
	r.state = u.Output.State
	if u.Output.Frame%uint64(r.every) != 0 {
		return nil
	}
	return r.runs.AddTiming(r.run.ID, Timing{
		Frame:  u.Output.Frame,
		State:  u.Output.State.String(),
		FPS:    u.Timing.FPS,
		Stages: u.Timing.Stages,
	})
}

// RecordTransition stores a state change.
func (r *Recorder) RecordTransition(tr session.Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	t := Transition{
		Frame:  tr.Frame,
		From:   tr.From.String(),
		To:     tr.To.String(),
		Reason: tr.Reason,
	}
	if tr.To == session.StateError && tr.Err != nil {
		t.Error = tr.Err.Error()
	}
	if err := r.runs.AddTransition(r.run.ID, t); err != nil {
		r.log.Warnf("Journal: failed to record transition at frame %v: %v", tr.Frame, err)
	}
}

// Close ends the run.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.runs.End(r.run.ID, r.frames, r.state.String())
}
