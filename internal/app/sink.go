package app

import (
	"gocv.io/x/gocv"

	"github.com/ayusman/fewshot/internal/session"
)

// Update is what the run loop publishes after every frame. Frame is only
// valid for the duration of Publish.
type Update struct {
	Frame  *gocv.Mat
	Output session.Output
	Timing Timing
}

// Sink consumes per-frame updates on the run loop goroutine.
type Sink interface {
	Publish(u Update) error
}

// TransitionRecorder is implemented by sinks that want state changes as
// they happen.
type TransitionRecorder interface {
	RecordTransition(tr session.Transition)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(u Update) error

func (f SinkFunc) Publish(u Update) error {
	return f(u)
}
