// Package app wires the camera, the backbone and the few-shot session into
// a frame loop, and fans each result out to the configured sinks.
package app

import (
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"gocv.io/x/gocv"

	"github.com/ayusman/fewshot/internal/backbone"
	"github.com/ayusman/fewshot/internal/capture"
	"github.com/ayusman/fewshot/internal/session"
)

// Config holds configuration options for the application.
type Config struct {
	Session session.Config

	// MaxFrames stops the loop after this many frames. Zero means no limit.
	MaxFrames int

	// TimingEvery logs the timing table every N frames. Zero disables it.
	TimingEvery int

	// ReadRetryDelay is the pause after a failed camera read.
	ReadRetryDelay time.Duration
}

// DefaultConfig returns an unbounded loop with the default session.
func DefaultConfig() Config {
	return Config{
		Session:        session.DefaultConfig(),
		ReadRetryDelay: 20 * time.Millisecond,
	}
}

// App is the main application that drives the session from camera frames.
type App struct {
	config    Config
	log       logs.Log
	camera    capture.Camera
	extractor backbone.Extractor
	session   *session.Session[*gocv.Mat]
	mailbox   *Mailbox
	timer     *Timer
	sources   Sources
	sinks     []Sink

	mu     sync.RWMutex
	status session.Output
}

// New creates an App. The camera is opened by Run; the extractor is owned
// by the caller.
func New(config Config, camera capture.Camera, extractor backbone.Extractor, log logs.Log) (*App, error) {
	s, err := session.New[*gocv.Mat](config.Session, extractor, log)
	if err != nil {
		return nil, err
	}
	a := &App{
		config:    config,
		log:       log,
		camera:    camera,
		extractor: extractor,
		session:   s,
		mailbox:   &Mailbox{},
		timer:     NewTimer(),
		status:    session.Output{State: s.State(), Prediction: -1, TargetClass: -1},
	}
	s.OnTransition = a.recordTransition
	return a, nil
}

// Mailbox returns the slot that asynchronous command sources post into.
func (a *App) Mailbox() *Mailbox {
	return a.mailbox
}

// AddSource registers a command source. Sources are polled in the order they
// were added, before the mailbox.
func (a *App) AddSource(src CommandSource) {
	a.sources = append(a.sources, src)
}

// AddSink registers a sink.
func (a *App) AddSink(s Sink) {
	a.sinks = append(a.sinks, s)
}

// Status returns the output of the last processed frame.
func (a *App) Status() session.Output {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

// Timing returns the current timing averages.
func (a *App) Timing() Timing {
	return a.timer.Snapshot()
}

// Session exposes the underlying session. It must only be touched from the
// goroutine running Run.
func (a *App) Session() *session.Session[*gocv.Mat] {
	return a.session
}

func (a *App) setStatus(out session.Output) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = out
}

func (a *App) recordTransition(tr session.Transition) {
	for _, s := range a.sinks {
		if r, ok := s.(TransitionRecorder); ok {
			r.RecordTransition(tr)
		}
	}
}
