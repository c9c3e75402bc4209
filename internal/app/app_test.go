package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/ayusman/fewshot/internal/backbone"
	"github.com/ayusman/fewshot/internal/capture"
	"github.com/ayusman/fewshot/internal/session"
)

type recorder struct {
	outputs     []session.Output
	transitions []session.Transition
}

func (r *recorder) Publish(u Update) error {
	if u.Frame == nil || u.Frame.Empty() {
		return errors.New("no frame")
	}
	r.outputs = append(r.outputs, u.Output)
	return nil
}

func (r *recorder) RecordTransition(tr session.Transition) {
	r.transitions = append(r.transitions, tr)
}

// scriptedSource returns commands keyed by the 1-based poll count.
func scriptedSource(script map[int]session.Command) CommandSource {
	n := 0
	return SourceFunc(func() session.Command {
		n++
		return script[n]
	})
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Session.MaxClasses = 2
	cfg.Session.InitFrames = 2
	cfg.Session.ShotsPerClass = 2
	cfg.Session.Alpha = 1
	cfg.ReadRetryDelay = time.Millisecond
	return cfg
}

func colorBackbone() backbone.Extractor {
	cfg := backbone.DefaultConfig()
	cfg.Kind = backbone.KindColor
	return backbone.NewColorMean(cfg)
}

func TestApp_RunFullLifecycle(t *testing.T) {
	gray := capture.SolidFrame(32, 24, 128, 128, 128)
	defer gray.Close()
	red := capture.SolidFrame(32, 24, 0, 0, 255)
	defer red.Close()
	blue := capture.SolidFrame(32, 24, 255, 0, 0)
	defer blue.Close()

	frames := []*gocv.Mat{
		// reset, two background frames
		&gray, &gray, &gray,
		// select 0, two shots
		&gray, &red, &red,
		// select 1, two shots
		&gray, &blue, &blue,
		// start inference, two predictions
		&gray, &red, &blue,
		// quit, never read
		&gray, &gray,
	}
	cam := capture.NewMockCamera(frames, false)

	a, err := New(testConfig(), cam, colorBackbone(), logs.NewTestingLog(t))
	require.NoError(t, err)

	rec := &recorder{}
	a.AddSink(rec)
	a.AddSource(scriptedSource(map[int]session.Command{
		4:  session.SelectClass(0),
		7:  session.SelectClass(1),
		10: session.Of(session.CommandStartInference),
		13: session.Of(session.CommandQuit),
	}))

	require.NoError(t, a.Run(context.Background()))

	require.Len(t, rec.outputs, 13)
	assert.Equal(t, 13, cam.Reads())
	assert.False(t, cam.IsOpen())

	assert.Equal(t, session.StateIdle, rec.outputs[2].State)
	assert.Equal(t, session.StateInference, rec.outputs[9].State)

	assert.Equal(t, 0, rec.outputs[10].Prediction)
	assert.Equal(t, 1, rec.outputs[11].Prediction)
	assert.Equal(t, []int{0, 1}, rec.outputs[11].ClassIDs)

	last := rec.outputs[12]
	assert.True(t, last.Quit)
	assert.Equal(t, last, a.Status())

	var states []session.State
	for _, tr := range rec.transitions {
		states = append(states, tr.To)
	}
	assert.Equal(t, []session.State{
		session.StateInitialization,
		session.StateIdle,
		session.StateRegistration,
		session.StateIdle,
		session.StateRegistration,
		session.StateIdle,
		session.StateInference,
	}, states)

	timing := a.Timing()
	assert.Equal(t, uint64(13), timing.Frames)
	assert.Contains(t, timing.Stages, StageBackbone)
	assert.Contains(t, timing.Stages, StageRead)
}

func TestApp_MaxFrames(t *testing.T) {
	gray := capture.SolidFrame(16, 16, 100, 100, 100)
	defer gray.Close()
	cam := capture.NewMockCamera([]*gocv.Mat{&gray}, true)

	cfg := testConfig()
	cfg.MaxFrames = 5
	a, err := New(cfg, cam, colorBackbone(), logs.NewTestingLog(t))
	require.NoError(t, err)

	require.NoError(t, a.Run(context.Background()))
	assert.Equal(t, 5, cam.Reads())
	assert.Equal(t, uint64(5), a.Status().Frame)
}

func TestApp_MailboxCommands(t *testing.T) {
	gray := capture.SolidFrame(16, 16, 100, 100, 100)
	defer gray.Close()
	cam := capture.NewMockCamera([]*gocv.Mat{&gray}, true)

	cfg := testConfig()
	cfg.MaxFrames = 4
	a, err := New(cfg, cam, colorBackbone(), logs.NewTestingLog(t))
	require.NoError(t, err)

	a.Mailbox().Post(session.Of(session.CommandPause))
	require.NoError(t, a.Run(context.Background()))
	assert.Equal(t, session.StatePause, a.Status().State)
}

// flakyCamera fails every other read.
type flakyCamera struct {
	*capture.MockCamera
	mu    sync.Mutex
	calls int
}

func (c *flakyCamera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	c.calls++
	fail := c.calls%2 == 1
	c.mu.Unlock()
	if fail {
		return nil, errors.New("usb hiccup")
	}
	return c.MockCamera.ReadFrame()
}

func TestApp_ReadFailuresAreRetried(t *testing.T) {
	gray := capture.SolidFrame(16, 16, 100, 100, 100)
	defer gray.Close()
	cam := &flakyCamera{MockCamera: capture.NewMockCamera([]*gocv.Mat{&gray}, true)}

	cfg := testConfig()
	cfg.MaxFrames = 3
	a, err := New(cfg, cam, colorBackbone(), logs.NewTestingLog(t))
	require.NoError(t, err)

	// The command survives the failed read that follows its poll.
	a.AddSource(scriptedSource(map[int]session.Command{1: session.Of(session.CommandPause)}))

	require.NoError(t, a.Run(context.Background()))
	assert.Equal(t, 6, cam.calls)
	assert.Equal(t, session.StatePause, a.Status().State)
}

func TestApp_ContextCancel(t *testing.T) {
	gray := capture.SolidFrame(16, 16, 100, 100, 100)
	defer gray.Close()
	cam := capture.NewMockCamera([]*gocv.Mat{&gray}, true)

	a, err := New(testConfig(), cam, colorBackbone(), logs.NewTestingLog(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	a.AddSink(SinkFunc(func(u Update) error {
		if u.Output.Frame == 3 {
			cancel()
		}
		return nil
	}))

	require.NoError(t, a.Run(ctx))
	assert.Equal(t, uint64(3), a.Status().Frame)
}

func TestApp_SinkErrorsDoNotStopLoop(t *testing.T) {
	gray := capture.SolidFrame(16, 16, 100, 100, 100)
	defer gray.Close()
	cam := capture.NewMockCamera([]*gocv.Mat{&gray}, true)

	cfg := testConfig()
	cfg.MaxFrames = 3
	a, err := New(cfg, cam, colorBackbone(), logs.NewTestingLog(t))
	require.NoError(t, err)
	a.AddSink(SinkFunc(func(Update) error { return errors.New("disk full") }))

	require.NoError(t, a.Run(context.Background()))
	assert.Equal(t, 3, cam.Reads())
}

func TestNew_InvalidSession(t *testing.T) {
	cfg := testConfig()
	cfg.Session.InitFrames = 0
	_, err := New(cfg, capture.NewMockCamera(nil, false), colorBackbone(), logs.NewTestingLog(t))
	assert.Error(t, err)
}
