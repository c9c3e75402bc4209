package display

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/ayusman/fewshot/internal/app"
	"github.com/ayusman/fewshot/internal/classify"
	"github.com/ayusman/fewshot/internal/session"
)

func TestKeyCommand(t *testing.T) {
	tests := []struct {
		name string
		key  int
		want session.Command
	}{
		{"no key", -1, session.None},
		{"first class", '1', session.SelectClass(0)},
		{"last class", '4', session.SelectClass(3)},
		{"beyond max classes", '5', session.None},
		{"inference", 'i', session.Of(session.CommandStartInference)},
		{"pause", 'p', session.Of(session.CommandPause)},
		{"reset", 'r', session.Of(session.CommandReset)},
		{"quit", 'q', session.Of(session.CommandQuit)},
		{"escape", 27, session.Of(session.CommandQuit)},
		{"high bits ignored", 0x100000 | 'i', session.Of(session.CommandStartInference)},
		{"unmapped", 'x', session.None},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KeyCommand(tt.key, 4))
		})
	}
}

func TestHeadline(t *testing.T) {
	tests := []struct {
		name string
		out  session.Output
		want []string
	}{
		{"reset", session.Output{State: session.StateReset}, []string{"Reset"}},
		{"initialization", session.Output{State: session.StateInitialization}, []string{"Initialization"}},
		{
			"registration",
			session.Output{State: session.StateRegistration, TargetClass: 2, Shots: map[int]int{2: 3}},
			[]string{"Class 2 registered", "Number of shots : 3"},
		},
		{"inference", session.Output{State: session.StateInference, Prediction: 1}, []string{"Object is from class : 1"}},
		{"inference warming up", session.Output{State: session.StateInference, Prediction: -1}, []string{"Inference"}},
		{
			"empty class error",
			session.Output{State: session.StateError, ClassIDs: []int{0, 2}, EmptyClasses: []int{1}},
			[]string{"Class(es) [1] out of 3 empty", "Please do a reset"},
		},
		{"idle", session.Output{State: session.StateIdle}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Headline(tt.out))
		})
	}
}

func TestBarRects(t *testing.T) {
	rects := BarRects(400, 200, []float64{0.25, 1, -1})
	require.Len(t, rects, 3)

	assert.Equal(t, 25, rects[0].Dx())
	assert.Equal(t, 100, rects[1].Dx())
	assert.Equal(t, 0, rects[2].Dx())
	for _, r := range rects {
		assert.Equal(t, 390, r.Max.X)
	}
	assert.Less(t, rects[0].Max.Y, rects[1].Min.Y+1)

	assert.Nil(t, BarRects(400, 200, nil))
}

func TestRender(t *testing.T) {
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(90, 90, 90, 0), 120, 160, gocv.MatTypeCV8UC3)
	defer frame.Close()

	out := session.Output{
		Frame:         7,
		State:         session.StateInference,
		ClassIDs:      []int{0, 1},
		Probabilities: classify.Distribution{0.8, 0.2},
		Prediction:    0,
	}
	img := Render(&frame, out, 12.5, 2)
	defer img.Close()

	assert.Equal(t, 320, img.Cols())
	assert.Equal(t, 240, img.Rows())
	assert.Equal(t, 90.0, frame.Mean().Val1, "source frame must be untouched")
	assert.NotEqual(t, 90.0, img.Mean().Val1)

	out.State = session.StatePause
	paused := Render(&frame, out, 0, 1)
	defer paused.Close()
	assert.Equal(t, 160, paused.Cols())
	assert.Less(t, paused.Mean().Val1, 90.0)
}

func TestDisplay_RecordsVideo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.avi")

	cfg := DefaultConfig()
	cfg.Window = false
	cfg.VideoPath = path
	d := New(cfg, logs.NewTestingLog(t))

	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(10, 20, 30, 0), 120, 160, gocv.MatTypeCV8UC3)
	defer frame.Close()

	for i := 1; i <= 3; i++ {
		err := d.Publish(app.Update{Frame: &frame, Output: session.Output{Frame: uint64(i), State: session.StateIdle}})
		if err != nil {
			t.Skipf("video backend unavailable: %v", err)
		}
	}
	require.NoError(t, d.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	assert.True(t, d.Poll().IsNone())
	assert.NoError(t, d.Publish(app.Update{Frame: &frame}))
}
