package plugin

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/fewshot/internal/app"
	"github.com/ayusman/fewshot/internal/session"
)

func inference(frame uint64, prediction int) app.Update {
	return app.Update{Output: session.Output{
		Frame:         frame,
		State:         session.StateInference,
		ClassIDs:      []int{0, 1},
		Probabilities: []float64{0.3, 0.7},
		Prediction:    prediction,
	}}
}

func TestDispatcher(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	logPath := filepath.Join(t.TempDir(), "events.log")

	// The plugin appends every request to a log file.
	script := `cat >> "` + logPath + `"; echo >> "` + logPath + `"; echo '{"success":true}'`
	writePlugin(t, dir, Manifest{Name: "recorder", Events: []string{EventPrediction, EventTransition}}, script)
	writePlugin(t, dir, Manifest{Name: "failing", Events: []string{EventPrediction}}, `echo '{"success":false,"error":"nope"}'`)

	m := NewManager(dir, logs.NewTestingLog(t))
	require.NoError(t, m.Discover())
	d := NewDispatcher(m, NewExecutor(time.Second), 0, logs.NewTestingLog(t))

	var _ app.Sink = d
	var _ app.TransitionRecorder = d

	d.RecordTransition(session.Transition{Frame: 5, From: session.StateIdle, To: session.StateInference})
	require.NoError(t, d.Publish(inference(6, 1)))
	require.NoError(t, d.Publish(inference(7, 1))) // unchanged
	require.NoError(t, d.Publish(inference(8, 0)))
	require.NoError(t, d.Publish(app.Update{Output: session.Output{Frame: 9, State: session.StatePause, Prediction: -1}}))
	require.NoError(t, d.Publish(inference(10, 0))) // new after leaving inference
	d.RecordTransition(session.Transition{Frame: 11, From: session.StateIdle, To: session.StateError, Err: errors.New("classes [1] have no shot")})

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	d.RecordTransition(session.Transition{Frame: 12}) // ignored after close

	lines := readLines(t, logPath)
	require.Len(t, lines, 5)

	var reqs []Request
	for _, line := range lines {
		var req Request
		require.NoError(t, json.Unmarshal([]byte(line), &req))
		reqs = append(reqs, req)
	}

	assert.Equal(t, EventTransition, reqs[0].Event)
	assert.Equal(t, "idle", reqs[0].From)
	assert.Equal(t, "inference", reqs[0].State)

	assert.Equal(t, EventPrediction, reqs[1].Event)
	require.NotNil(t, reqs[1].Class)
	assert.Equal(t, 1, *reqs[1].Class)
	assert.Equal(t, 0.7, reqs[1].Probability)
	assert.Equal(t, uint64(6), reqs[1].Frame)

	assert.Equal(t, 0, *reqs[2].Class)
	assert.Equal(t, 0.3, reqs[2].Probability)
	assert.Equal(t, uint64(10), reqs[3].Frame)

	assert.Equal(t, "error", reqs[4].State)
	assert.Equal(t, "classes [1] have no shot", reqs[4].Error)
	assert.Zero(t, d.Dropped())
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	writePlugin(t, dir, Manifest{Name: "slow", Events: []string{EventTransition}}, `sleep 0.2; echo '{"success":true}'`)

	m := NewManager(dir, logs.NewTestingLog(t))
	require.NoError(t, m.Discover())
	d := NewDispatcher(m, NewExecutor(time.Second), 1, logs.NewTestingLog(t))

	for i := 0; i < 5; i++ {
		d.RecordTransition(session.Transition{Frame: uint64(i)})
	}
	assert.GreaterOrEqual(t, d.Dropped(), 3)
	require.NoError(t, d.Close())
}
