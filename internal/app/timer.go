package app

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Pipeline stages measured by the run loop.
const (
	StageRead     = "read"
	StageBackbone = "backbone"
	StageStep     = "step"
	StagePublish  = "publish"
)

// Timing is a snapshot of the smoothed per-stage durations.
type Timing struct {
	Stages map[string]time.Duration `json:"stages"`
	FPS    float64                  `json:"fps"`
	Frames uint64                   `json:"frames"`
}

// Timer keeps an exponential moving average of each stage duration and of
// the frame interval. Each sample moves the average by 1/64.
type Timer struct {
	mu     sync.Mutex
	stages map[string]int64
	period int64
	last   time.Time
	frames uint64
	now    func() time.Time
}

// NewTimer creates an empty timer.
func NewTimer() *Timer {
	return &Timer{stages: make(map[string]int64), now: time.Now}
}

func ewma(avg *int64, sample int64) {
	if *avg == 0 {
		*avg = sample
	} else {
		*avg = (*avg*63 + sample) >> 6
	}
}

// Record adds one sample for stage.
func (t *Timer) Record(stage string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v := t.stages[stage]
	ewma(&v, int64(d))
	t.stages[stage] = v
}

// Since records the time elapsed since start for stage and returns the
// current time, so consecutive stages can be chained.
func (t *Timer) Since(stage string, start time.Time) time.Time {
	now := t.now()
	t.Record(stage, now.Sub(start))
	return now
}

// Tick marks the end of a frame and updates the frame rate.
func (t *Timer) Tick() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if !t.last.IsZero() {
		ewma(&t.period, int64(now.Sub(t.last)))
	}
	t.last = now
	t.frames++
}

// Snapshot returns the current averages.
func (t *Timer) Snapshot() Timing {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Timing{Stages: make(map[string]time.Duration, len(t.stages)), Frames: t.frames}
	for k, v := range t.stages {
		s.Stages[k] = time.Duration(v)
	}
	if t.period > 0 {
		s.FPS = float64(time.Second) / float64(t.period)
	}
	return s
}

// String formats the timing as a one-line table, stages sorted by name.
func (s Timing) String() string {
	names := make([]string, 0, len(s.Stages))
	for k := range s.Stages {
		names = append(names, k)
	}
	sort.Strings(names)

	b := &strings.Builder{}
	fmt.Fprintf(b, "%.1f fps", s.FPS)
	for _, k := range names {
		fmt.Fprintf(b, ", %s %.2f ms", k, float64(s.Stages[k])/float64(time.Millisecond))
	}
	return b.String()
}
