package backbone

import (
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/fewshot/internal/features"
)

// Mock is a test implementation of the Extractor interface.
// It allows tests to control the extracted vectors.
type Mock struct {
	mu      sync.Mutex
	vectors []features.Vector
	next    int
	err     error
	calls   int
}

// NewMock creates a new Mock instance.
func NewMock() *Mock {
	return &Mock{}
}

// SetVectors sets the vectors returned by Extract, in order. The last one
// repeats once the sequence is exhausted.
func (m *Mock) SetVectors(vs ...features.Vector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors = vs
	m.next = 0
}

// SetError sets the error that will be returned by Extract.
func (m *Mock) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Extract was called.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Extract returns the next pre-configured vector or error.
func (m *Mock) Extract(frame *gocv.Mat) (features.Vector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if len(m.vectors) == 0 {
		return features.Vector{0}, nil
	}
	v := m.vectors[m.next]
	if m.next < len(m.vectors)-1 {
		m.next++
	}
	return v.Clone(), nil
}

// Close is a no-op for the mock backbone.
func (m *Mock) Close() error {
	return nil
}

// ColorMean is a minimal backbone whose features are the mean of each
// channel, scaled to [0,1]. It needs no model and separates scenes by their
// dominant color, which is enough for demos and end-to-end tests.
type ColorMean struct {
	config Config
}

// NewColorMean creates a ColorMean backbone.
func NewColorMean(cfg Config) *ColorMean {
	return &ColorMean{config: cfg}
}

// Extract averages the channels of frame.
func (c *ColorMean) Extract(frame *gocv.Mat) (features.Vector, error) {
	if frame == nil || frame.Empty() {
		return nil, ErrEmptyFrame
	}
	m := frame.Mean()
	v := features.Vector{m.Val1 / 255, m.Val2 / 255, m.Val3 / 255}
	if c.config.SwapRB {
		v[0], v[2] = v[2], v[0]
	}
	return v, nil
}

// Close is a no-op.
func (c *ColorMean) Close() error {
	return nil
}
