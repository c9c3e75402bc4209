// Package backbone turns camera frames into feature vectors.
package backbone

import (
	"errors"
	"fmt"
	"strings"

	"gocv.io/x/gocv"

	"github.com/ayusman/fewshot/internal/features"
)

var (
	// ErrUnknownKind is returned by Open for an unsupported backbone kind.
	ErrUnknownKind = errors.New("unknown backbone kind")

	// ErrEmptyFrame is returned when an extractor is handed an empty frame.
	ErrEmptyFrame = errors.New("empty frame")

	// ErrDimensionChanged is returned when a backbone produces a vector whose
	// length differs from the one it produced before.
	ErrDimensionChanged = errors.New("feature dimension changed")
)

// Extractor defines the interface for feature backbones.
type Extractor interface {
	// Extract runs the backbone on a frame and returns its feature vector.
	Extract(frame *gocv.Mat) (features.Vector, error)

	// Close releases any resources held by the backbone.
	Close() error
}

// Kind names a backbone implementation.
type Kind string

const (
	KindONNX    Kind = "onnx"
	KindProcess Kind = "process"
	KindColor   Kind = "color"
	KindMock    Kind = "mock"
)

// Config holds configuration options for the backbone.
type Config struct {
	// Kind selects the implementation.
	Kind Kind

	// ModelPath is the ONNX model used by KindONNX.
	ModelPath string

	// Command is the runtime started by KindProcess, split on whitespace.
	Command string

	// InputWidth and InputHeight are the network input size.
	InputWidth  int
	InputHeight int

	// Mean and Std normalize each RGB channel after scaling to [0,1].
	Mean [3]float64
	Std  [3]float64

	// SwapRB converts the camera's BGR frames to RGB before inference.
	SwapRB bool
}

// DefaultConfig returns the settings of a 32x32 CIFAR-style backbone with
// ImageNet normalization.
func DefaultConfig() Config {
	return Config{
		Kind:        KindONNX,
		ModelPath:   "models/backbone.onnx",
		InputWidth:  32,
		InputHeight: 32,
		Mean:        [3]float64{0.485, 0.456, 0.406},
		Std:         [3]float64{0.229, 0.224, 0.225},
		SwapRB:      true,
	}
}

// Validate checks the settings shared by every kind.
func (c Config) Validate() error {
	if c.InputWidth < 1 || c.InputHeight < 1 {
		return fmt.Errorf("backbone input size must be positive, got %dx%d", c.InputWidth, c.InputHeight)
	}
	for i, s := range c.Std {
		if s <= 0 {
			return fmt.Errorf("backbone std[%d] must be positive, got %v", i, s)
		}
	}
	switch c.Kind {
	case KindONNX:
		if c.ModelPath == "" {
			return errors.New("onnx backbone needs a model path")
		}
	case KindProcess:
		if len(strings.Fields(c.Command)) == 0 {
			return errors.New("process backbone needs a command")
		}
	case KindColor, KindMock:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, c.Kind)
	}
	return nil
}

// Open creates the extractor selected by cfg.Kind.
func Open(cfg Config) (Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case KindONNX:
		return NewONNX(cfg)
	case KindProcess:
		return NewProcess(cfg)
	case KindColor:
		return NewColorMean(cfg), nil
	case KindMock:
		return NewMock(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
}

// toVector widens a float32 network output.
func toVector(data []float32) features.Vector {
	v := make(features.Vector, len(data))
	for i, x := range data {
		v[i] = float64(x)
	}
	return v
}
