package backbone

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/fewshot/internal/features"
)

// ONNX runs an ONNX feature network through the OpenCV DNN module. The
// flattened output of the default output layer is the feature vector.
type ONNX struct {
	config Config
	net    gocv.Net
	mu     sync.Mutex
	dim    int
}

// NewONNX loads the model at cfg.ModelPath.
func NewONNX(cfg Config) (*ONNX, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load backbone model from %s", cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &ONNX{config: cfg, net: net}, nil
}

// Extract runs one forward pass.
func (o *ONNX) Extract(frame *gocv.Mat) (features.Vector, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	input, err := Preprocess(frame, o.config)
	defer input.Close()
	if err != nil {
		return nil, err
	}

	// Preprocess already normalized and swapped channels.
	blob := gocv.BlobFromImage(input, 1.0, image.Pt(o.config.InputWidth, o.config.InputHeight), gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	o.net.SetInput(blob, "")
	output := o.net.Forward("")
	defer output.Close()

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read backbone output: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("backbone produced no output")
	}
	if o.dim != 0 && len(data) != o.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionChanged, len(data), o.dim)
	}
	o.dim = len(data)

	return toVector(data), nil
}

// Close releases the network.
func (o *ONNX) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.net.Close()
}
