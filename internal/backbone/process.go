package backbone

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/fewshot/internal/features"
)

// Process runs the backbone in an external runtime, for example the driver
// of an inference accelerator. Each frame is resized to the input size,
// encoded as JPEG and written as a 4-byte big-endian length followed by the
// data. The runtime answers with one JSON line:
//
//	{"features": [0.1, 0.2, ...]}
//	{"error": "..."}
//
// The runtime is started lazily on the first frame.
type Process struct {
	config  Config
	args    []string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	mu      sync.Mutex
	started bool
	dim     int
}

// NewProcess creates a process backbone. Nothing is started until the first
// call to Extract.
func NewProcess(cfg Config) (*Process, error) {
	args := strings.Fields(cfg.Command)
	if len(args) == 0 {
		return nil, errors.New("process backbone needs a command")
	}
	return &Process{config: cfg, args: args}, nil
}

// Extract sends one frame to the runtime and reads its feature vector.
func (p *Process) Extract(frame *gocv.Mat) (features.Vector, error) {
	if frame == nil || frame.Empty() {
		return nil, ErrEmptyFrame
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureStarted(); err != nil {
		return nil, err
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(*frame, &resized, image.Pt(p.config.InputWidth, p.config.InputHeight), 0, 0, gocv.InterpolationLinear)

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, resized)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	if err := writeFrame(p.stdin, buf.GetBytes()); err != nil {
		// A broken pipe means the runtime died; start it again next time.
		p.shutdown()
		return nil, err
	}

	v, err := readFeatures(p.stdout)
	if err != nil {
		var remote *RemoteError
		if !errors.As(err, &remote) {
			p.shutdown()
		}
		return nil, err
	}
	if p.dim != 0 && len(v) != p.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionChanged, len(v), p.dim)
	}
	p.dim = len(v)
	return v, nil
}

// Close shuts down the runtime.
func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shutdown()
}

func (p *Process) ensureStarted() error {
	if p.started {
		return nil
	}

	p.cmd = exec.Command(p.args[0], p.args[1:]...)

	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	p.cmd.Stderr = os.Stderr

	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("start backbone runtime: %w", err)
	}

	p.stdin = stdin
	p.stdout = bufio.NewReader(stdout)
	p.started = true
	return nil
}

func (p *Process) shutdown() error {
	if !p.started {
		return nil
	}
	if p.stdin != nil {
		p.stdin.Close()
	}
	err := p.cmd.Wait()
	p.started = false
	p.cmd = nil
	p.stdin = nil
	p.stdout = nil
	return err
}

// RemoteError is an error reported by the runtime for a single frame.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "backbone runtime: " + e.Message
}

func writeFrame(w io.Writer, data []byte) error {
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))

	if _, err := w.Write(length); err != nil {
		return fmt.Errorf("write length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	return nil
}

func readFeatures(r *bufio.Reader) (features.Vector, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var response struct {
		Features []float64 `json:"features"`
		Error    string    `json:"error"`
	}
	if err := json.Unmarshal([]byte(line), &response); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if response.Error != "" {
		return nil, &RemoteError{Message: response.Error}
	}
	if len(response.Features) == 0 {
		return nil, &RemoteError{Message: "empty feature vector"}
	}
	return features.Vector(response.Features), nil
}
