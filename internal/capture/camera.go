// Package capture provides frame acquisition using GoCV (OpenCV).
package capture

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"gocv.io/x/gocv"
)

// Default camera settings
const (
	DefaultFPS    = 30
	DefaultWidth  = 640
	DefaultHeight = 480
)

var (
	// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
	ErrCameraNotOpen = errors.New("camera is not open")

	// ErrEndOfStream is returned once a finite source has no frames left.
	ErrEndOfStream = errors.New("end of stream")
)

// Camera defines the interface for frame sources.
type Camera interface {
	Open() error
	Close() error
	ReadFrame() (*gocv.Mat, error)
	SetFPS(fps int)
	FPS() int
	IsOpen() bool
}

// Config selects and sizes a frame source.
type Config struct {
	// Spec is a device index ("0") or the path of a video file.
	Spec   string
	Width  int
	Height int
	FPS    int
}

// DefaultConfig opens the first camera at 640x480.
func DefaultConfig() Config {
	return Config{
		Spec:   "0",
		Width:  DefaultWidth,
		Height: DefaultHeight,
		FPS:    DefaultFPS,
	}
}

// DeviceID returns the device index named by Spec, if it is one.
func (c Config) DeviceID() (int, bool) {
	id, err := strconv.Atoi(c.Spec)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

// cameraImpl manages video capture from a device or a file using GoCV.
type cameraImpl struct {
	config  Config
	capture *gocv.VideoCapture
	mu      sync.Mutex
	running bool
	isFile  bool
}

// NewCamera creates a Camera for cfg. Nothing is opened until Open.
func NewCamera(cfg Config) Camera {
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFPS
	}
	return &cameraImpl{config: cfg}
}

// Open opens the device or file. The requested resolution only applies to
// devices; files play at their native size.
func (c *cameraImpl) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	var (
		capture *gocv.VideoCapture
		err     error
	)
	if id, ok := c.config.DeviceID(); ok {
		capture, err = gocv.OpenVideoCapture(id)
	} else {
		capture, err = gocv.VideoCaptureFile(c.config.Spec)
		c.isFile = true
	}
	if err != nil {
		return fmt.Errorf("open camera %q: %w", c.config.Spec, err)
	}

	if !c.isFile {
		if c.config.Width > 0 && c.config.Height > 0 {
			capture.Set(gocv.VideoCaptureFrameWidth, float64(c.config.Width))
			capture.Set(gocv.VideoCaptureFrameHeight, float64(c.config.Height))
		}
		capture.Set(gocv.VideoCaptureFPS, float64(c.config.FPS))
	}

	c.capture = capture
	c.running = true

	return nil
}

// Close closes the camera and releases resources.
func (c *cameraImpl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		c.running = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.running = false

	return err
}

// ReadFrame reads a single frame.
// The caller is responsible for closing the returned Mat.
func (c *cameraImpl) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok {
		mat.Close()
		if c.isFile {
			return nil, ErrEndOfStream
		}
		return nil, errors.New("failed to read frame from camera")
	}

	if mat.Empty() {
		mat.Close()
		if c.isFile {
			return nil, ErrEndOfStream
		}
		return nil, errors.New("captured frame is empty")
	}

	return &mat, nil
}

// SetFPS sets the frames per second for capture.
// Values less than or equal to 0 are ignored.
func (c *cameraImpl) SetFPS(fps int) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.config.FPS = fps

	if c.capture != nil && !c.isFile {
		c.capture.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

// FPS returns the current frames per second setting.
func (c *cameraImpl) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.config.FPS
}

// IsOpen returns true if the camera is currently open and running.
func (c *cameraImpl) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}
