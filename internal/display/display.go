package display

import (
	"fmt"
	"image"
	"sync"

	"github.com/cyclopcam/logs"
	"gocv.io/x/gocv"

	"github.com/ayusman/fewshot/internal/app"
	"github.com/ayusman/fewshot/internal/session"
)

// Config holds configuration options for the display.
type Config struct {
	// Window shows the annotated frames on screen.
	Window     bool
	WindowName string

	// Scale resizes frames before annotation. Zero or one keeps the size.
	Scale float64

	// VideoPath, when set, records the annotated frames.
	VideoPath  string
	VideoCodec string
	VideoFPS   float64

	// MaxClasses bounds the digit keys that select a class.
	MaxClasses int
}

// DefaultConfig returns a window at native size and no recording.
func DefaultConfig() Config {
	return Config{
		Window:     true,
		WindowName: "fewshot",
		Scale:      1,
		VideoCodec: "MJPG",
		VideoFPS:   15,
		MaxClasses: session.DefaultConfig().MaxClasses,
	}
}

// Display is a sink that renders every update, and a command source that
// reads the keyboard of its window. Both must be used from the run loop
// goroutine, which on most platforms must be the main thread.
type Display struct {
	config Config
	log    logs.Log
	window *gocv.Window
	writer *gocv.VideoWriter
	mu     sync.Mutex
	closed bool
}

// New creates a display. The window is opened immediately; the video file
// on the first frame, once its size is known.
func New(cfg Config, log logs.Log) *Display {
	d := &Display{config: cfg, log: log}
	if cfg.Window {
		d.window = gocv.NewWindow(cfg.WindowName)
	}
	return d
}

// Publish renders u and sends it to the window and the recorder.
func (d *Display) Publish(u app.Update) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || (d.window == nil && d.config.VideoPath == "") {
		return nil
	}

	img := Render(u.Frame, u.Output, u.Timing.FPS, d.config.Scale)
	defer img.Close()

	if d.window != nil {
		d.window.IMShow(img)
	}
	if d.config.VideoPath != "" {
		if d.writer == nil {
			w, err := gocv.VideoWriterFile(d.config.VideoPath, d.config.VideoCodec, d.config.VideoFPS, img.Cols(), img.Rows(), true)
			if err != nil {
				path := d.config.VideoPath
				d.config.VideoPath = ""
				return fmt.Errorf("open video %s: %w", path, err)
			}
			d.writer = w
			d.log.Infof("Recording to %v (%vx%v, %v)", d.config.VideoPath, img.Cols(), img.Rows(), d.config.VideoCodec)
		}
		if err := d.writer.Write(img); err != nil {
			return fmt.Errorf("write video frame: %w", err)
		}
	}
	return nil
}

// Poll reads one key press from the window.
func (d *Display) Poll() session.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.window == nil || d.closed {
		return session.None
	}
	return KeyCommand(d.window.WaitKey(1), d.config.MaxClasses)
}

// Close releases the window and finishes the recording.
func (d *Display) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	var err error
	if d.writer != nil {
		err = d.writer.Close()
		d.writer = nil
	}
	if d.window != nil {
		if cerr := d.window.Close(); err == nil {
			err = cerr
		}
		d.window = nil
	}
	return err
}

// Render returns an annotated copy of frame, resized by scale.
func Render(frame *gocv.Mat, out session.Output, fps, scale float64) gocv.Mat {
	img := gocv.NewMat()
	if scale > 0 && scale != 1 {
		size := image.Pt(int(float64(frame.Cols())*scale), int(float64(frame.Rows())*scale))
		gocv.Resize(*frame, &img, size, 0, 0, gocv.InterpolationLinear)
	} else {
		frame.CopyTo(&img)
	}
	Draw(&img, out, fps)
	return img
}

// KeyCommand maps a key code returned by WaitKey to a command. Digits 1..n
// select classes 0..n-1.
func KeyCommand(key, maxClasses int) session.Command {
	if key < 0 {
		return session.None
	}
	key &= 0xff
	switch {
	case key >= '1' && key <= '9':
		id := key - '1'
		if id < maxClasses {
			return session.SelectClass(id)
		}
		return session.None
	case key == 'i':
		return session.Of(session.CommandStartInference)
	case key == 'p':
		return session.Of(session.CommandPause)
	case key == 'r':
		return session.Of(session.CommandReset)
	case key == 'q', key == 27:
		return session.Of(session.CommandQuit)
	}
	return session.None
}
