package server

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/cyclopcam/logs"
	"gocv.io/x/gocv"

	"github.com/ayusman/fewshot/internal/app"
	"github.com/ayusman/fewshot/internal/display"
)

// StreamHandler serves the annotated frames as MJPEG. It is fed by the frame
// loop through Publish and only encodes while someone is watching, which
// makes it the display of a headless run.
type StreamHandler struct {
	scale float64
	log   logs.Log

	watchers atomic.Int32

	mu     sync.Mutex
	jpeg   []byte
	notify chan struct{}
	closed bool
}

// NewStreamHandler creates a StreamHandler that renders at scale.
func NewStreamHandler(scale float64, log logs.Log) *StreamHandler {
	if scale <= 0 {
		scale = 1
	}
	return &StreamHandler{scale: scale, log: log, notify: make(chan struct{})}
}

// Publish renders the frame with its overlay and wakes every viewer.
func (h *StreamHandler) Publish(u app.Update) error {
	if u.Frame == nil || u.Frame.Empty() || h.watchers.Load() == 0 {
		return nil
	}

	img := display.Render(u.Frame, u.Output, u.Timing.FPS, h.scale)
	defer img.Close()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return fmt.Errorf("encode stream frame: %w", err)
	}
	jpeg := append([]byte(nil), buf.GetBytes()...)
	buf.Close()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.jpeg = jpeg
	close(h.notify)
	h.notify = make(chan struct{})
	return nil
}

// Close ends every open stream.
func (h *StreamHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.notify)
}

// Watchers returns the number of connected viewers.
func (h *StreamHandler) Watchers() int {
	return int(h.watchers.Load())
}

func (h *StreamHandler) next() (<-chan struct{}, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.notify, h.closed
}

func (h *StreamHandler) latest() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.jpeg
}

// ServeHTTP streams one JPEG part per published frame until the client
// leaves or the handler is closed.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.watchers.Add(1)
	defer h.watchers.Add(-1)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	for {
		wait, closed := h.next()
		if closed {
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-wait:
		}

		jpeg := h.latest()
		if jpeg == nil {
			continue
		}
		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(jpeg))
		if _, err := w.Write(jpeg); err != nil {
			h.log.Debugf("Stream client gone: %v", err)
			return
		}
		fmt.Fprintf(w, "\r\n")
		if flusher != nil {
			flusher.Flush()
		}
	}
}
