package capture

import (
	"errors"
	"testing"

	"gocv.io/x/gocv"
)

func TestMockCamera_Playback(t *testing.T) {
	frame1 := SolidFrame(64, 48, 255, 0, 0)
	defer frame1.Close()
	frame2 := SolidFrame(64, 48, 0, 0, 255)
	defer frame2.Close()

	cam := NewMockCamera([]*gocv.Mat{&frame1, &frame2}, false)

	if _, err := cam.ReadFrame(); !errors.Is(err, ErrCameraNotOpen) {
		t.Fatalf("ReadFrame() before Open error = %v, want ErrCameraNotOpen", err)
	}

	if err := cam.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer cam.Close()

	f1, err := cam.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if got := f1.Mean().Val1; got != 255 {
		t.Errorf("first frame blue mean = %v, want 255", got)
	}
	f1.Close()

	f2, err := cam.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if got := f2.Mean().Val3; got != 255 {
		t.Errorf("second frame red mean = %v, want 255", got)
	}
	f2.Close()

	if _, err = cam.ReadFrame(); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("ReadFrame() after last frame error = %v, want ErrEndOfStream", err)
	}
	if got := cam.Reads(); got != 2 {
		t.Errorf("Reads() = %d, want 2", got)
	}
}

func TestMockCamera_Loop(t *testing.T) {
	frame := SolidFrame(64, 48, 10, 20, 30)
	defer frame.Close()

	cam := NewMockCamera([]*gocv.Mat{&frame}, true)
	cam.Open()
	defer cam.Close()

	for i := 0; i < 5; i++ {
		f, err := cam.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame() iteration %d error = %v", i, err)
		}
		f.Close()
	}
}

func TestMockCamera_ReturnsClones(t *testing.T) {
	frame := SolidFrame(8, 8, 1, 2, 3)
	defer frame.Close()

	cam := NewMockCamera([]*gocv.Mat{&frame}, true)
	cam.Open()
	defer cam.Close()

	f, err := cam.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	f.SetTo(gocv.NewScalar(0, 0, 0, 0))
	f.Close()

	if got := frame.Mean().Val1; got != 1 {
		t.Errorf("source frame modified: blue mean = %v, want 1", got)
	}
}
