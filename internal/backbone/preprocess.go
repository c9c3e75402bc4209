package backbone

import (
	"image"

	"gocv.io/x/gocv"
)

// Preprocess resizes frame to the network input size and normalizes it into
// a CV_32FC3 Mat: channels optionally swapped to RGB, scaled to [0,1], then
// (x-mean)/std per channel. The caller owns the returned Mat.
func Preprocess(frame *gocv.Mat, cfg Config) (gocv.Mat, error) {
	if frame == nil || frame.Empty() {
		return gocv.NewMat(), ErrEmptyFrame
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(*frame, &resized, image.Pt(cfg.InputWidth, cfg.InputHeight), 0, 0, gocv.InterpolationLinear)

	if cfg.SwapRB {
		gocv.CvtColor(resized, &resized, gocv.ColorBGRToRGB)
	}

	scaled := gocv.NewMat()
	defer scaled.Close()
	resized.ConvertToWithParams(&scaled, gocv.MatTypeCV32FC3, 1.0/255.0, 0)

	channels := gocv.Split(scaled)
	defer func() {
		for _, ch := range channels {
			ch.Close()
		}
	}()
	for i := range channels {
		if i >= 3 {
			break
		}
		channels[i].SubtractFloat(float32(cfg.Mean[i]))
		channels[i].DivideFloat(float32(cfg.Std[i]))
	}

	out := gocv.NewMat()
	gocv.Merge(channels, &out)
	return out, nil
}
