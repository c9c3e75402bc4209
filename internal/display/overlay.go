// Package display renders session results onto frames, shows them in a
// window, records them to video and turns key presses into commands.
package display

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/ayusman/fewshot/internal/session"
)

var (
	headbandColor = color.RGBA{R: 0, G: 0, B: 0, A: 0}
	textColor     = color.RGBA{R: 255, G: 255, B: 255, A: 0}
	barColor      = color.RGBA{R: 0, G: 200, B: 0, A: 0}
	topBarColor   = color.RGBA{R: 0, G: 140, B: 255, A: 0}
	errorColor    = color.RGBA{R: 0, G: 0, B: 220, A: 0}
)

const (
	font      = gocv.FontHersheySimplex
	lineH     = 28
	fontScale = 0.7
)

// Headline returns the text lines shown at the top of the frame.
func Headline(out session.Output) []string {
	switch out.State {
	case session.StateReset:
		return []string{"Reset"}
	case session.StateInitialization:
		return []string{"Initialization"}
	case session.StateRegistration:
		return []string{
			fmt.Sprintf("Class %d registered", out.TargetClass),
			fmt.Sprintf("Number of shots : %d", out.Shots[out.TargetClass]),
		}
	case session.StateInference:
		if out.Prediction < 0 {
			return []string{"Inference"}
		}
		return []string{fmt.Sprintf("Object is from class : %d", out.Prediction)}
	case session.StatePause:
		return []string{"Pause"}
	case session.StateError:
		if len(out.EmptyClasses) > 0 {
			return []string{
				fmt.Sprintf("Class(es) %v out of %d empty", out.EmptyClasses, len(out.EmptyClasses)+len(out.ClassIDs)),
				"Please do a reset",
			}
		}
		return []string{"Error", "Please do a reset"}
	}
	return nil
}

// Draw annotates img in place: headband text, probability bars during
// inference and a footer with the frame counter and frame rate.
func Draw(img *gocv.Mat, out session.Output, fps float64) {
	if out.State == session.StatePause {
		img.SetTo(gocv.NewScalar(0, 0, 0, 0))
	}

	lines := Headline(out)
	if len(lines) > 0 {
		band := image.Rect(0, 0, img.Cols(), 10+lineH*len(lines))
		c := headbandColor
		if out.State == session.StateError {
			c = errorColor
		}
		gocv.Rectangle(img, band, c, -1)
		for i, l := range lines {
			gocv.PutText(img, l, image.Pt(10, lineH*(i+1)), font, fontScale, textColor, 2)
		}
	}

	if out.State == session.StateInference && len(out.Probabilities) == len(out.ClassIDs) {
		drawBars(img, out)
	}

	footer := fmt.Sprintf("frame %d  %.1f fps", out.Frame, fps)
	gocv.PutText(img, footer, image.Pt(10, img.Rows()-10), font, 0.5, textColor, 1)
}

// BarRects returns one rectangle per class, laid out along the right edge,
// with lengths proportional to the class probabilities.
func BarRects(width, height int, probs []float64) []image.Rectangle {
	if len(probs) == 0 {
		return nil
	}
	maxLen := width / 4
	top := height / 4
	slot := (height / 2) / len(probs)
	thick := slot * 2 / 3
	if thick < 1 {
		thick = 1
	}

	rects := make([]image.Rectangle, len(probs))
	for i, p := range probs {
		if p < 0 {
			p = 0
		} else if p > 1 {
			p = 1
		}
		l := int(p * float64(maxLen))
		y := top + i*slot
		rects[i] = image.Rect(width-10-l, y, width-10, y+thick)
	}
	return rects
}

func drawBars(img *gocv.Mat, out session.Output) {
	rects := BarRects(img.Cols(), img.Rows(), out.Probabilities)
	for i, r := range rects {
		c := barColor
		if out.ClassIDs[i] == out.Prediction {
			c = topBarColor
		}
		if r.Dx() > 0 {
			gocv.Rectangle(img, r, c, -1)
		}
		label := fmt.Sprintf("%d", out.ClassIDs[i])
		gocv.PutText(img, label, image.Pt(img.Cols()-10-img.Cols()/4-24, r.Max.Y), font, 0.5, textColor, 1)
	}
}
