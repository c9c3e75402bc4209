package session

import (
	"fmt"

	"github.com/ayusman/fewshot/internal/classify"
	"github.com/ayusman/fewshot/internal/smooth"
)

// Config holds the options consumed by the session core.
type Config struct {
	// MaxClasses bounds the number of registered classes.
	MaxClasses int
	// InitFrames is the number of frames averaged into the background.
	InitFrames int
	// ShotsPerClass is the number of consecutive frames registered per
	// class-selection command.
	ShotsPerClass int
	// Classifier selects the classification strategy.
	Classifier classify.Options
	// Alpha is the smoothing weight of the newest frame.
	Alpha float64
	// ExtractionWarnEvery logs a warning after this many consecutive
	// extraction failures (and every multiple of it).
	ExtractionWarnEvery int
}

// DefaultConfig returns the settings of the camera demo: four
// classes, five background frames and five shots per registration.
func DefaultConfig() Config {
	return Config{
		MaxClasses:          4,
		InitFrames:          5,
		ShotsPerClass:       5,
		Classifier:          classify.DefaultOptions(),
		Alpha:               smooth.DefaultAlpha,
		ExtractionWarnEvery: 10,
	}
}

// Validate rejects configurations that could fail once frames are flowing.
func (c Config) Validate() error {
	if c.MaxClasses < 1 {
		return fmt.Errorf("%w: max classes must be at least 1, got %d", classify.ErrInvalidConfiguration, c.MaxClasses)
	}
	if c.InitFrames < 1 {
		return fmt.Errorf("%w: init frames must be at least 1, got %d", classify.ErrInvalidConfiguration, c.InitFrames)
	}
	if c.ShotsPerClass < 1 {
		return fmt.Errorf("%w: shots per class must be at least 1, got %d", classify.ErrInvalidConfiguration, c.ShotsPerClass)
	}
	if c.ExtractionWarnEvery < 0 {
		return fmt.Errorf("%w: extraction warning interval must not be negative", classify.ErrInvalidConfiguration)
	}
	if err := c.Classifier.Validate(); err != nil {
		return err
	}
	// Inference can start after a single registration, so K must fit in
	// one class worth of shots.
	if c.Classifier.Strategy == classify.StrategyKNN && c.Classifier.Neighbors > c.ShotsPerClass {
		return fmt.Errorf("%w: %d neighbors exceed the %d shots of a single registration", classify.ErrInvalidConfiguration, c.Classifier.Neighbors, c.ShotsPerClass)
	}
	return smooth.ValidateAlpha(c.Alpha)
}
