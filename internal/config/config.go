// Package config gathers the settings of every component of the engine.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ayusman/fewshot/internal/app"
	"github.com/ayusman/fewshot/internal/backbone"
	"github.com/ayusman/fewshot/internal/capture"
	"github.com/ayusman/fewshot/internal/display"
	"github.com/ayusman/fewshot/internal/journal"
	"github.com/ayusman/fewshot/internal/plugin"
	"github.com/ayusman/fewshot/internal/session"
)

// VerboseTimingEvery is the number of frames between timing tables in
// verbose mode.
const VerboseTimingEvery = 30

// Config holds configuration options for the whole process.
type Config struct {
	Session  session.Config
	Camera   capture.Config
	Backbone backbone.Config
	Display  display.Config

	// MaxFrames stops after this many frames. Zero means no limit.
	MaxFrames int

	// HTTPAddr is the listen address of the API. Empty disables it.
	HTTPAddr  string
	StaticDir string

	// Tray shows the system tray menu.
	Tray bool

	// JournalPath is the sqlite run journal. Empty disables it.
	JournalPath string

	// PluginDir holds prediction plugins. Empty disables them.
	PluginDir     string
	PluginTimeout time.Duration

	// Verbose logs the per-stage timing table.
	Verbose bool
}

// ErrTrayWithWindow is returned when the tray and the display window are both
// enabled. Both need the main thread.
var ErrTrayWithWindow = errors.New("the tray menu cannot run with a display window, use --no-display")

// Default returns the settings of the camera demo.
func Default() Config {
	return Config{
		Session:       session.DefaultConfig(),
		Camera:        capture.DefaultConfig(),
		Backbone:      backbone.DefaultConfig(),
		Display:       display.DefaultConfig(),
		HTTPAddr:      ":8080",
		PluginTimeout: plugin.DefaultTimeout,
	}
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if err := c.Backbone.Validate(); err != nil {
		return fmt.Errorf("backbone: %w", err)
	}
	if c.Camera.Spec == "" {
		return errors.New("camera: a device index or video path is required")
	}
	if c.Camera.Width < 0 || c.Camera.Height < 0 {
		return fmt.Errorf("camera: invalid resolution %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.MaxFrames < 0 {
		return fmt.Errorf("max frames must not be negative, got %d", c.MaxFrames)
	}
	if c.Display.Scale < 0 {
		return fmt.Errorf("display: scale must not be negative, got %v", c.Display.Scale)
	}
	if c.PluginTimeout < 0 {
		return fmt.Errorf("plugin timeout must not be negative, got %v", c.PluginTimeout)
	}
	if c.Tray && c.Display.Window {
		return ErrTrayWithWindow
	}
	if c.Display.MaxClasses != c.Session.MaxClasses {
		return fmt.Errorf("display: %d class keys for %d classes", c.Display.MaxClasses, c.Session.MaxClasses)
	}
	return nil
}

// App returns the run loop settings.
func (c Config) App() app.Config {
	cfg := app.DefaultConfig()
	cfg.Session = c.Session
	cfg.MaxFrames = c.MaxFrames
	if c.Verbose {
		cfg.TimingEvery = VerboseTimingEvery
	}
	return cfg
}

// JournalTimingEvery returns the number of frames between journal timing
// samples.
func (c Config) JournalTimingEvery() int {
	if c.Verbose {
		return VerboseTimingEvery
	}
	return journal.DefaultTimingEvery
}
