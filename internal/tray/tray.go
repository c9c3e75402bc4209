// Package tray provides a system tray menu for the few-shot engine.
package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/fewshot/internal/app"
	"github.com/ayusman/fewshot/internal/session"
)

// Poster receives the commands chosen from the menu.
type Poster interface {
	Post(cmd session.Command)
}

// Tray is the system tray menu. Menu clicks are posted as commands and
// published updates are shown in the status line. It is an app.Sink.
type Tray struct {
	poster     Poster
	maxClasses int
	onOpen     func()
	onExit     func()

	mu     sync.RWMutex
	state  session.State
	status string

	// Menu items stored for later updates
	menuStatus *systray.MenuItem
	menuPause  *systray.MenuItem
}

// New creates a Tray that posts to p and offers one register item per class.
func New(p Poster, maxClasses int) *Tray {
	return &Tray{
		poster:     p,
		maxClasses: maxClasses,
		status:     statusLine(session.Output{State: session.StateReset, Prediction: -1}),
	}
}

// OnOpen sets the callback of the "Open dashboard" item. The item is hidden
// when no callback is set before Run.
func (t *Tray) OnOpen(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpen = fn
}

// OnExit sets the callback invoked when the tray shuts down.
func (t *Tray) OnExit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onExit = fn
}

// Run starts the system tray application.
// This function blocks until Quit is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.exit)
}

// Quit stops the tray.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("fewshot")
	systray.SetTooltip("Few-shot camera classifier")

	t.mu.Lock()
	t.menuStatus = systray.AddMenuItem(t.status, "Current state")
	t.menuStatus.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	register := make([]*systray.MenuItem, t.maxClasses)
	for i := range register {
		register[i] = systray.AddMenuItem(fmt.Sprintf("Register class %d", i+1), "Record shots for this class")
	}
	menuInfer := systray.AddMenuItem("Start inference", "Classify every frame")
	t.mu.Lock()
	t.menuPause = systray.AddMenuItem("Pause", "Pause or resume frame processing")
	t.mu.Unlock()
	menuReset := systray.AddMenuItem("Reset", "Forget every class and start over")
	systray.AddSeparator()

	t.mu.RLock()
	hasOpen := t.onOpen != nil
	t.mu.RUnlock()
	menuOpen := systray.AddMenuItem("Open dashboard...", "Open the dashboard in a browser")
	if !hasOpen {
		menuOpen.Hide()
	}
	menuQuit := systray.AddMenuItem("Quit", "Quit fewshot")

	for i, item := range register {
		go func(class int, item *systray.MenuItem) {
			for range item.ClickedCh {
				t.handleRegister(class)
			}
		}(i, item)
	}

	go func() {
		for {
			select {
			case <-menuInfer.ClickedCh:
				t.post(session.Of(session.CommandStartInference))
			case <-t.menuPause.ClickedCh:
				t.handlePause()
			case <-menuReset.ClickedCh:
				t.post(session.Of(session.CommandReset))
			case <-menuOpen.ClickedCh:
				t.handleOpen()
			case <-menuQuit.ClickedCh:
				t.post(session.Of(session.CommandQuit))
				return
			}
		}
	}()
}

func (t *Tray) exit() {
	t.mu.RLock()
	callback := t.onExit
	t.mu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (t *Tray) post(cmd session.Command) {
	if t.poster != nil {
		t.poster.Post(cmd)
	}
}

func (t *Tray) handleRegister(class int) {
	if class < 0 || class >= t.maxClasses {
		return
	}
	t.post(session.SelectClass(class))
}

// handlePause resumes when the last published state was pause, pauses
// otherwise.
func (t *Tray) handlePause() {
	t.mu.RLock()
	paused := t.state == session.StatePause
	t.mu.RUnlock()

	if paused {
		t.post(session.Of(session.CommandResume))
	} else {
		t.post(session.Of(session.CommandPause))
	}
}

func (t *Tray) handleOpen() {
	t.mu.RLock()
	callback := t.onOpen
	t.mu.RUnlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback()
	}
}

// Publish updates the status line and the pause item.
func (t *Tray) Publish(u app.Update) error {
	line := statusLine(u.Output)

	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.state
	t.state = u.Output.State
	if line != t.status {
		t.status = line
		if t.menuStatus != nil {
			t.menuStatus.SetTitle(line)
		}
	}
	if t.menuPause != nil && (prev == session.StatePause) != (t.state == session.StatePause) {
		if t.state == session.StatePause {
			t.menuPause.SetTitle("Resume")
		} else {
			t.menuPause.SetTitle("Pause")
		}
	}
	return nil
}

// Status returns the current status line.
func (t *Tray) Status() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// statusLine summarizes an output for the menu. Classes are shown 1-based
// like the register items.
func statusLine(out session.Output) string {
	switch out.State {
	case session.StateRegistration:
		return fmt.Sprintf("Registering class %d (%d shots)", out.TargetClass+1, out.Shots[out.TargetClass])
	case session.StateInference:
		if out.Prediction < 0 {
			return "Inference"
		}
		return fmt.Sprintf("Class %d", out.Prediction+1)
	case session.StateError:
		return "Error: reset required"
	case session.StatePause:
		return "Paused"
	case session.StateReset:
		return "Reset"
	case session.StateInitialization:
		return "Initializing background"
	case session.StateIdle:
		return "Idle"
	}
	return out.State.String()
}
