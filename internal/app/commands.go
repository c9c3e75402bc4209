package app

import (
	"sync"

	"github.com/ayusman/fewshot/internal/session"
)

// CommandSource yields at most one pending command per frame.
type CommandSource interface {
	Poll() session.Command
}

// Mailbox is a latest-wins command slot. Goroutine-driven sources (HTTP,
// tray) post into it and the run loop drains it once per frame.
type Mailbox struct {
	mu      sync.Mutex
	cmd     session.Command
	dropped int
}

// Post stores cmd, replacing any command not yet consumed.
func (m *Mailbox) Post(cmd session.Command) {
	if cmd.IsNone() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.cmd.IsNone() {
		m.dropped++
	}
	m.cmd = cmd
}

// Poll returns and clears the pending command.
func (m *Mailbox) Poll() session.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd := m.cmd
	m.cmd = session.None
	return cmd
}

// Dropped returns how many commands were overwritten before being consumed.
func (m *Mailbox) Dropped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// Sources polls several sources in order and returns the first command.
// Sources after it are not polled, so their commands wait for a later frame.
type Sources []CommandSource

func (s Sources) Poll() session.Command {
	for _, src := range s {
		if cmd := src.Poll(); !cmd.IsNone() {
			return cmd
		}
	}
	return session.None
}

// SourceFunc adapts a function to CommandSource.
type SourceFunc func() session.Command

func (f SourceFunc) Poll() session.Command {
	return f()
}
