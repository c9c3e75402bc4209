package session

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownCommand is returned by ParseCommand for unrecognized names.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrInvalidClass is returned for a class id outside the configured
	// range.
	ErrInvalidClass = errors.New("invalid class")
)

// CommandKind enumerates the commands a session understands.
type CommandKind int

const (
	CommandNone CommandKind = iota
	CommandSelectClass
	CommandStartInference
	CommandPause
	CommandResume
	CommandReset
	CommandQuit
)

var commandNames = map[CommandKind]string{
	CommandNone:           "none",
	CommandSelectClass:    "select-class",
	CommandStartInference: "start-inference",
	CommandPause:          "pause",
	CommandResume:         "resume",
	CommandReset:          "reset",
	CommandQuit:           "quit",
}

func (k CommandKind) String() string {
	if name, ok := commandNames[k]; ok {
		return name
	}
	return fmt.Sprintf("CommandKind(%d)", int(k))
}

// Command is one user input. Class is only meaningful for
// CommandSelectClass.
type Command struct {
	Kind  CommandKind
	Class int
}

// None is the absence of a command.
var None = Command{}

// SelectClass returns a command that registers shots for class id.
func SelectClass(id int) Command {
	return Command{Kind: CommandSelectClass, Class: id}
}

// Of returns a command of the given kind without a class.
func Of(kind CommandKind) Command {
	return Command{Kind: kind}
}

// IsNone reports whether c carries no command.
func (c Command) IsNone() bool {
	return c.Kind == CommandNone
}

func (c Command) String() string {
	if c.Kind == CommandSelectClass {
		return fmt.Sprintf("select-class(%d)", c.Class)
	}
	return c.Kind.String()
}

// Validate checks that a select-class command names one of the first
// maxClasses classes.
func (c Command) Validate(maxClasses int) error {
	if c.Kind != CommandSelectClass {
		return nil
	}
	if c.Class < 0 || c.Class >= maxClasses {
		return fmt.Errorf("%w: class %d not in [0,%d)", ErrInvalidClass, c.Class, maxClasses)
	}
	return nil
}

// ParseCommand builds a command from its name. class is used only for
// "select-class".
func ParseCommand(name string, class int) (Command, error) {
	for kind, n := range commandNames {
		if n != name {
			continue
		}
		if kind == CommandSelectClass {
			if class < 0 {
				return None, fmt.Errorf("select-class: invalid class %d", class)
			}
			return SelectClass(class), nil
		}
		return Of(kind), nil
	}
	return None, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
}
