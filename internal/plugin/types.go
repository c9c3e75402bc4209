// Package plugin runs external executables when the session predicts a new
// class or changes state.
package plugin

import "encoding/json"

// Events a plugin can subscribe to.
const (
	// EventPrediction fires when the predicted class changes during inference.
	EventPrediction = "prediction"
	// EventTransition fires on every session state change.
	EventTransition = "transition"
)

// Manifest describes a plugin's metadata and the events it handles.
type Manifest struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Executable  string   `json:"executable"`
	Events      []string `json:"events"`
	// Config is passed verbatim in every request.
	Config json.RawMessage `json:"config,omitempty"`
}

// Handles reports whether the plugin subscribes to event.
func (m Manifest) Handles(event string) bool {
	for _, e := range m.Events {
		if e == event {
			return true
		}
	}
	return false
}

// Request is written as JSON to the plugin's stdin.
type Request struct {
	Event       string          `json:"event"`
	Frame       uint64          `json:"frame"`
	State       string          `json:"state"`
	From        string          `json:"from,omitempty"`
	Class       *int            `json:"class,omitempty"`
	Probability float64         `json:"probability,omitempty"`
	Error       string          `json:"error,omitempty"`
	Config      json.RawMessage `json:"config,omitempty"`
}

// Response is read as JSON from the plugin's stdout.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Plugin represents a discovered plugin with its manifest and location.
type Plugin struct {
	Manifest   Manifest
	Path       string
	Executable string
}
