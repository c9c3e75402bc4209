// Package main provides a keyboard plugin for macOS.
// It sends a keystroke via AppleScript when a configured class is predicted.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Request represents the input from the plugin executor.
type Request struct {
	Event  string          `json:"event"`
	Frame  uint64          `json:"frame"`
	Class  *int            `json:"class,omitempty"`
	Config json.RawMessage `json:"config"`
}

// Response represents the output to the plugin executor.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Keystroke is the key sent for one class.
type Keystroke struct {
	Key       string   `json:"key"`
	Modifiers []string `json:"modifiers"` // command, option, control, shift
}

// Config maps class ids to keystrokes.
type Config struct {
	Keys map[string]Keystroke `json:"keys"`
}

// modifierMap maps user-friendly modifier names to AppleScript equivalents.
var modifierMap = map[string]string{
	"command": "command down",
	"cmd":     "command down",
	"option":  "option down",
	"alt":     "option down",
	"control": "control down",
	"ctrl":    "control down",
	"shift":   "shift down",
}

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeErrorResponse(fmt.Sprintf("failed to decode request: %v", err))
		return
	}

	if req.Event != "prediction" || req.Class == nil {
		writeSuccessResponse()
		return
	}

	ks, ok, err := lookup(req.Config, *req.Class)
	if err != nil {
		writeErrorResponse(err.Error())
		return
	}
	if !ok {
		// Classes without a key are not an error.
		writeSuccessResponse()
		return
	}

	if err := runAppleScript(buildKeystrokeScript(ks.Key, ks.Modifiers)); err != nil {
		writeErrorResponse(fmt.Sprintf("class %d: %v", *req.Class, err))
		return
	}
	writeSuccessResponse()
}

// lookup returns the keystroke configured for class.
func lookup(config json.RawMessage, class int) (Keystroke, bool, error) {
	var cfg Config
	if len(config) > 0 {
		if err := json.Unmarshal(config, &cfg); err != nil {
			return Keystroke{}, false, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	ks, ok := cfg.Keys[strconv.Itoa(class)]
	if ok && ks.Key == "" {
		return Keystroke{}, false, fmt.Errorf("class %d: key is required", class)
	}
	return ks, ok, nil
}

// buildKeystrokeScript generates an AppleScript for the given key and modifiers.
func buildKeystrokeScript(key string, modifiers []string) string {
	var appleModifiers []string
	for _, mod := range modifiers {
		if appleMod, ok := modifierMap[strings.ToLower(mod)]; ok {
			appleModifiers = append(appleModifiers, appleMod)
		}
	}

	if len(appleModifiers) == 0 {
		return fmt.Sprintf(`tell application "System Events" to keystroke "%s"`, key)
	}
	return fmt.Sprintf(`tell application "System Events" to keystroke "%s" using {%s}`, key, strings.Join(appleModifiers, ", "))
}

func writeErrorResponse(errMsg string) {
	json.NewEncoder(os.Stdout).Encode(Response{Success: false, Error: errMsg})
}

func writeSuccessResponse() {
	json.NewEncoder(os.Stdout).Encode(Response{Success: true})
}

// runAppleScript executes an AppleScript command and returns any error.
func runAppleScript(script string) error {
	cmd := exec.Command("osascript", "-e", script)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}
