package main

import (
	"encoding/json"
	"testing"
)

func TestLookup(t *testing.T) {
	config := json.RawMessage(`{"keys":{"0":{"key":"n"},"1":{"key":"p","modifiers":["cmd"]},"2":{}}}`)

	tests := []struct {
		name    string
		class   int
		wantKey string
		wantOK  bool
		wantErr bool
	}{
		{"plain key", 0, "n", true, false},
		{"with modifiers", 1, "p", true, false},
		{"empty key", 2, "", false, true},
		{"unmapped class", 3, "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ks, ok, err := lookup(config, tt.class)
			if (err != nil) != tt.wantErr {
				t.Fatalf("lookup() error = %v, wantErr %v", err, tt.wantErr)
			}
			if ok != tt.wantOK || ks.Key != tt.wantKey {
				t.Errorf("lookup() = %q, %v, want %q, %v", ks.Key, ok, tt.wantKey, tt.wantOK)
			}
		})
	}

	if _, _, err := lookup(json.RawMessage(`{`), 0); err == nil {
		t.Error("expected error for invalid config")
	}
	if _, ok, err := lookup(nil, 0); ok || err != nil {
		t.Errorf("lookup(nil) = %v, %v, want false, nil", ok, err)
	}
}

func TestBuildKeystrokeScript(t *testing.T) {
	tests := []struct {
		key       string
		modifiers []string
		want      string
	}{
		{"n", nil, `tell application "System Events" to keystroke "n"`},
		{"p", []string{"Cmd", "shift"}, `tell application "System Events" to keystroke "p" using {command down, shift down}`},
		{"x", []string{"hyper"}, `tell application "System Events" to keystroke "x"`},
	}

	for _, tt := range tests {
		if got := buildKeystrokeScript(tt.key, tt.modifiers); got != tt.want {
			t.Errorf("buildKeystrokeScript(%q, %v) = %q, want %q", tt.key, tt.modifiers, got, tt.want)
		}
	}
}
