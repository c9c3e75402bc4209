package plugin

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cyclopcam/logs"
)

// ErrPluginNotFound is returned when a requested plugin cannot be found.
var ErrPluginNotFound = errors.New("plugin not found")

// ManifestFile is the manifest expected in every plugin directory.
const ManifestFile = "plugin.json"

// Manager discovers plugins below a directory.
type Manager struct {
	pluginDir string
	log       logs.Log
	plugins   map[string]*Plugin
	mu        sync.RWMutex
}

// NewManager creates a Manager over pluginDir.
func NewManager(pluginDir string, log logs.Log) *Manager {
	return &Manager{
		pluginDir: pluginDir,
		log:       log,
		plugins:   make(map[string]*Plugin),
	}
}

// Discover scans each subdirectory of the plugin directory for a manifest.
// A missing plugin directory is not an error.
func (m *Manager) Discover() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.plugins = make(map[string]*Plugin)

	entries, err := os.ReadDir(m.pluginDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(m.pluginDir, entry.Name())
		data, err := os.ReadFile(filepath.Join(path, ManifestFile))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			m.log.Warnf("Plugin %v: %v", entry.Name(), err)
			continue
		}

		var manifest Manifest
		if err := json.Unmarshal(data, &manifest); err != nil {
			m.log.Warnf("Plugin %v: invalid manifest: %v", entry.Name(), err)
			continue
		}
		if manifest.Name == "" || manifest.Executable == "" {
			m.log.Warnf("Plugin %v: manifest needs a name and an executable", entry.Name())
			continue
		}

		m.plugins[manifest.Name] = &Plugin{
			Manifest:   manifest,
			Path:       path,
			Executable: filepath.Join(path, manifest.Executable),
		}
		m.log.Infof("Plugin %v %v handles %v", manifest.Name, manifest.Version, manifest.Events)
	}
	return nil
}

// Get returns a plugin by name.
func (m *Manager) Get(name string) (*Plugin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	plugin, ok := m.plugins[name]
	if !ok {
		return nil, ErrPluginNotFound
	}
	return plugin, nil
}

// List returns every discovered plugin ordered by name.
func (m *Manager) List() []*Plugin {
	return m.Subscribers("")
}

// Subscribers returns the plugins handling event, ordered by name. An empty
// event matches every plugin.
func (m *Manager) Subscribers(event string) []*Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Plugin
	for _, p := range m.plugins {
		if event == "" || p.Manifest.Handles(event) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Manifest.Name < out[j].Manifest.Name })
	return out
}

// PluginDir returns the plugin directory path.
func (m *Manager) PluginDir() string {
	return m.pluginDir
}
