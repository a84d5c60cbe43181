package runconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// presetNameKey identifies a preset inside its backend section.
const presetNameKey = "name"

// Presets is the preset document: backend name to a list of named presets.
type Presets map[string][]map[string]any

// LoadPresets reads a preset document from path.
func LoadPresets(path string) (Presets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}
	return ParsePresets(data)
}

// ParsePresets decodes a YAML preset document.
func ParsePresets(data []byte) (Presets, error) {
	var p Presets
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}
	if p == nil {
		p = Presets{}
	}
	return p, nil
}

// Lookup returns the preset called name in the plugin section, without its
// name key. The boolean is false when no preset matches.
func (p Presets) Lookup(plugin, name string) (map[string]any, bool) {
	for _, entry := range p[plugin] {
		if scalarString(entry[presetNameKey]) != name {
			continue
		}
		out := make(map[string]any, len(entry))
		for k, v := range entry {
			if k == presetNameKey {
				continue
			}
			out[k] = cloneValue(v)
		}
		return out, true
	}
	return nil, false
}
