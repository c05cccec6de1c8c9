// ABOUTME: TOML-backed catalog of reusable agent presets.
// ABOUTME: A preset pre-fills model, prompt, and capabilities when creating agents.

package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Preset is a reusable agent template. Fields the caller sets explicitly at
// create time win over the preset's values.
type Preset struct {
	Model                string   `toml:"model"`
	SystemPrompt         string   `toml:"system_prompt"`
	WorkingDir           string   `toml:"working_dir"`
	Capabilities         []string `toml:"capabilities"`
	DisabledCapabilities []string `toml:"disabled_capabilities"`
}

// PresetCatalog maps preset names to their templates.
type PresetCatalog map[string]Preset

// presetFile is the top-level TOML document shape:
//
//	[presets.researcher]
//	model = "opus"
//	system_prompt = "You research topics thoroughly."
//	capabilities = ["web_search"]
type presetFile struct {
	Presets map[string]Preset `toml:"presets"`
}

// LoadPresets reads a TOML preset catalog. A missing path yields an empty
// catalog, not an error: presets are optional.
func LoadPresets(path string) (PresetCatalog, error) {
	if path == "" {
		return PresetCatalog{}, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return PresetCatalog{}, nil
	}

	var file presetFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("parsing preset file %s: %w", path, err)
	}
	if file.Presets == nil {
		return PresetCatalog{}, nil
	}
	return PresetCatalog(file.Presets), nil
}

// Get looks up a preset by name.
func (c PresetCatalog) Get(name string) (Preset, bool) {
	p, ok := c[name]
	return p, ok
}

// Names returns the preset names in the catalog, unordered.
func (c PresetCatalog) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	return names
}
