// Package catalog loads the level table, achievement catalogue and reward schedule.
//
// The stock catalogue is embedded in the binary. Deployments can replace it with a
// YAML or JSON file of the same shape; the file is read once at start-up.
package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"starkit/core"
)

//go:embed default.yaml
var defaultYAML []byte

// Default returns the embedded catalogue. It panics if the embedded file is invalid,
// which the package tests guard against.
func Default() core.Catalog {
	c, err := Parse(defaultYAML, "yaml")
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return c
}

// Load reads a catalogue file. An empty path yields the embedded default.
func Load(path string) (core.Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	format, err := formatOf(path)
	if err != nil {
		return core.Catalog{}, err
	}
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 - operator supplied path
	if err != nil {
		return core.Catalog{}, fmt.Errorf("read catalog %s: %w", path, err)
	}
	c, err := Parse(data, format)
	if err != nil {
		return core.Catalog{}, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a catalogue in the given format ("yaml" or "json").
// Level numbers are assigned from declaration order.
func Parse(data []byte, format string) (core.Catalog, error) {
	var c core.Catalog
	switch format {
	case "yaml":
		if err := yaml.Unmarshal(data, &c); err != nil {
			return core.Catalog{}, fmt.Errorf("parse yaml: %w", err)
		}
	case "json":
		if err := json.Unmarshal(data, &c); err != nil {
			return core.Catalog{}, fmt.Errorf("parse json: %w", err)
		}
	default:
		return core.Catalog{}, fmt.Errorf("unsupported catalog format %q", format)
	}
	levels, err := core.NewLevelTable(c.Levels...)
	if err != nil {
		return core.Catalog{}, fmt.Errorf("levels: %w", err)
	}
	c.Levels = levels
	for i := range c.Achievements {
		if c.Achievements[i].Trigger.Mode == "" {
			c.Achievements[i].Trigger.Mode = core.ModeThreshold
		}
	}
	if err := c.Validate(); err != nil {
		return core.Catalog{}, err
	}
	return c, nil
}

func formatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml", nil
	case ".json":
		return "json", nil
	}
	return "", errors.New("catalog file must have .yaml, .yml or .json extension")
}
