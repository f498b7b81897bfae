package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/flowrun/flowrun/pkg/flowrun"
)

// Load reads a workflow definition from a file, auto-detecting the format
// by extension. Supported extensions: .yaml, .yml, .json
func Load(path string) (*flowrun.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return ParseYAML(data)
	case ".json":
		return ParseJSON(data)
	default:
		return nil, fmt.Errorf("unsupported workflow file extension: %s", ext)
	}
}

// ParseYAML parses a YAML workflow document.
func ParseYAML(data []byte) (*flowrun.Definition, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return f.Definition()
}

// ParseJSON parses a JSON workflow document.
func ParseJSON(data []byte) (*flowrun.Definition, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return f.Definition()
}
