package facts

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed captures.yaml
var defaultRules []byte

// ConfigRule names one config file to capture and, optionally, the setting
// keys worth extracting from it. An empty key list captures every key=value
// assignment found.
type ConfigRule struct {
	Path string   `yaml:"path"`
	Keys []string `yaml:"keys,omitempty"`
}

// CaptureRules defines which config files and sysctl keys a snapshot should
// include.
type CaptureRules struct {
	Configs []ConfigRule `yaml:"configs"`
	Sysctls []string     `yaml:"sysctls"`
}

// DefaultRules parses the embedded capture rules.
func DefaultRules() (*CaptureRules, error) {
	var rules CaptureRules
	if err := yaml.Unmarshal(defaultRules, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse embedded capture rules: %w", err)
	}
	return &rules, nil
}

// LoadRules reads capture rules from a file, falling back to the embedded
// defaults when path is empty.
func LoadRules(path string) (*CaptureRules, error) {
	if path == "" {
		return DefaultRules()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture rules: %w", err)
	}
	var rules CaptureRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse capture rules %s: %w", path, err)
	}
	return &rules, nil
}
