package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadOverrides reads a scenario override file (a flat YAML map of option names)
func LoadOverrides(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file %s: %w", path, err)
	}
	overrides, err := ParseOverridesYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse scenario file %s: %w", path, err)
	}
	return overrides, nil
}

// ParseOverridesYAML parses a flat override map from YAML bytes.
// This is used for APIs where the scenario is provided as payload.
func ParseOverridesYAML(data []byte) (map[string]any, error) {
	overrides := make(map[string]any)
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse scenario yaml: %w", err)
	}
	return overrides, nil
}

// LoadScenario builds a scenario from an optional override file and
// key=value pairs; pairs win over the file.
func LoadScenario(path string, sets []string) (TestScenario, error) {
	var fromFile map[string]any
	if path != "" {
		var err error
		if fromFile, err = LoadOverrides(path); err != nil {
			return TestScenario{}, err
		}
	}
	fromFlags, err := ParseSetFlags(sets)
	if err != nil {
		return TestScenario{}, err
	}
	return BuildScenario(MergeOverrides(fromFile, fromFlags))
}

// ParseScenarioYAML builds and validates a scenario from override YAML.
func ParseScenarioYAML(data []byte) (TestScenario, error) {
	overrides, err := ParseOverridesYAML(data)
	if err != nil {
		return TestScenario{}, err
	}
	return BuildScenario(overrides)
}
