package harness

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultScenarioPath is used when no scenario path is given.
const DefaultScenarioPath = "scenarios"

// scenarioLoader implements the TestScenarioLoader interface
type scenarioLoader struct {
	debug  bool
	logger TestLogger
}

// NewTestScenarioLoader creates a new test scenario loader
func NewTestScenarioLoader(debug bool) TestScenarioLoader {
	return &scenarioLoader{
		debug:  debug,
		logger: NewStdoutLogger(false, debug),
	}
}

// NewTestScenarioLoaderWithLogger creates a new test scenario loader with custom logger
func NewTestScenarioLoaderWithLogger(debug bool, logger TestLogger) TestScenarioLoader {
	return &scenarioLoader{
		debug:  debug,
		logger: logger,
	}
}

// LoadScenarios loads scenarios from every file or directory given, in
// order. Directories are walked recursively for .yaml/.yml files.
func (l *scenarioLoader) LoadScenarios(paths ...string) ([]TestScenario, error) {
	if len(paths) == 0 {
		paths = []string{DefaultScenarioPath}
	}

	var scenarios []TestScenario
	for _, path := range paths {
		l.logger.Debug("📁 Loading test scenarios from: %s\n", path)

		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("scenario path does not exist: %s", path)
			}
			return nil, fmt.Errorf("failed to stat scenario path: %w", err)
		}

		if info.IsDir() {
			loaded, err := l.loadScenariosFromDirectory(path)
			if err != nil {
				return nil, err
			}
			scenarios = append(scenarios, loaded...)
			continue
		}

		scenario, err := l.loadScenarioFromFile(path)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, scenario)
	}

	l.logger.Debug("📋 Loaded %d test scenarios\n", len(scenarios))
	for _, scenario := range scenarios {
		l.logger.Debug("  • %s - %d messages\n", scenario.Name, len(scenario.Messages))
	}
	return scenarios, nil
}

// loadScenariosFromDirectory loads all YAML scenario files from a directory
func (l *scenarioLoader) loadScenariosFromDirectory(dirPath string) ([]TestScenario, error) {
	var scenarios []TestScenario

	err := filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsScenarioFile(path) {
			return nil
		}

		l.logger.Debug("📄 Loading scenario file: %s\n", path)
		scenario, err := l.loadScenarioFromFile(path)
		if err != nil {
			return err
		}
		scenarios = append(scenarios, scenario)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load scenarios from directory %s: %w", dirPath, err)
	}
	return scenarios, nil
}

// loadScenarioFromFile loads a single scenario from a YAML file
func (l *scenarioLoader) loadScenarioFromFile(filePath string) (TestScenario, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return TestScenario{}, fmt.Errorf("failed to read file %s: %w", filePath, err)
	}

	scenario, err := ParseScenario(content)
	if err != nil {
		return TestScenario{}, fmt.Errorf("failed to parse YAML in %s: %w", filePath, err)
	}
	if scenario.Name == "" {
		scenario.Name = strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	}
	scenario.File = filePath
	return scenario, nil
}

// ParseScenario decodes one scenario document. Unknown fields are errors.
func ParseScenario(content []byte) (TestScenario, error) {
	var scenario TestScenario
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&scenario); err != nil && !errors.Is(err, io.EOF) {
		return TestScenario{}, err
	}
	return scenario, nil
}

// UnmarshalYAML accepts a plain string as a literal payload.
func (m *MessageSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&m.Payload)
	}
	type plain MessageSpec
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*m = MessageSpec(p)
	return nil
}

// FilterScenarios filters scenarios based on the configuration
func (l *scenarioLoader) FilterScenarios(scenarios []TestScenario, config TestConfiguration) []TestScenario {
	l.logger.Debug("🔍 Filtering scenarios (name: %q, tags: %v)\n", config.Scenario, config.Tags)

	var filtered []TestScenario
	for _, scenario := range scenarios {
		if config.Scenario != "" && scenario.Name != config.Scenario {
			continue
		}
		if len(config.Tags) > 0 && !hasAnyTag(scenario.Tags, config.Tags) {
			continue
		}
		filtered = append(filtered, scenario)
	}

	l.logger.Debug("📊 Filtered to %d scenarios\n", len(filtered))
	return filtered
}

func hasAnyTag(tags, wanted []string) bool {
	for _, t := range wanted {
		if slices.Contains(tags, t) {
			return true
		}
	}
	return false
}

// IsScenarioFile reports whether path has a scenario file extension.
func IsScenarioFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

