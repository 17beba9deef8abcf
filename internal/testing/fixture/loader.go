// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fixture

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Loader loads and resolves fixtures from a directory.
type Loader struct {
	fixturesDir string
	logger      *slog.Logger
}

// NewLoader creates a new fixture loader for the given directory.
func NewLoader(fixturesDir string, logger *slog.Logger) (*Loader, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if fixturesDir != "" {
		if _, err := os.Stat(fixturesDir); err != nil {
			return nil, fmt.Errorf("fixtures directory not found: %w", err)
		}
	}

	return &Loader{
		fixturesDir: fixturesDir,
		logger:      logger,
	}, nil
}

// LoadLLMFixture loads a fixture for an agent step.
// Resolution order: step-specific fixture first, then the global _llm
// fixture shared by every step.
func (l *Loader) LoadLLMFixture(stepID string) (*LLMFixture, error) {
	paths := l.buildFixturePaths(stepID)
	for _, path := range paths {
		if fixture, err := l.loadFromFile(path); err == nil {
			l.logger.Debug("loaded LLM fixture", "step_id", stepID, "source", path)
			return fixture, nil
		}
	}

	globalPaths := l.buildFixturePaths("_llm")
	for _, path := range globalPaths {
		if fixture, err := l.loadFromFile(path); err == nil {
			l.logger.Debug("loaded global LLM fixture", "step_id", stepID, "source", path)
			return fixture, nil
		}
	}

	return nil, fmt.Errorf("no fixture found for LLM step %q, tried: %v, %v", stepID, paths, globalPaths)
}

// buildFixturePaths builds all possible file paths for a fixture name.
// Returns paths in order: name.yaml, name.json
func (l *Loader) buildFixturePaths(name string) []string {
	if l.fixturesDir == "" {
		return nil
	}
	return []string{
		filepath.Join(l.fixturesDir, name+".yaml"),
		filepath.Join(l.fixturesDir, name+".json"),
	}
}

func (l *Loader) loadFromFile(path string) (*LLMFixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var fixture LLMFixture

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		if jsonErr := json.Unmarshal(data, &fixture); jsonErr != nil {
			return nil, fmt.Errorf("failed to parse fixture as YAML or JSON: yaml=%v, json=%v", err, jsonErr)
		}
	}

	return &fixture, nil
}
