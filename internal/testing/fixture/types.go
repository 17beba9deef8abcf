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

// Package fixture holds the canned-response tables the mock LLM provider
// and the test harness read instead of calling a real model. A fixture is
// a small YAML or JSON document declaring conditional responses matched
// against the prompt or the invoking step.
package fixture

// LLMFixture represents fixture data for agent/LLM steps.
type LLMFixture struct {
	// Responses contains conditional and default responses
	Responses []LLMResponse `yaml:"responses" json:"responses"`

	// Response is used for simple step-specific fixtures
	Response string `yaml:"response,omitempty" json:"response,omitempty"`
}

// LLMResponse represents a single LLM response with optional conditions.
type LLMResponse struct {
	// When specifies the conditions for this response
	When *LLMCondition `yaml:"when,omitempty" json:"when,omitempty"`

	// Return is the response text when conditions match
	Return string `yaml:"return" json:"return"`

	// Default indicates this is the fallback response
	Default bool `yaml:"default,omitempty" json:"default,omitempty"`
}

// LLMCondition specifies when an LLM response should be used.
type LLMCondition struct {
	// PromptContains checks if the last user message contains this string
	PromptContains string `yaml:"prompt_contains,omitempty" json:"prompt_contains,omitempty"`

	// StepID matches against the invoking step's ID
	StepID string `yaml:"step_id,omitempty" json:"step_id,omitempty"`
}
