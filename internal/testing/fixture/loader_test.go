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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoader_StepSpecificYAML(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "summarize.yaml", "response: \"A short summary.\"\n")

	loader, err := NewLoader(dir, nil)
	require.NoError(t, err)

	fx, err := loader.LoadLLMFixture("summarize")
	require.NoError(t, err)
	assert.Equal(t, "A short summary.", fx.Response)
}

func TestLoader_StepSpecificJSON(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "classify.json", `{"responses":[{"when":{"prompt_contains":"urgent"},"return":"high"},{"default":true,"return":"low"}]}`)

	loader, err := NewLoader(dir, nil)
	require.NoError(t, err)

	fx, err := loader.LoadLLMFixture("classify")
	require.NoError(t, err)
	require.Len(t, fx.Responses, 2)
	assert.Equal(t, "urgent", fx.Responses[0].When.PromptContains)
	assert.True(t, fx.Responses[1].Default)
}

func TestLoader_GlobalFallback(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "_llm.yaml", "responses:\n  - default: true\n    return: \"fallback\"\n")

	loader, err := NewLoader(dir, nil)
	require.NoError(t, err)

	fx, err := loader.LoadLLMFixture("no-such-step")
	require.NoError(t, err)
	require.Len(t, fx.Responses, 1)
	assert.Equal(t, "fallback", fx.Responses[0].Return)
}

func TestLoader_NotFound(t *testing.T) {
	loader, err := NewLoader(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = loader.LoadLLMFixture("missing")
	assert.Error(t, err)
}

func TestNewLoader_MissingDir(t *testing.T) {
	_, err := NewLoader("/no/such/dir", nil)
	assert.Error(t, err)
}
