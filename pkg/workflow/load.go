package workflow

import (
	"os"

	"gopkg.in/yaml.v3"

	apperrors "github.com/mattmre/agentflow/pkg/errors"
)

// ParseDefinition decodes a workflow definition from YAML or JSON bytes
// and validates it (including DAG acyclicity). JSON parses through the
// YAML decoder since JSON is a subset of YAML; the struct tags cover both
// spellings.
func ParseDefinition(data []byte) (Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, &apperrors.ValidationError{
			Field:   "definition",
			Message: "workflow definition is not valid YAML/JSON: " + err.Error(),
		}
	}
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// LoadDefinition reads and parses one workflow definition file. The
// <name>.workflow.yaml / <name>.workflow.json naming convention is the
// caller's concern; any readable path works.
func LoadDefinition(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, apperrors.Wrapf(err, "reading workflow definition %s", path)
	}
	return ParseDefinition(data)
}
