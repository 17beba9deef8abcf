package expr

// StepOutputConverter lets callers hand this package a typed step result
// without this package importing the workflow package (which would create
// an import cycle, since the workflow package imports expr to evaluate
// conditions and input templates). Any type with a ToMap method works.
type StepOutputConverter interface {
	ToMap() map[string]interface{}
}

// BuildContext assembles the evaluation context for a step: workflow-level
// inputs under "inputs", a map of all settled step outputs under "steps",
// and the current step's own output fields copied to the top level so
// `{{ result }}` works the same as `{{ steps.this_step.result }}` inside
// that step's own templates (only meaningful when currentStepOutputs is
// non-nil).
func BuildContext(inputs map[string]interface{}, steps map[string]StepOutputConverter, currentStepOutputs map[string]interface{}) map[string]interface{} {
	stepMap := make(map[string]interface{}, len(steps))
	for id, out := range steps {
		if out == nil {
			continue
		}
		stepMap[id] = out.ToMap()
	}
	return buildContext(inputs, stepMap, currentStepOutputs)
}

// BuildContextFromMaps is the untyped equivalent of BuildContext, for
// callers (tests, the test harness dry-run planner) that already have
// plain maps rather than StepOutputConverter values.
func BuildContextFromMaps(inputs map[string]interface{}, steps map[string]map[string]interface{}, currentStepOutputs map[string]interface{}) map[string]interface{} {
	stepMap := make(map[string]interface{}, len(steps))
	for id, out := range steps {
		stepMap[id] = out
	}
	return buildContext(inputs, stepMap, currentStepOutputs)
}

// buildContext assembles the shared symbol table: every workflow input is
// reachable both by bare name at the top level and namespaced under
// "inputs" (the namespaced form avoids collisions when an input happens
// to share a name with "steps" or a step ID); "steps" maps step ID to
// that step's outputs; and each completed step's own outputs are
// additionally bound at the top level under the step ID with hyphens
// rewritten to underscores, so `{{ fetch_user.name }}` works the same as
// `{{ steps.fetch-user.name }}`.
func buildContext(inputs map[string]interface{}, stepMap map[string]interface{}, currentStepOutputs map[string]interface{}) map[string]interface{} {
	ctx := make(map[string]interface{}, len(inputs)+len(stepMap)+len(currentStepOutputs)+2)

	for k, v := range inputs {
		ctx[k] = v
	}
	for id, out := range stepMap {
		ctx[normalizeIdentifier(id)] = out
	}
	for k, v := range currentStepOutputs {
		ctx[k] = v
	}

	ctx["inputs"] = inputs
	ctx["steps"] = stepMap

	return ctx
}

// normalizeIdentifier rewrites hyphens to underscores so step IDs (which
// allow hyphens) can be used as bare expression identifiers (which don't).
func normalizeIdentifier(id string) string {
	out := make([]byte, len(id))
	for i := 0; i < len(id); i++ {
		if id[i] == '-' {
			out[i] = '_'
		} else {
			out[i] = id[i]
		}
	}
	return string(out)
}
