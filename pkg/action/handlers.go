package action

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/itchyny/gojq"

	apperrors "github.com/mattmre/agentflow/pkg/errors"
)

// invokeAgentHandler looks up the named agent and runs it through the
// agent runtime. Its outputs become the step's outputs verbatim.
func invokeAgentHandler(ctx context.Context, req Request) (map[string]interface{}, error) {
	if req.Agents == nil {
		return nil, &apperrors.ConfigError{Key: "agents", Reason: "invoke-agent step requires an agent runtime"}
	}
	return req.Agents.RunNamed(ctx, req.Step.Agent, req.ResolvedInputs)
}

// runCommandHandler launches step.Command as a subprocess, passing
// resolved inputs as string-serialized environment variables and
// propagating the process exit code into a typed CommandFailed error.
func runCommandHandler(ctx context.Context, req Request) (map[string]interface{}, error) {
	cmd, err := buildCommand(ctx, req.Step.Command)
	if err != nil {
		return nil, err
	}

	cmd.Env = os.Environ()
	for k, v := range req.ResolvedInputs {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%v", envKey(k), v))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runErr != nil {
		exitCode := -1
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return nil, &apperrors.CommandFailed{
			Command:  commandString(req.Step.Command),
			ExitCode: exitCode,
			Stderr:   strings.TrimSpace(stderr.String()),
		}
	}

	return map[string]interface{}{
		"stdout":      strings.TrimSpace(stdout.String()),
		"stderr":      strings.TrimSpace(stderr.String()),
		"return_code": 0,
	}, nil
}

func buildCommand(ctx context.Context, command interface{}) (*exec.Cmd, error) {
	switch v := command.(type) {
	case string:
		return exec.CommandContext(ctx, "sh", "-c", v), nil
	case []string:
		if len(v) == 0 {
			return nil, &apperrors.ValidationError{Field: "command", Message: "command array is empty"}
		}
		return exec.CommandContext(ctx, v[0], v[1:]...), nil
	case []interface{}:
		args := make([]string, len(v))
		for i, a := range v {
			args[i] = fmt.Sprintf("%v", a)
		}
		if len(args) == 0 {
			return nil, &apperrors.ValidationError{Field: "command", Message: "command array is empty"}
		}
		return exec.CommandContext(ctx, args[0], args[1:]...), nil
	default:
		return nil, &apperrors.ValidationError{Field: "command", Message: fmt.Sprintf("command must be a string or array, got %T", command)}
	}
}

func commandString(command interface{}) string {
	switch v := command.(type) {
	case string:
		return v
	case []string:
		return strings.Join(v, " ")
	default:
		return fmt.Sprintf("%v", v)
	}
}

// envKey uppercases and rewrites hyphens to underscores so input names can
// serve as POSIX environment variable names.
func envKey(name string) string {
	b := []byte(strings.ToUpper(name))
	for i, c := range b {
		if c == '-' {
			b[i] = '_'
		}
	}
	return string(b)
}

// validateHandler checks req.Step.Data against Schema and/or Expression;
// when both are present, both must pass.
func validateHandler(ctx context.Context, req Request) (map[string]interface{}, error) {
	data := req.ResolvedInputs["data"]
	if data == nil {
		data = req.Step.Data
	}

	var errs []string

	if req.Step.Schema != nil {
		if req.Schema == nil {
			return nil, &apperrors.ConfigError{Key: "schema", Reason: "validate step requires a schema validator"}
		}
		if err := req.Schema.Validate(req.Step.Schema, data); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if req.Step.Expression != "" {
		ok, err := req.Eval.EvaluateBool(req.Step.Expression, req.EvalContext)
		if err != nil {
			return nil, err
		}
		if !ok {
			errs = append(errs, fmt.Sprintf("expression %q evaluated false", req.Step.Expression))
		}
	}

	if len(errs) > 0 {
		return nil, &apperrors.ValidationError{
			Field:   "data",
			Message: strings.Join(errs, "; "),
		}
	}

	return map[string]interface{}{
		"valid":  true,
		"errors": []string{},
	}, nil
}

// transformHandler resolves one of three shapes, in order: a template of
// expressions returned as-is, a single expression wrapped as
// {result: value}, or a bare data passthrough. Expressions that look like a
// jq filter (leading ".") are evaluated with gojq instead of the sandboxed
// template language, so a step can reach for structural JSON reshaping
// gojq is good at without pkg/expr needing a jq dialect of its own.
func transformHandler(ctx context.Context, req Request) (map[string]interface{}, error) {
	if req.Step.Template != nil {
		out := make(map[string]interface{}, len(req.Step.Template))
		for k, v := range req.Step.Template {
			resolved, err := resolveTransformValue(req, v)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	}

	if req.Step.Expression != "" {
		val, err := evaluateTransformExpression(req, req.Step.Expression, req.Step.Data)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"result": val}, nil
	}

	return map[string]interface{}{"result": req.Step.Data}, nil
}

func resolveTransformValue(req Request, v interface{}) (interface{}, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	return evaluateTransformExpression(req, s, req.Step.Data)
}

func evaluateTransformExpression(req Request, expression string, data interface{}) (interface{}, error) {
	if strings.HasPrefix(strings.TrimSpace(expression), ".") {
		return evaluateJQ(expression, data)
	}
	return req.Eval.Evaluate(expression, req.EvalContext)
}

func evaluateJQ(expression string, data interface{}) (interface{}, error) {
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, &apperrors.ExpressionError{
			Kind:       apperrors.ExpressionErrorBadType,
			Expression: expression,
			Message:    "invalid jq expression: " + err.Error(),
			Cause:      err,
		}
	}
	iter := query.Run(data)
	v, ok := iter.Next()
	if !ok {
		return nil, nil
	}
	if err, ok := v.(error); ok {
		return nil, &apperrors.ExpressionError{
			Kind:       apperrors.ExpressionErrorBadType,
			Expression: expression,
			Message:    "jq evaluation failed: " + err.Error(),
			Cause:      err,
		}
	}
	return v, nil
}

// conditionalHandler evaluates step.Condition and recurses into the then
// or else branch as a scoped sub-DAG.
func conditionalHandler(ctx context.Context, req Request) (map[string]interface{}, error) {
	ok, err := req.Eval.EvaluateBool(req.Step.Condition, req.EvalContext)
	if err != nil {
		return nil, err
	}

	branch := req.Step.Else
	branchName := "else"
	if ok {
		branch = req.Step.Then
		branchName = "then"
	}

	out := map[string]interface{}{
		"branch":           branchName,
		"condition_result": ok,
	}
	if len(branch) == 0 {
		return out, nil
	}

	results, err := req.Recurse(ctx, branch, cloneState(req.State))
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		for k, v := range r.Outputs {
			out[k] = v
		}
	}
	return out, nil
}

// parallelGroupHandler runs step.Steps concurrently (bounded by the same
// concurrency cap the parent run uses) independent of the outer dependency
// graph, collecting outputs keyed by sub-step ID plus any errors.
func parallelGroupHandler(ctx context.Context, req Request) (map[string]interface{}, error) {
	results, err := req.Recurse(ctx, req.Step.Steps, cloneState(req.State))
	if err != nil {
		return nil, err
	}

	byID := make(map[string]interface{}, len(results))
	var errs []string
	for _, r := range results {
		byID[r.StepID] = r.Outputs
		if r.Status == "failed" {
			errs = append(errs, fmt.Sprintf("%s: %s", r.StepID, r.Error))
		}
	}

	return map[string]interface{}{
		"results": byID,
		"errors":  errs,
	}, nil
}

// waitHandler sleeps for a fixed duration or polls wait_condition every
// two seconds until it is truthy or the step's timeout elapses. Both paths
// honor ctx cancellation so a workflow-level timeout or an explicit cancel
// interrupts the wait promptly.
func waitHandler(ctx context.Context, req Request) (map[string]interface{}, error) {
	start := time.Now()

	if req.Step.DurationSeconds != nil {
		d := time.Duration(*req.Step.DurationSeconds) * time.Second
		select {
		case <-time.After(d):
			return map[string]interface{}{"waited_seconds": time.Since(start).Seconds(), "condition_met": true}, nil
		case <-ctx.Done():
			return nil, &apperrors.CancelledError{Reason: "wait interrupted", Cause: ctx.Err()}
		}
	}

	const pollInterval = 2 * time.Second
	timeout := time.Duration(req.Step.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	deadline := time.Now().Add(timeout)

	for {
		ok, err := req.Eval.EvaluateBool(req.Step.WaitCondition, req.EvalContext)
		if err != nil {
			return nil, err
		}
		if ok {
			return map[string]interface{}{"waited_seconds": time.Since(start).Seconds(), "condition_met": true}, nil
		}
		if time.Now().After(deadline) {
			return map[string]interface{}{"waited_seconds": time.Since(start).Seconds(), "condition_met": false}, nil
		}
		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return nil, &apperrors.CancelledError{Reason: "wait interrupted", Cause: ctx.Err()}
		}
	}
}

func cloneState(state map[string]map[string]interface{}) map[string]map[string]interface{} {
	out := make(map[string]map[string]interface{}, len(state))
	for k, v := range state {
		out[k] = v
	}
	return out
}
