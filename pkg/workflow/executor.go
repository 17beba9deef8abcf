package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattmre/agentflow/pkg/action"
	"github.com/mattmre/agentflow/pkg/checkpoint"
	"github.com/mattmre/agentflow/pkg/dag"
	apperrors "github.com/mattmre/agentflow/pkg/errors"
	"github.com/mattmre/agentflow/pkg/expr"
	applog "github.com/mattmre/agentflow/internal/log"
)

// Status is the terminal or in-flight state of a workflow run.
type Status string

const (
	StatusRunning Status = "running"
	// StatusSuccess means every executed step succeeded or was skipped
	// intentionally.
	StatusSuccess Status = "success"
	// StatusFailed means at least one step failed and none succeeded. A
	// cancelled or timed-out run also finalizes as failed, with the
	// cancellation reason in Error.
	StatusFailed Status = "failed"
	// StatusPartial means at least one step failed and at least one
	// succeeded.
	StatusPartial Status = "partial"
	// StatusSkipped means no step executed at all (e.g., every condition
	// evaluated false).
	StatusSkipped Status = "skipped"
)

const (
	stepSuccess = "success"
	stepFailed  = "failed"
	stepSkipped = "skipped"
)

// WorkflowResult is what Execute returns: the run's final status plus every
// step's individual outcome, keyed by step ID.
type WorkflowResult struct {
	RunID        string
	WorkflowName string
	Status       Status
	StepResults  map[string]action.StepResult
	Outputs      map[string]map[string]interface{}
	Error        string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// ExecuteOptions configures one Execute call.
type ExecuteOptions struct {
	// RunID identifies the run for checkpointing and logging. A fresh UUID
	// is generated when empty.
	RunID string

	// Resume loads the latest checkpoint for RunID (which must then be
	// non-empty) and seeds the run's state from it before executing,
	// skipping any step the checkpoint already recorded a success for.
	Resume bool
}

// Executor drives a Definition's step DAG to completion: it schedules
// layers under one of the three execution modes, gates steps on their
// conditions, and wraps every dispatch in a retry/timeout envelope.
type Executor struct {
	dispatcher  *action.Dispatcher
	eval        *expr.Evaluator
	agents      action.AgentInvoker
	schema      action.SchemaValidator
	checkpoints checkpoint.Store
	logger      *slog.Logger
}

// NewExecutor builds an Executor over the given action dispatcher,
// expression evaluator, and agent runtime. Schema validation and
// checkpointing are optional and set via the With* builders.
func NewExecutor(dispatcher *action.Dispatcher, eval *expr.Evaluator, agents action.AgentInvoker) *Executor {
	return &Executor{
		dispatcher: dispatcher,
		eval:       eval,
		agents:     agents,
		logger:     slog.Default(),
	}
}

// WithSchema attaches a schema validator for "validate" steps.
func (e *Executor) WithSchema(s action.SchemaValidator) *Executor {
	e.schema = s
	return e
}

// WithCheckpointStore attaches a checkpoint store; when set, Execute saves a
// checkpoint after every step settles and Resume can replay from it.
func (e *Executor) WithCheckpointStore(s checkpoint.Store) *Executor {
	e.checkpoints = s
	return e
}

// WithLogger replaces the default slog logger, matching internal/log's
// field-key conventions (RunIDKey, StepIDKey, WorkflowKey).
func (e *Executor) WithLogger(l *slog.Logger) *Executor {
	e.logger = l
	return e
}

// runState is the mutable state shared by every step goroutine of one
// Execute call. outputs is the untyped snapshot handed to handlers and the
// checkpoint store; wctx is the typed WorkflowContext the executor keeps
// in parallel so typed accessors and StepOutput metadata are populated for
// embedders that want them, not just the map shape the dispatcher speaks.
// Of the metadata, only Duration is filled in; token usage is left zero.
type runState struct {
	mu      sync.Mutex
	runID   string
	outputs map[string]map[string]interface{}
	wctx    *WorkflowContext
	results map[string]action.StepResult
	done    map[string]chan struct{}
}

func newRunState(runID string, inputs map[string]interface{}, stepIDs []string) *runState {
	rs := &runState{
		runID:   runID,
		outputs: make(map[string]map[string]interface{}),
		wctx:    NewWorkflowContext(inputs),
		results: make(map[string]action.StepResult),
		done:    make(map[string]chan struct{}, len(stepIDs)),
	}
	for _, id := range stepIDs {
		rs.done[id] = make(chan struct{})
	}
	return rs
}

func (rs *runState) snapshot() map[string]map[string]interface{} {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make(map[string]map[string]interface{}, len(rs.outputs))
	for k, v := range rs.outputs {
		out[k] = v
	}
	return out
}

func (rs *runState) record(res action.StepResult, dur time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if _, dup := rs.results[res.StepID]; dup {
		// First write wins: a resumed step's checkpointed result is a fact.
		return
	}
	rs.results[res.StepID] = res
	if res.Outputs != nil {
		rs.outputs[res.StepID] = res.Outputs
	} else {
		rs.outputs[res.StepID] = map[string]interface{}{}
	}
	rs.wctx.SetOutput(res.StepID, StepOutput{
		Data:     res.Outputs,
		Error:    res.Error,
		Metadata: OutputMetadata{Duration: dur},
	})
	if ch, ok := rs.done[res.StepID]; ok {
		close(ch)
	}
}

func (rs *runState) resultOf(stepID string) (action.StepResult, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	r, ok := rs.results[stepID]
	return r, ok
}

// Execute runs def against inputs under the given options, blocking until
// every step has settled, the workflow's own timeout elapses, or ctx is
// cancelled.
func (e *Executor) Execute(ctx context.Context, def Definition, inputs map[string]interface{}, opts ExecuteOptions) (*WorkflowResult, error) {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	logger := e.logger.With(applog.WorkflowKey, def.WorkflowName, applog.RunIDKey, runID)

	if err := def.Validate(); err != nil {
		return nil, err
	}

	cfg := def.Execution
	if cfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	plan, err := Plan(def.Steps)
	if err != nil {
		return nil, err
	}

	allIDs := make([]string, 0, len(def.Steps))
	byID := make(map[string]action.Step, len(def.Steps))
	for _, s := range def.Steps {
		allIDs = append(allIDs, s.ID)
		byID[s.ID] = s
	}

	inputs, err = resolveRunInputs(def, inputs)
	if err != nil {
		return nil, err
	}

	st := newRunState(runID, inputs, allIDs)

	if opts.Resume {
		if err := e.seedFromCheckpoint(ctx, runID, st); err != nil {
			return nil, err
		}
	}

	recordRunStarted(def.WorkflowName)
	result := &WorkflowResult{
		RunID:        runID,
		WorkflowName: def.WorkflowName,
		Status:       StatusRunning,
		StartedAt:    time.Now(),
	}

	var runErr error
	switch cfg.mode() {
	case ModeSequential:
		runErr = e.runSequential(ctx, def, byID, plan, st, logger)
	case ModeParallel:
		runErr = e.runUnordered(ctx, def, allIDs, byID, st, cfg.parallelLimit(), logger)
	default: // dependency-aware
		runErr = e.runLayered(ctx, def, plan, byID, st, cfg.parallelLimit(), logger)
	}

	result.FinishedAt = time.Now()
	result.StepResults = st.results
	result.Outputs = st.snapshot()

	result.Status = finalStatus(st.results)
	switch {
	case ctx.Err() != nil:
		result.Status = StatusFailed
		result.Error = (&apperrors.CancelledError{Reason: "workflow timed out or was cancelled", Cause: ctx.Err()}).Error()
	case runErr != nil:
		result.Error = runErr.Error()
	}

	recordRunFinished(def.WorkflowName, result.Status)
	logger.Info("workflow run finished", "status", result.Status)
	return result, runErr
}

// resolveRunInputs checks caller inputs against the workflow's declared
// parameter map: every required parameter must be present, and absent
// optional parameters take their declared default. Returns a copy; the
// caller's map is never mutated.
func resolveRunInputs(def Definition, inputs map[string]interface{}) (map[string]interface{}, error) {
	merged := make(map[string]interface{}, len(inputs)+len(def.Inputs))
	for k, v := range inputs {
		merged[k] = v
	}
	for name, p := range def.Inputs {
		if _, ok := merged[name]; ok {
			continue
		}
		if p.Required {
			return nil, &apperrors.ValidationError{
				Field:      name,
				Message:    "workflow \"" + def.WorkflowName + "\" requires input \"" + name + "\" which was not provided",
				Suggestion: "provide this input or mark it not required",
			}
		}
		if p.Default != nil {
			merged[name] = p.Default
		}
	}
	return merged, nil
}

// errorKind extracts the machine-readable tag for a step error: the
// ErrorType of the nearest classifier in the chain, "cancelled" for
// context cancellation, or "error" when nothing more specific applies.
func errorKind(err error) string {
	var classifier apperrors.ErrorClassifier
	if apperrors.As(err, &classifier) {
		return classifier.ErrorType()
	}
	if apperrors.Is(err, context.Canceled) || apperrors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return "error"
}

// finalStatus derives the run's terminal status from the per-step
// outcomes: success when nothing failed, failed when only failures
// executed, partial when failures and successes mix, skipped when no step
// ran an action at all.
func finalStatus(results map[string]action.StepResult) Status {
	var succeeded, failed int
	for _, r := range results {
		switch r.Status {
		case stepSuccess:
			succeeded++
		case stepFailed:
			failed++
		}
	}
	switch {
	case failed > 0 && succeeded > 0:
		return StatusPartial
	case failed > 0:
		return StatusFailed
	case succeeded == 0:
		return StatusSkipped
	default:
		return StatusSuccess
	}
}

// seedFromCheckpoint loads the latest checkpoint for runID and pre-populates
// st's results as successes so dependent steps see them as already done.
// Outputs-only replay: a resumed step is not re-dispatched, it is treated as
// settled with the snapshot's recorded outputs.
func (e *Executor) seedFromCheckpoint(ctx context.Context, runID string, st *runState) error {
	if e.checkpoints == nil {
		return &apperrors.ConfigError{Key: "checkpoints", Reason: "resume requested but no checkpoint store is configured"}
	}
	rec, err := e.checkpoints.LoadLatest(ctx, runID)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	for stepID, outputs := range rec.StateSnapshot {
		st.record(action.StepResult{StepID: stepID, Status: stepSuccess, Outputs: outputs}, 0)
	}
	return nil
}

func (e *Executor) checkpointAfter(ctx context.Context, runID, stepID string, st *runState) {
	if e.checkpoints == nil {
		return
	}
	if _, err := e.checkpoints.Save(ctx, runID, stepID, st.snapshot()); err != nil {
		e.logger.Warn("checkpoint save failed", applog.RunIDKey, runID, applog.StepIDKey, stepID, "error", err)
	}
}

// runSequential runs every step one at a time in the order Plan's layers
// flatten to, which is a valid topological order.
func (e *Executor) runSequential(ctx context.Context, def Definition, byID map[string]action.Step, plan *dag.Plan, st *runState, logger *slog.Logger) error {
	var firstErr error
	for _, layer := range plan.Layers {
		for _, id := range layer {
			step := byID[id]
			res, err := e.runStep(ctx, def, step, st, logger)
			e.checkpointAfter(ctx, st.runID, id, st)
			if err != nil && firstErr == nil {
				firstErr = err
			}
			if res.Status == stepFailed && def.Execution.abortOnFailure() {
				return firstErr
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
	return firstErr
}

// runLayered runs each DAG layer to completion before starting the next,
// with up to parallelLimit steps of a layer in flight at once — the
// "dependency-aware" default mode.
func (e *Executor) runLayered(ctx context.Context, def Definition, plan *dag.Plan, byID map[string]action.Step, st *runState, parallelLimit int, logger *slog.Logger) error {
	sem := make(chan struct{}, parallelLimit)
	var firstErr error
	var firstErrMu sync.Mutex
	abort := false

	for _, layer := range plan.Layers {
		if abort || ctx.Err() != nil {
			break
		}
		var wg sync.WaitGroup
		for _, id := range layer {
			step := byID[id]
			wg.Add(1)
			sem <- struct{}{}
			go func(step action.Step) {
				defer wg.Done()
				defer func() { <-sem }()
				res, err := e.runStep(ctx, def, step, st, logger)
				if err != nil {
					firstErrMu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					firstErrMu.Unlock()
				}
				if res.Status == stepFailed && def.Execution.abortOnFailure() {
					firstErrMu.Lock()
					abort = true
					firstErrMu.Unlock()
				}
			}(step)
		}
		wg.Wait()
		for _, id := range layer {
			e.checkpointAfter(ctx, st.runID, id, st)
		}
	}

	if abort {
		e.markAbandonedSteps(plan, byID, st)
	}
	return firstErr
}

// markAbandonedSteps settles the steps of layers an aborted run never
// reached: any step downstream of a failure is recorded as failed with the
// dependency_failed tag. Walking layers in order makes the propagation
// transitive. Steps whose dependencies all succeeded before the abort stay
// unrecorded; they were never attempted and nothing about them failed.
func (e *Executor) markAbandonedSteps(plan *dag.Plan, byID map[string]action.Step, st *runState) {
	for _, layer := range plan.Layers {
		for _, id := range layer {
			if _, done := st.resultOf(id); done {
				continue
			}
			step := byID[id]
			for _, dep := range step.DependsOn {
				if res, ok := st.resultOf(dep); ok && res.Status == stepFailed {
					depErr := &apperrors.DependencyFailed{StepID: id, DependencyID: dep}
					st.record(action.StepResult{
						StepID:    id,
						Status:    stepFailed,
						Error:     depErr.Error(),
						ErrorKind: depErr.ErrorType(),
					}, 0)
					break
				}
			}
		}
	}
}

// runUnordered runs every step as soon as its own declared dependencies
// settle, without waiting for the rest of its DAG layer — "parallel" mode's
// maximum-concurrency scheduling, bounded only by parallelLimit.
func (e *Executor) runUnordered(ctx context.Context, def Definition, ids []string, byID map[string]action.Step, st *runState, parallelLimit int, logger *slog.Logger) error {
	sem := make(chan struct{}, parallelLimit)
	var wg sync.WaitGroup
	var firstErr error
	var mu sync.Mutex

	for _, id := range ids {
		wg.Add(1)
		go func(step action.Step) {
			defer wg.Done()
			for _, dep := range step.DependsOn {
				select {
				case <-st.done[dep]:
				case <-ctx.Done():
					return
				}
			}
			sem <- struct{}{}
			defer func() { <-sem }()
			res, err := e.runStep(ctx, def, step, st, logger)
			e.checkpointAfter(ctx, st.runID, step.ID, st)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
			_ = res
		}(byID[id])
	}
	wg.Wait()
	return firstErr
}

// runStep evaluates step's condition and dependencies, resolves its inputs,
// dispatches it through the retry envelope, and records the settled result.
func (e *Executor) runStep(ctx context.Context, def Definition, step action.Step, st *runState, logger *slog.Logger) (action.StepResult, error) {
	start := time.Now()
	stepLogger := logger.With(applog.StepIDKey, step.ID)

	// A step already settled by a resumed checkpoint is not re-executed.
	if prior, ok := st.resultOf(step.ID); ok {
		return prior, nil
	}

	if status, depErr := e.blockedByDependency(step, st); status != "" {
		res := action.StepResult{StepID: step.ID, Status: status}
		if depErr != nil {
			res.Error = depErr.Error()
			res.ErrorKind = errorKind(depErr)
		}
		st.record(res, time.Since(start))
		return res, nil
	}

	evalCtx := expr.BuildContextFromMaps(st.wctx.GetInputs(), st.snapshot(), nil)

	if step.Condition != "" {
		ok, err := e.eval.EvaluateBool(step.Condition, evalCtx)
		if err != nil {
			res := action.StepResult{StepID: step.ID, Status: stepFailed, Error: err.Error(), ErrorKind: errorKind(err)}
			st.record(res, time.Since(start))
			return res, err
		}
		if !ok {
			res := action.StepResult{
				StepID:  step.ID,
				Status:  stepSkipped,
				Outputs: map[string]interface{}{"skipped": true, "reason": "condition_false"},
			}
			st.record(res, time.Since(start))
			return res, nil
		}
	}

	resolved, err := e.resolveInputs(step, evalCtx)
	if err != nil {
		res := action.StepResult{StepID: step.ID, Status: stepFailed, Error: err.Error(), ErrorKind: errorKind(err)}
		st.record(res, time.Since(start))
		return res, err
	}

	outputs, dispatchErr := e.dispatchWithRetry(ctx, def, step, resolved, st, evalCtx, stepLogger)

	res := action.StepResult{StepID: step.ID, DurationMS: time.Since(start).Milliseconds()}
	if dispatchErr != nil {
		res.Status = stepFailed
		res.Error = dispatchErr.Error()
		res.ErrorKind = errorKind(dispatchErr)
		stepLogger.Error("step failed", "error", dispatchErr)
	} else {
		res.Status = stepSuccess
		res.Outputs = outputs
	}
	recordStep(string(step.Action), res.Status, time.Since(start))
	st.record(res, time.Since(start))
	return res, dispatchErr
}

// blockedByDependency reports how step must settle without running when a
// dependency did not succeed: a failed (or never-recorded, under an
// aborted run) dependency propagates as a failure tagged dependency_failed;
// a dependency that was itself skipped propagates as a skip. Returns ""
// when every dependency succeeded and the step may run.
func (e *Executor) blockedByDependency(step action.Step, st *runState) (string, error) {
	for _, dep := range step.DependsOn {
		res, ok := st.resultOf(dep)
		if !ok || res.Status == stepFailed {
			return stepFailed, &apperrors.DependencyFailed{StepID: step.ID, DependencyID: dep}
		}
		if res.Status == stepSkipped {
			return stepSkipped, nil
		}
	}
	return "", nil
}

// resolveInputs renders every string-valued input as a template
// expression; non-string values pass through as literals.
func (e *Executor) resolveInputs(step action.Step, evalCtx map[string]interface{}) (map[string]interface{}, error) {
	resolved := make(map[string]interface{}, len(step.Inputs))
	for k, v := range step.Inputs {
		s, ok := v.(string)
		if !ok {
			resolved[k] = v
			continue
		}
		rendered, err := expr.Render(e.eval, s, evalCtx)
		if err != nil {
			return nil, err
		}
		resolved[k] = rendered
	}
	return resolved, nil
}

// dispatchWithRetry dispatches step through the action Dispatcher, retrying
// up to step.RetryAttempts times with RetryDelaySeconds between attempts,
// and enforcing step.Timeout as a per-attempt deadline when set.
func (e *Executor) dispatchWithRetry(ctx context.Context, def Definition, step action.Step, resolved map[string]interface{}, st *runState, evalCtx map[string]interface{}, logger *slog.Logger) (map[string]interface{}, error) {
	attempts := step.RetryAttempts()
	delay := time.Duration(step.RetryDelaySeconds()) * time.Second

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		stepCtx := ctx
		var cancel context.CancelFunc
		if step.Timeout > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, time.Duration(step.Timeout)*time.Second)
		}

		req := action.Request{
			Step:           step,
			ResolvedInputs: resolved,
			State:          st.snapshot(),
			EvalContext:    evalCtx,
			Agents:         e.agents,
			Eval:           e.eval,
			Schema:         e.schema,
			ParallelLimit:  def.Execution.parallelLimit(),
			Recurse:        e.recurseFor(def, st, logger),
		}

		outputs, err := e.dispatcher.Dispatch(stepCtx, req)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return outputs, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < attempts {
			recordStepRetry(string(step.Action))
			logger.Warn("step attempt failed, retrying", "attempt", attempt, "error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

// recurseFor builds the action.Recurse callback the conditional and
// parallel-group handlers use to run a nested step list through the same
// executor machinery, bounded by the same parallel limit as the outer run.
func (e *Executor) recurseFor(def Definition, parent *runState, logger *slog.Logger) action.Recurse {
	return func(ctx context.Context, steps []action.Step, state map[string]map[string]interface{}) ([]action.StepResult, error) {
		ids := make([]string, len(steps))
		byID := make(map[string]action.Step, len(steps))
		for i, s := range steps {
			ids[i] = s.ID
			byID[s.ID] = s
		}
		sub := newRunState(parent.runID, parent.wctx.GetInputs(), ids)
		for id, outputs := range state {
			sub.outputs[id] = outputs
		}

		plan, err := Plan(steps)
		if err != nil {
			return nil, err
		}
		if runErr := e.runLayered(ctx, def, plan, byID, sub, def.Execution.parallelLimit(), logger); runErr != nil {
			results := make([]action.StepResult, 0, len(ids))
			for _, id := range ids {
				if r, ok := sub.resultOf(id); ok {
					results = append(results, r)
				}
			}
			return results, runErr
		}

		results := make([]action.StepResult, 0, len(ids))
		for _, id := range ids {
			if r, ok := sub.resultOf(id); ok {
				results = append(results, r)
			}
		}
		return results, nil
	}
}

