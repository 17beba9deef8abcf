// Package sensor implements the sensor kernel: a registry of sensors
// that debounce and deduplicate incoming events before resolving input
// bindings and submitting a target workflow to the Workflow Executor.
//
// Debounce here is a threshold rule — an event fires only if at least the
// debounce window has elapsed since the sensor last fired — rather than a
// delay-then-coalesce mechanism. The two solve different problems: a
// coalescing debouncer waits for a burst of filesystem events to go quiet
// before firing once, while a sensor must decide immediately whether an
// already-settled event is too soon after the last fire to act on again.
package sensor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	applog "github.com/mattmre/agentflow/internal/log"
	apperrors "github.com/mattmre/agentflow/pkg/errors"
	"github.com/mattmre/agentflow/pkg/expr"
)

// Kind identifies the source a sensor watches.
type Kind string

const (
	KindFileChange        Kind = "file-change"
	KindGitCommit         Kind = "git-commit"
	KindSchedule          Kind = "schedule"
	KindWebhook           Kind = "webhook"
	KindAssetMaterialized Kind = "asset-materialized"
	KindManual            Kind = "manual"
)

// ErrorPolicy selects how the kernel reacts when a fired workflow fails.
type ErrorPolicy string

const (
	// PolicyRetry leaves the sensor untouched; the next cycle simply tries
	// again.
	PolicyRetry ErrorPolicy = "retry"
	// PolicyAlert increments a consecutive-failure counter and emits an
	// alert once it passes AlertAfter.
	PolicyAlert ErrorPolicy = "alert"
	// PolicyDisable disables the sensor once consecutive failures reach
	// MaxRetries.
	PolicyDisable ErrorPolicy = "disable"
)

// Definition is a sensor's static configuration.
type Definition struct {
	Name            string
	Kind            Kind
	TargetWorkflow  string
	DebounceWindow  time.Duration
	RateLimit       rate.Limit // events/sec sustained; 0 disables rate limiting
	RateBurst       int
	DedupCapacity   int           // bounded fingerprint set size; 0 defaults to 1024
	DedupTTL        time.Duration // 0 defaults to 1 hour
	InputBindings   map[string]interface{}
	ErrorPolicy     ErrorPolicy
	AlertAfter      int
	MaxRetries      int
}

// Event is one occurrence a sensor observed, ready to be offered to Fire.
type Event struct {
	Fingerprint string
	Payload     map[string]interface{}
	Time        time.Time
}

// AlertFunc is invoked when a sensor's consecutive failures pass AlertAfter
// under the "alert" error policy.
type AlertFunc func(sensorName string, consecutiveFailures int, lastErr error)

// WorkflowExecutor is the subset of the workflow executor the kernel
// needs. Defined as an interface here, rather than depending on
// pkg/workflow.Executor directly, so pkg/sensor never imports pkg/workflow
// — the dependency runs the other way in a typical wiring: an application
// constructs both and hands the executor to the kernel.
type WorkflowExecutor interface {
	ExecuteByName(ctx context.Context, workflowName string, inputs map[string]interface{}) (Outcome, error)
}

// Outcome is the minimal result shape the kernel inspects to decide whether
// a fired run succeeded.
type Outcome struct {
	Status string // "success", "partial", "failed", "skipped"
	Error  string
}

func (o Outcome) failed() bool { return o.Status != "success" && o.Status != "skipped" }

type sensorState struct {
	mu                  sync.Mutex
	def                 Definition
	lastFire            time.Time
	seen                map[string]time.Time
	seenOrder           []string
	limiter             *rate.Limiter
	consecutiveFailures int
	disabled            bool
}

// Kernel owns every registered sensor and drives the debounce, dedup, rate
// limit, input resolution, and error-policy behaviors common to all of
// them.
type Kernel struct {
	mu       sync.RWMutex
	sensors  map[string]*sensorState
	eval     *expr.Evaluator
	executor WorkflowExecutor
	logger   *slog.Logger
	onAlert  AlertFunc
}

// NewKernel builds a Kernel over the given expression evaluator and
// workflow executor.
func NewKernel(eval *expr.Evaluator, executor WorkflowExecutor) *Kernel {
	return &Kernel{
		sensors:  make(map[string]*sensorState),
		eval:     eval,
		executor: executor,
		logger:   slog.Default(),
	}
}

// WithLogger replaces the default slog logger.
func (k *Kernel) WithLogger(l *slog.Logger) *Kernel {
	k.logger = l
	return k
}

// WithAlertFunc sets the callback invoked under the "alert" error policy.
func (k *Kernel) WithAlertFunc(f AlertFunc) *Kernel {
	k.onAlert = f
	return k
}

// Register adds a sensor to the kernel. Registering a name a second time
// replaces the prior sensor's state.
func (k *Kernel) Register(def Definition) error {
	if def.Name == "" {
		return &apperrors.ValidationError{Field: "name", Message: "sensor name must not be empty"}
	}
	if def.TargetWorkflow == "" {
		return &apperrors.ValidationError{Field: "target_workflow", Message: fmt.Sprintf("sensor %q has no target_workflow", def.Name)}
	}

	var limiter *rate.Limiter
	if def.RateLimit > 0 {
		burst := def.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(def.RateLimit, burst)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.sensors[def.Name] = &sensorState{def: def, seen: make(map[string]time.Time), limiter: limiter}
	sensorsRegistered.Set(float64(len(k.sensors)))
	return nil
}

// Disabled reports whether a sensor has been disabled by its error policy.
func (k *Kernel) Disabled(sensorName string) bool {
	k.mu.RLock()
	st, ok := k.sensors[sensorName]
	k.mu.RUnlock()
	if !ok {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.disabled
}

// Fire offers one event to a registered sensor. It applies rate limiting,
// dedup, and debounce in that order and, only if the event survives all
// three, resolves input bindings and submits the target workflow.
func (k *Kernel) Fire(ctx context.Context, sensorName string, ev Event) error {
	k.mu.RLock()
	st, ok := k.sensors[sensorName]
	k.mu.RUnlock()
	if !ok {
		return &apperrors.NotFoundError{Resource: "sensor", ID: sensorName}
	}

	st.mu.Lock()
	if st.disabled {
		st.mu.Unlock()
		return nil
	}
	if st.limiter != nil && !st.limiter.Allow() {
		st.mu.Unlock()
		recordRateLimited(sensorName)
		return nil
	}
	if ev.Fingerprint != "" && st.alreadySeen(ev.Fingerprint, ev.Time) {
		st.mu.Unlock()
		recordDeduped(sensorName)
		return nil
	}
	window := st.def.DebounceWindow
	if window > 0 && !st.lastFire.IsZero() && ev.Time.Sub(st.lastFire) < window {
		st.mu.Unlock()
		recordDebounced(sensorName)
		return nil
	}
	st.lastFire = ev.Time
	def := st.def
	st.mu.Unlock()

	recordFired(sensorName)

	inputs, err := k.resolveInputs(def, ev)
	if err != nil {
		return err
	}

	outcome, err := k.executor.ExecuteByName(ctx, def.TargetWorkflow, inputs)
	if err != nil || outcome.failed() {
		return k.handleFailure(sensorName, def, err, outcome)
	}

	st.mu.Lock()
	st.consecutiveFailures = 0
	st.mu.Unlock()
	return nil
}

// alreadySeen reports whether fingerprint is in the bounded recency set,
// recording it if not. Callers must hold st.mu.
func (st *sensorState) alreadySeen(fingerprint string, now time.Time) bool {
	ttl := st.def.DedupTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	capacity := st.def.DedupCapacity
	if capacity <= 0 {
		capacity = 1024
	}

	if seenAt, ok := st.seen[fingerprint]; ok && now.Sub(seenAt) < ttl {
		return true
	}

	st.seen[fingerprint] = now
	st.seenOrder = append(st.seenOrder, fingerprint)
	for len(st.seenOrder) > capacity {
		evict := st.seenOrder[0]
		st.seenOrder = st.seenOrder[1:]
		delete(st.seen, evict)
	}
	return false
}

// resolveInputs evaluates each of def.InputBindings (string values are
// expressions evaluated over ev.Payload; any other value passes through
// literally) the same way the executor resolves a step's inputs.
func (k *Kernel) resolveInputs(def Definition, ev Event) (map[string]interface{}, error) {
	ctx := expr.BuildContextFromMaps(ev.Payload, nil, nil)
	ctx["event"] = ev.Payload
	ctx["fingerprint"] = ev.Fingerprint

	resolved := make(map[string]interface{}, len(def.InputBindings))
	for name, v := range def.InputBindings {
		s, ok := v.(string)
		if !ok {
			resolved[name] = v
			continue
		}
		out, err := k.eval.Evaluate(s, ctx)
		if err != nil {
			return nil, err
		}
		resolved[name] = out
	}
	return resolved, nil
}

// handleFailure applies def.ErrorPolicy after a fired workflow failed.
func (k *Kernel) handleFailure(sensorName string, def Definition, runErr error, outcome Outcome) error {
	k.mu.RLock()
	st := k.sensors[sensorName]
	k.mu.RUnlock()

	st.mu.Lock()
	st.consecutiveFailures++
	failures := st.consecutiveFailures
	st.mu.Unlock()

	errMsg := outcome.Error
	if runErr != nil {
		errMsg = runErr.Error()
	}
	k.logger.Warn("sensor target workflow failed", applog.EventKey, sensorName, "error", errMsg, "consecutive_failures", failures)

	switch def.ErrorPolicy {
	case PolicyAlert:
		if def.AlertAfter > 0 && failures >= def.AlertAfter && k.onAlert != nil {
			k.onAlert(sensorName, failures, runErr)
		}
	case PolicyDisable:
		if def.MaxRetries > 0 && failures >= def.MaxRetries {
			st.mu.Lock()
			st.disabled = true
			st.mu.Unlock()
			k.logger.Error("sensor disabled after exceeding max_retries", applog.EventKey, sensorName)
		}
	case PolicyRetry, "":
		// no bookkeeping beyond the failure counter; the next cycle tries again.
	}

	if runErr != nil {
		return runErr
	}
	return nil
}
