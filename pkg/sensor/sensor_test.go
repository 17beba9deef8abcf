package sensor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattmre/agentflow/pkg/expr"
)

type fakeExecutor struct {
	calls   []string
	inputs  []map[string]interface{}
	outcome Outcome
	err     error
}

func (f *fakeExecutor) ExecuteByName(ctx context.Context, workflowName string, inputs map[string]interface{}) (Outcome, error) {
	f.calls = append(f.calls, workflowName)
	f.inputs = append(f.inputs, inputs)
	return f.outcome, f.err
}

func newTestKernel(exec *fakeExecutor) *Kernel {
	return NewKernel(expr.New(), exec)
}

func TestFireSubmitsTargetWorkflow(t *testing.T) {
	exec := &fakeExecutor{outcome: Outcome{Status: "success"}}
	k := newTestKernel(exec)
	require.NoError(t, k.Register(Definition{
		Name:           "on-commit",
		Kind:           KindGitCommit,
		TargetWorkflow: "build",
		InputBindings:  map[string]interface{}{"sha": "event.sha"},
	}))

	err := k.Fire(context.Background(), "on-commit", Event{
		Payload: map[string]interface{}{"sha": "abc123"},
		Time:    time.Now(),
	})
	require.NoError(t, err)
	require.Len(t, exec.calls, 1)
	assert.Equal(t, "build", exec.calls[0])
	assert.Equal(t, "abc123", exec.inputs[0]["sha"])
}

func TestFireUnknownSensor(t *testing.T) {
	k := newTestKernel(&fakeExecutor{})
	err := k.Fire(context.Background(), "nope", Event{Time: time.Now()})
	require.Error(t, err)
}

func TestDebounceDiscardsEventsInsideWindow(t *testing.T) {
	exec := &fakeExecutor{outcome: Outcome{Status: "success"}}
	k := newTestKernel(exec)
	require.NoError(t, k.Register(Definition{
		Name:           "watch",
		TargetWorkflow: "rebuild",
		DebounceWindow: time.Minute,
	}))

	base := time.Now()
	require.NoError(t, k.Fire(context.Background(), "watch", Event{Time: base}))
	require.NoError(t, k.Fire(context.Background(), "watch", Event{Time: base.Add(10 * time.Second)}))
	assert.Len(t, exec.calls, 1, "second event inside the debounce window must be discarded")

	require.NoError(t, k.Fire(context.Background(), "watch", Event{Time: base.Add(2 * time.Minute)}))
	assert.Len(t, exec.calls, 2, "an event past the debounce window must fire")
}

func TestDedupDiscardsRepeatedFingerprint(t *testing.T) {
	exec := &fakeExecutor{outcome: Outcome{Status: "success"}}
	k := newTestKernel(exec)
	require.NoError(t, k.Register(Definition{Name: "watch", TargetWorkflow: "rebuild"}))

	now := time.Now()
	require.NoError(t, k.Fire(context.Background(), "watch", Event{Fingerprint: "fp-1", Time: now}))
	require.NoError(t, k.Fire(context.Background(), "watch", Event{Fingerprint: "fp-1", Time: now.Add(time.Millisecond)}))
	assert.Len(t, exec.calls, 1, "a repeated fingerprint must be discarded")

	require.NoError(t, k.Fire(context.Background(), "watch", Event{Fingerprint: "fp-2", Time: now.Add(2 * time.Millisecond)}))
	assert.Len(t, exec.calls, 2, "a distinct fingerprint must fire")
}

func TestErrorPolicyDisableStopsFiringAfterMaxRetries(t *testing.T) {
	exec := &fakeExecutor{outcome: Outcome{Status: "failed", Error: "boom"}}
	k := newTestKernel(exec)
	require.NoError(t, k.Register(Definition{
		Name:           "flaky",
		TargetWorkflow: "rebuild",
		ErrorPolicy:    PolicyDisable,
		MaxRetries:     2,
	}))

	now := time.Now()
	for i := 0; i < 2; i++ {
		err := k.Fire(context.Background(), "flaky", Event{Fingerprint: "", Time: now.Add(time.Duration(i) * time.Millisecond)})
		assert.NoError(t, err)
	}
	assert.True(t, k.Disabled("flaky"), "sensor should be disabled after MaxRetries consecutive failures")

	err := k.Fire(context.Background(), "flaky", Event{Time: now.Add(time.Second)})
	require.NoError(t, err)
	assert.Len(t, exec.calls, 2, "a disabled sensor must stop submitting the target workflow")
}

func TestErrorPolicyAlertInvokesCallback(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("network error")}
	var alerted string
	var alertCount int
	k := newTestKernel(exec).WithAlertFunc(func(sensorName string, consecutiveFailures int, lastErr error) {
		alerted = sensorName
		alertCount = consecutiveFailures
	})
	require.NoError(t, k.Register(Definition{
		Name:           "noisy",
		TargetWorkflow: "rebuild",
		ErrorPolicy:    PolicyAlert,
		AlertAfter:     2,
	}))

	now := time.Now()
	for i := 0; i < 2; i++ {
		_ = k.Fire(context.Background(), "noisy", Event{Time: now.Add(time.Duration(i) * time.Millisecond)})
	}
	assert.Equal(t, "noisy", alerted)
	assert.Equal(t, 2, alertCount)
}

func TestRateLimitDiscardsBurstEvents(t *testing.T) {
	exec := &fakeExecutor{outcome: Outcome{Status: "success"}}
	k := newTestKernel(exec)
	require.NoError(t, k.Register(Definition{
		Name:           "bursty",
		TargetWorkflow: "rebuild",
		RateLimit:      0.001, // effectively one token available at start
		RateBurst:      1,
	}))

	now := time.Now()
	require.NoError(t, k.Fire(context.Background(), "bursty", Event{Fingerprint: "a", Time: now}))
	require.NoError(t, k.Fire(context.Background(), "bursty", Event{Fingerprint: "b", Time: now.Add(time.Millisecond)}))
	assert.Len(t, exec.calls, 1, "second event should be discarded by the rate limiter")
}
