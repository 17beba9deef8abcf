package statechart

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/mattmre/agentflow/pkg/errors"
)

func trafficLightDef() *Definition {
	return &Definition{
		Name:    "traffic-light",
		Initial: "red",
		States: map[string]StateDef{
			"red": {
				Name:        "red",
				Transitions: []TransitionDef{{Event: "tick", Target: "green"}},
			},
			"green": {
				Name:        "green",
				Transitions: []TransitionDef{{Event: "tick", Target: "yellow"}},
			},
			"yellow": {
				Name:        "yellow",
				Transitions: []TransitionDef{{Event: "tick", Target: "red"}},
			},
		},
	}
}

func TestMachineSendFiresMatchingTransition(t *testing.T) {
	m, err := New(trafficLightDef(), nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "red", m.Current())

	fired, err := m.Send(context.Background(), "tick")
	require.NoError(t, err)
	assert.True(t, fired)
	assert.Equal(t, "green", m.Current())
	assert.Equal(t, []string{"red", "green"}, m.History())
}

func TestMachineSendUnknownEventDoesNotFire(t *testing.T) {
	m, err := New(trafficLightDef(), nil, nil, nil)
	require.NoError(t, err)

	fired, err := m.Send(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.False(t, fired)
	assert.Equal(t, "red", m.Current())
}

func TestMachineGuardBlocksTransition(t *testing.T) {
	def := &Definition{
		Name:    "gate",
		Initial: "closed",
		States: map[string]StateDef{
			"closed": {
				Name: "closed",
				Transitions: []TransitionDef{
					{Event: "open", Target: "open", Guard: "has-key"},
				},
			},
			"open": {Name: "open"},
		},
	}
	guards := map[string]Guard{
		"has-key": func(ctx map[string]interface{}) bool {
			v, _ := ctx["has_key"].(bool)
			return v
		},
	}

	m, err := New(def, guards, nil, map[string]interface{}{"has_key": false})
	require.NoError(t, err)

	fired, err := m.Send(context.Background(), "open")
	require.NoError(t, err)
	assert.False(t, fired)
	assert.Equal(t, "closed", m.Current())

	m.Context()["has_key"] = true
	fired, err = m.Send(context.Background(), "open")
	require.NoError(t, err)
	assert.True(t, fired)
	assert.Equal(t, "open", m.Current())
}

func TestMachineEntryExitActionsRun(t *testing.T) {
	var log []string
	def := &Definition{
		Name:    "door",
		Initial: "closed",
		States: map[string]StateDef{
			"closed": {
				Name:        "closed",
				Exit:        []string{"log-exit-closed"},
				Transitions: []TransitionDef{{Event: "open", Target: "open", Actions: []string{"log-transition"}}},
			},
			"open": {
				Name:  "open",
				Entry: []string{"log-enter-open"},
			},
		},
	}
	actions := map[string]Action{
		"log-exit-closed": func(ctx map[string]interface{}) error { log = append(log, "exit-closed"); return nil },
		"log-transition":  func(ctx map[string]interface{}) error { log = append(log, "transition"); return nil },
		"log-enter-open":  func(ctx map[string]interface{}) error { log = append(log, "enter-open"); return nil },
	}

	m, err := New(def, nil, actions, nil)
	require.NoError(t, err)

	_, err = m.Send(context.Background(), "open")
	require.NoError(t, err)
	assert.Equal(t, []string{"exit-closed", "transition", "enter-open"}, log)
}

func TestMachineFinalStateRefusesFurtherEvents(t *testing.T) {
	def := &Definition{
		Name:    "run",
		Initial: "running",
		States: map[string]StateDef{
			"running": {
				Name:        "running",
				Transitions: []TransitionDef{{Event: "finish", Target: "done"}},
			},
			"done": {Name: "done", Final: true},
		},
	}
	m, err := New(def, nil, nil, nil)
	require.NoError(t, err)

	_, err = m.Send(context.Background(), "finish")
	require.NoError(t, err)
	assert.True(t, m.IsFinal())

	_, err = m.Send(context.Background(), "finish")
	require.Error(t, err)
	var finalErr *apperrors.FinalStateError
	assert.ErrorAs(t, err, &finalErr)
}

func TestMachineExecuteStopsAtFinalState(t *testing.T) {
	def := &Definition{
		Name:    "run",
		Initial: "a",
		States: map[string]StateDef{
			"a": {Name: "a", Transitions: []TransitionDef{{Event: "next", Target: "b"}}},
			"b": {Name: "b", Final: true, Transitions: []TransitionDef{{Event: "next", Target: "c"}}},
			"c": {Name: "c"},
		},
	}
	m, err := New(def, nil, nil, nil)
	require.NoError(t, err)

	err = m.Execute(context.Background(), []string{"next", "next", "next"})
	require.NoError(t, err)
	assert.Equal(t, "b", m.Current())
}

func TestMachineSubMachineCompositionAndEscape(t *testing.T) {
	sub := &Definition{
		Name:    "inner",
		Initial: "idle",
		States: map[string]StateDef{
			"idle": {Name: "idle", Transitions: []TransitionDef{{Event: "go", Target: "busy"}}},
			"busy": {Name: "busy"},
		},
	}
	outer := &Definition{
		Name:    "outer",
		Initial: "active",
		States: map[string]StateDef{
			"active": {
				Name:       "active",
				SubMachine: sub,
				Escape:     []string{"abort"},
				Transitions: []TransitionDef{
					{Event: "abort", Target: "aborted"},
				},
			},
			"aborted": {Name: "aborted", Final: true},
		},
	}

	m, err := New(outer, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "active", m.Current())

	fired, err := m.Send(context.Background(), "go")
	require.NoError(t, err)
	assert.True(t, fired, "the sub-machine should handle 'go'")
	assert.Equal(t, "active", m.Current(), "outer state unchanged by an inner transition")

	fired, err = m.Send(context.Background(), "abort")
	require.NoError(t, err)
	assert.True(t, fired, "'abort' is an escape event and should bubble to the outer machine")
	assert.Equal(t, "aborted", m.Current())
}

func TestNewRejectsUnknownInitialState(t *testing.T) {
	def := &Definition{Name: "bad", Initial: "missing", States: map[string]StateDef{}}
	_, err := New(def, nil, nil, nil)
	require.Error(t, err)
}
