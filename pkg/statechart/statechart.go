// Package statechart implements a reactive, event-driven alternative to
// the dependency-aware workflow executor for long-lived flows that react
// to external events rather than running a DAG to completion in one pass.
// Machines have arbitrary named states with mutable context, guarded
// transitions, entry/exit/transition actions, final states, and
// sub-machine composition.
package statechart

import (
	"context"
	"fmt"

	apperrors "github.com/mattmre/agentflow/pkg/errors"
)

// Guard decides whether a transition may fire, evaluated against the
// machine's current context.
type Guard func(ctx map[string]interface{}) bool

// Action mutates the machine's context as a side effect of a transition or
// a state's entry/exit.
type Action func(ctx map[string]interface{}) error

// TransitionDef is one outgoing edge of a state, selected by event name and
// gated by an optional named guard.
type TransitionDef struct {
	Event   string
	Target  string
	Guard   string   // name looked up in the Machine's guard table; empty means unconditional
	Actions []string // names looked up in the Machine's action table, run in order
}

// StateDef describes one state of a Definition.
type StateDef struct {
	Name        string
	Final       bool
	Entry       []string // action names run on entering this state
	Exit        []string // action names run on leaving this state
	Transitions []TransitionDef

	// SubMachine, when set, is instantiated as a nested Machine whenever
	// this state is entered. Events are offered to the sub-machine first;
	// names listed in Escape always skip the sub-machine and are handled
	// by this state's own Transitions instead, so an outer machine can
	// reclaim control from a nested one.
	SubMachine *Definition
	Escape     []string
}

// Definition is the static description of a statechart: its states and
// which one starts active.
type Definition struct {
	Name    string
	Initial string
	States  map[string]StateDef
}

func (d *Definition) state(name string) (StateDef, error) {
	s, ok := d.States[name]
	if !ok {
		return StateDef{}, &apperrors.ValidationError{
			Field:   "state",
			Message: fmt.Sprintf("statechart %q has no state named %q", d.Name, name),
		}
	}
	return s, nil
}

// Machine is a running instance of a Definition: its current state, history
// of visited state names, and mutable context.
type Machine struct {
	def     *Definition
	guards  map[string]Guard
	actions map[string]Action

	current string
	history []string
	context map[string]interface{}

	sub *Machine
}

// New builds a Machine over def, starting in def.Initial, and runs that
// state's entry actions (and instantiates its sub-machine, if any) the same
// way every later transition does.
func New(def *Definition, guards map[string]Guard, actions map[string]Action, initialContext map[string]interface{}) (*Machine, error) {
	if def.Initial == "" {
		return nil, &apperrors.ValidationError{Field: "initial", Message: fmt.Sprintf("statechart %q has no initial state", def.Name)}
	}
	if _, err := def.state(def.Initial); err != nil {
		return nil, err
	}

	if initialContext == nil {
		initialContext = make(map[string]interface{})
	}
	m := &Machine{
		def:     def,
		guards:  guards,
		actions: actions,
		context: initialContext,
	}

	initial, _ := def.state(def.Initial)
	m.current = initial.Name
	m.history = append(m.history, initial.Name)
	if err := m.enter(initial); err != nil {
		return nil, err
	}
	return m, nil
}

// Current returns the machine's current state name.
func (m *Machine) Current() string { return m.current }

// History returns every state name visited, in order, including the
// initial state.
func (m *Machine) History() []string {
	out := make([]string, len(m.history))
	copy(out, m.history)
	return out
}

// Context returns the machine's live mutable context. Callers that want a
// snapshot should copy it themselves; the machine does not defend against
// concurrent external mutation.
func (m *Machine) Context() map[string]interface{} { return m.context }

// IsFinal reports whether the current state refuses further events.
func (m *Machine) IsFinal() bool {
	s, err := m.def.state(m.current)
	return err == nil && s.Final
}

// Send applies one event: routes it to an active sub-machine first (unless
// the current state lists it as an escape event), then looks up the
// current state's own transitions for event and fires the first one whose
// guard (if any) evaluates true against context. It reports whether any
// transition fired.
func (m *Machine) Send(ctx context.Context, event string) (bool, error) {
	current, err := m.def.state(m.current)
	if err != nil {
		return false, err
	}
	if current.Final {
		return false, &apperrors.FinalStateError{MachineID: m.def.Name, State: m.current, Event: event}
	}

	if m.sub != nil && !contains(current.Escape, event) {
		fired, err := m.sub.Send(ctx, event)
		if err != nil {
			if _, isFinal := err.(*apperrors.FinalStateError); !isFinal {
				return false, err
			}
			// the sub-machine reached a final state on an earlier event and
			// is refusing further events; fall through and let the outer
			// machine's own transitions (if any) handle this one.
		} else if fired {
			return true, nil
		}
	}

	for _, t := range current.Transitions {
		if t.Event != event {
			continue
		}
		if t.Guard != "" {
			g, ok := m.guards[t.Guard]
			if !ok {
				return false, &apperrors.ValidationError{Field: "guard", Message: fmt.Sprintf("statechart %q: unknown guard %q", m.def.Name, t.Guard)}
			}
			if !g(m.context) {
				continue
			}
		}
		return true, m.fire(current, t)
	}
	return false, nil
}

// Execute applies events in order, stopping early if a final state is
// reached.
func (m *Machine) Execute(ctx context.Context, events []string) error {
	for _, ev := range events {
		if m.IsFinal() {
			break
		}
		if _, err := m.Send(ctx, ev); err != nil {
			return err
		}
		if m.IsFinal() {
			break
		}
	}
	return nil
}

// fire runs a transition: the current state's exit actions, the
// transition's own actions, the state change, then the target state's
// entry actions (which may instantiate a new sub-machine).
func (m *Machine) fire(current StateDef, t TransitionDef) error {
	if err := m.runActions(current.Exit); err != nil {
		return err
	}
	if err := m.runActions(t.Actions); err != nil {
		return err
	}

	target, err := m.def.state(t.Target)
	if err != nil {
		return err
	}

	m.sub = nil
	m.current = t.Target
	m.history = append(m.history, t.Target)

	return m.enter(target)
}

// enter runs a state's entry actions and instantiates its sub-machine, if
// it declares one. Callers are responsible for having already set
// m.current/m.history — enter only runs the side effects of arriving.
func (m *Machine) enter(s StateDef) error {
	if err := m.runActions(s.Entry); err != nil {
		return err
	}
	if s.SubMachine != nil {
		sub, err := New(s.SubMachine, m.guards, m.actions, m.context)
		if err != nil {
			return err
		}
		m.sub = sub
	}
	return nil
}

func (m *Machine) runActions(names []string) error {
	for _, name := range names {
		a, ok := m.actions[name]
		if !ok {
			return &apperrors.ValidationError{Field: "action", Message: fmt.Sprintf("statechart %q: unknown action %q", m.def.Name, name)}
		}
		if err := a(m.context); err != nil {
			return fmt.Errorf("statechart %q: action %q failed: %w", m.def.Name, name, err)
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
