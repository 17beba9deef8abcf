package workflow

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestErrKeyNotFound_Error(t *testing.T) {
	err := ErrKeyNotFound{Key: "missing"}
	if !strings.Contains(err.Error(), "missing") {
		t.Errorf("expected error to name the key, got: %s", err.Error())
	}
}

func TestErrTypeAssertion_Error(t *testing.T) {
	err := ErrTypeAssertion{Key: "count", Got: "string", Want: "int64"}
	msg := err.Error()
	for _, want := range []string{"count", "string", "int64"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected error to contain %q, got: %s", want, msg)
		}
	}
}

func TestNewWorkflowContext(t *testing.T) {
	ctx := NewWorkflowContext(map[string]any{"name": "test"})
	if got, _ := ctx.GetString("name"); got != "test" {
		t.Errorf("expected input 'test', got %q", got)
	}

	// nil inputs must not panic
	empty := NewWorkflowContext(nil)
	if empty.GetInputs() == nil {
		t.Errorf("expected non-nil inputs map for nil input")
	}
}

func TestWorkflowContext_GetString(t *testing.T) {
	ctx := NewWorkflowContext(map[string]any{
		"str": "value",
		"num": 42,
	})

	got, err := ctx.GetString("str")
	if err != nil || got != "value" {
		t.Errorf("expected ('value', nil), got (%q, %v)", got, err)
	}

	if _, err := ctx.GetString("absent"); !errors.As(err, &ErrKeyNotFound{}) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}

	if _, err := ctx.GetString("num"); err == nil {
		t.Errorf("expected type assertion error for non-string")
	}
}

func TestWorkflowContext_GetStringOr(t *testing.T) {
	ctx := NewWorkflowContext(map[string]any{"str": "value"})

	if got := ctx.GetStringOr("str", "fallback"); got != "value" {
		t.Errorf("expected 'value', got %q", got)
	}
	if got := ctx.GetStringOr("absent", "fallback"); got != "fallback" {
		t.Errorf("expected 'fallback', got %q", got)
	}
}

func TestWorkflowContext_GetInt64(t *testing.T) {
	ctx := NewWorkflowContext(map[string]any{
		"int":     7,
		"int64":   int64(8),
		"int32":   int32(9),
		"float64": float64(10), // JSON numbers arrive as float64
		"str":     "nope",
	})

	tests := []struct {
		key  string
		want int64
	}{
		{"int", 7},
		{"int64", 8},
		{"int32", 9},
		{"float64", 10},
	}
	for _, tt := range tests {
		got, err := ctx.GetInt64(tt.key)
		if err != nil || got != tt.want {
			t.Errorf("GetInt64(%q) = (%d, %v), want (%d, nil)", tt.key, got, err, tt.want)
		}
	}

	if _, err := ctx.GetInt64("str"); err == nil {
		t.Errorf("expected type assertion error for string")
	}
	if _, err := ctx.GetInt64("absent"); err == nil {
		t.Errorf("expected key-not-found error")
	}
}

func TestWorkflowContext_GetBool(t *testing.T) {
	ctx := NewWorkflowContext(map[string]any{"flag": true, "str": "true"})

	got, err := ctx.GetBool("flag")
	if err != nil || !got {
		t.Errorf("expected (true, nil), got (%v, %v)", got, err)
	}

	if _, err := ctx.GetBool("str"); err == nil {
		t.Errorf("expected type assertion error for string 'true'")
	}

	if got := ctx.GetBoolOr("absent", true); !got {
		t.Errorf("expected default true")
	}
}

func TestWorkflowContext_GetMapAndSlice(t *testing.T) {
	ctx := NewWorkflowContext(map[string]any{
		"map":   map[string]interface{}{"a": 1},
		"slice": []interface{}{"x", "y"},
	})

	m, err := ctx.GetMap("map")
	if err != nil || m["a"] != 1 {
		t.Errorf("expected map with a=1, got (%v, %v)", m, err)
	}

	s, err := ctx.GetSlice("slice")
	if err != nil || len(s) != 2 {
		t.Errorf("expected slice of 2, got (%v, %v)", s, err)
	}

	if _, err := ctx.GetMap("slice"); err == nil {
		t.Errorf("expected type assertion error for slice-as-map")
	}
}

func TestWorkflowContext_SetAndGetOutput(t *testing.T) {
	ctx := NewWorkflowContext(nil)
	ctx.SetOutput("step-a", StepOutput{
		Data:     map[string]interface{}{"n": 3},
		Metadata: OutputMetadata{Duration: 2 * time.Second},
	})

	out, ok := ctx.GetOutputs()["step-a"]
	if !ok {
		t.Fatalf("expected output for step-a")
	}
	if out.Data["n"] != 3 {
		t.Errorf("expected n=3, got %v", out.Data["n"])
	}
	if out.Metadata.Duration != 2*time.Second {
		t.Errorf("expected 2s duration, got %v", out.Metadata.Duration)
	}
}

func TestWorkflowContext_ConcurrentReads(t *testing.T) {
	ctx := NewWorkflowContext(map[string]any{"key": "value"})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if got := ctx.GetStringOr("key", ""); got != "value" {
					t.Errorf("concurrent read returned %q", got)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestErrorMessages_NoValueLeakage(t *testing.T) {
	secret := "super-secret-token"
	ctx := NewWorkflowContext(map[string]any{"token": secret})

	_, err := ctx.GetInt64("token")
	if err == nil {
		t.Fatalf("expected error")
	}
	if strings.Contains(err.Error(), secret) {
		t.Errorf("error message leaked the value: %s", err.Error())
	}
}

func TestStepOutput_ToMap(t *testing.T) {
	out := StepOutput{
		Data:  map[string]interface{}{"summary": "done", "count": 2},
		Error: "",
	}
	m := out.ToMap()
	if m["summary"] != "done" || m["count"] != 2 {
		t.Errorf("unexpected map: %v", m)
	}
	if _, ok := m["error"]; ok {
		t.Errorf("error key should be absent for successful output")
	}

	failed := StepOutput{Error: "boom"}
	if failed.ToMap()["error"] != "boom" {
		t.Errorf("expected error key for failed output")
	}
}
