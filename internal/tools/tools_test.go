package tools

import (
	"context"
	"reflect"
	"strings"
	"testing"
)

func echoTool(name string) *Func {
	return &Func{
		ToolName: name,
		ToolDesc: "echoes input",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
		},
		Run: func(_ context.Context, params map[string]any) (*Result, error) {
			text, _ := params["text"].(string)
			return &Result{Output: text}, nil
		},
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("echo"))

	if got := r.Get("echo"); got == nil {
		t.Fatal("registered tool not found")
	}
	if got := r.Get("missing"); got != nil {
		t.Errorf("Get(missing) = %v, want nil", got)
	}
}

func TestRegistryDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	r := NewRegistry()
	r.Register(echoTool("echo"))
	r.Register(echoTool("echo"))
}

func TestDefinitionsStableOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("write_editor"))
	r.Register(echoTool("read_editor"))
	r.Register(echoTool("run_render"))

	defs := r.Definitions()
	var names []string
	for _, d := range defs {
		names = append(names, d.Name)
	}
	want := []string{"read_editor", "run_render", "write_editor"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("definition order = %v, want %v", names, want)
	}
	if defs[0].Description == "" || defs[0].InputSchema == nil {
		t.Errorf("definition incomplete: %+v", defs[0])
	}
}

func TestFuncToolExecute(t *testing.T) {
	tool := echoTool("echo")
	res, err := tool.Execute(context.Background(), map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Output != "hi" || res.IsError {
		t.Errorf("result = %+v", res)
	}
}

func TestTruncateOutput(t *testing.T) {
	long := strings.Repeat("x", 100)
	got := TruncateOutput(long, 50)
	if len(got) > 50 {
		t.Errorf("len = %d, want <= 50", len(got))
	}
	if !strings.Contains(got, "truncated") {
		t.Errorf("no truncation notice in %q", got)
	}
	if got := TruncateOutput("short", 50); got != "short" {
		t.Errorf("short string modified: %q", got)
	}
}
