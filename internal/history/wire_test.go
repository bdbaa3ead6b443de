package history

import (
	"testing"

	"github.com/jkaninda/fundi/internal/anthropic"
)

func blocks(t *testing.T, m anthropic.MessageParam) []anthropic.ContentBlock {
	t.Helper()
	b, ok := m.Content.([]anthropic.ContentBlock)
	if !ok {
		t.Fatalf("content is %T, want block array", m.Content)
	}
	return b
}

func TestToMessagesBundlesToolUseWithAssistantText(t *testing.T) {
	turns := []Turn{
		UserTurn("hi"),
		AssistantTurn("ok", "m1"),
		ToolUseTurn("t1", "read_editor", map[string]any{}),
		ToolResultTurn("t1", "cube(1);", false),
	}

	msgs := ToMessages(turns)
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}

	if msgs[0].Role != "user" || msgs[0].Content != "hi" {
		t.Errorf("msg 0 = %+v", msgs[0])
	}

	if msgs[1].Role != "assistant" {
		t.Fatalf("msg 1 role = %q", msgs[1].Role)
	}
	b := blocks(t, msgs[1])
	if len(b) != 2 {
		t.Fatalf("assistant blocks = %d, want text + tool_use", len(b))
	}
	if b[0].Type != "text" || b[0].Text != "ok" {
		t.Errorf("block 0 = %+v", b[0])
	}
	if b[1].Type != "tool_use" || b[1].ID != "t1" || b[1].Name != "read_editor" {
		t.Errorf("block 1 = %+v", b[1])
	}

	if msgs[2].Role != "user" {
		t.Fatalf("msg 2 role = %q", msgs[2].Role)
	}
	rb := blocks(t, msgs[2])
	if len(rb) != 1 || rb[0].Type != "tool_result" || rb[0].ToolUseID != "t1" {
		t.Errorf("result blocks = %+v", rb)
	}
}

func TestToMessagesCollapsesConsecutiveToolResults(t *testing.T) {
	turns := []Turn{
		UserTurn("go"),
		AssistantTurn("running both", "m1"),
		ToolUseTurn("t1", "run_preview", map[string]any{}),
		ToolUseTurn("t2", "run_render", map[string]any{}),
		ToolResultTurn("t1", "preview ok", false),
		ToolResultTurn("t2", "render failed", true),
	}

	msgs := ToMessages(turns)
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}

	ab := blocks(t, msgs[1])
	if len(ab) != 3 {
		t.Fatalf("assistant blocks = %d, want text + 2 tool_use", len(ab))
	}

	rb := blocks(t, msgs[2])
	if len(rb) != 2 {
		t.Fatalf("result blocks = %d, want 2", len(rb))
	}
	if rb[0].ToolUseID != "t1" || rb[0].IsError {
		t.Errorf("result 0 = %+v", rb[0])
	}
	if rb[1].ToolUseID != "t2" || !rb[1].IsError {
		t.Errorf("result 1 = %+v", rb[1])
	}
}

func TestToMessagesOrphanToolUse(t *testing.T) {
	turns := []Turn{
		UserTurn("go"),
		ToolUseTurn("t1", "read_editor", map[string]any{}),
	}

	msgs := ToMessages(turns)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[1].Role != "assistant" {
		t.Errorf("msg 1 role = %q", msgs[1].Role)
	}
	b := blocks(t, msgs[1])
	if len(b) != 1 || b[0].Type != "tool_use" {
		t.Errorf("orphan tool_use blocks = %+v", b)
	}
}

func TestToMessagesOrphanToolResult(t *testing.T) {
	turns := []Turn{
		ToolResultTurn("t9", "stale", false),
		UserTurn("continue"),
	}

	msgs := ToMessages(turns)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[0].Role != "user" {
		t.Errorf("msg 0 role = %q", msgs[0].Role)
	}
	b := blocks(t, msgs[0])
	if len(b) != 1 || b[0].Type != "tool_result" || b[0].ToolUseID != "t9" {
		t.Errorf("orphan result blocks = %+v", b)
	}
	if msgs[1].Content != "continue" {
		t.Errorf("msg 1 = %+v", msgs[1])
	}
}

func TestToMessagesAssistantWithoutTools(t *testing.T) {
	turns := []Turn{
		UserTurn("hi"),
		AssistantTurn("hello", "m1"),
		UserTurn("thanks"),
	}

	msgs := ToMessages(turns)
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	b := blocks(t, msgs[1])
	if len(b) != 1 || b[0].Text != "hello" {
		t.Errorf("assistant blocks = %+v", b)
	}
}

func TestToMessagesEmpty(t *testing.T) {
	if msgs := ToMessages(nil); len(msgs) != 0 {
		t.Errorf("messages = %+v, want none", msgs)
	}
}
