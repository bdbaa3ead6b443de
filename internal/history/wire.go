package history

import "github.com/jkaninda/fundi/internal/anthropic"

// ToMessages folds the turn log into the alternating message array the
// API accepts. An assistant text turn and every tool_use turn that
// immediately follows it become one assistant message; a run of
// consecutive tool_result turns becomes one user message. The mapping is
// total: orphan tool_use runs become an assistant message with no leading
// text, and orphan tool_result runs still collapse into a user message.
func ToMessages(turns []Turn) []anthropic.MessageParam {
	var msgs []anthropic.MessageParam

	i := 0
	for i < len(turns) {
		switch turns[i].Role {
		case RoleUser:
			msgs = append(msgs, anthropic.MessageParam{
				Role:    "user",
				Content: turns[i].Content,
			})
			i++

		case RoleAssistant, RoleToolUse:
			blocks := []anthropic.ContentBlock{}
			if turns[i].Role == RoleAssistant {
				if turns[i].Content != "" {
					blocks = append(blocks, anthropic.TextBlock(turns[i].Content))
				}
				i++
			}
			for i < len(turns) && turns[i].Role == RoleToolUse {
				t := turns[i]
				blocks = append(blocks, anthropic.ToolUseBlock(t.ToolID, t.ToolName, t.ToolInput))
				i++
			}
			msgs = append(msgs, anthropic.MessageParam{
				Role:    "assistant",
				Content: blocks,
			})

		case RoleToolResult:
			blocks := []anthropic.ContentBlock{}
			for i < len(turns) && turns[i].Role == RoleToolResult {
				t := turns[i]
				blocks = append(blocks, anthropic.ToolResultBlock(t.ToolID, t.Content, t.IsError))
				i++
			}
			msgs = append(msgs, anthropic.MessageParam{
				Role:    "user",
				Content: blocks,
			})

		default:
			i++
		}
	}
	return msgs
}
