package anthropic

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// assembler is the protocol state machine that folds stream events into a
// structured assistant message. One assembler serves one request attempt;
// it is driven from a single goroutine so it holds no locks.
type assembler struct {
	logger *slog.Logger

	msg        Message
	blocks     []ContentBlock
	blockIndex int

	// current text block accumulation
	text strings.Builder

	// current tool_use block accumulation
	toolID    string
	toolName  string
	toolInput strings.Builder
}

func newAssembler(logger *slog.Logger) *assembler {
	return &assembler{logger: logger, blockIndex: -1}
}

// handle processes one SSE frame and returns the notifications it
// produces, in order. A returned error terminates the stream (only the
// provider's error event does that); malformed payloads are skipped.
func (a *assembler) handle(event, data string) ([]Event, error) {
	switch event {
	case "message_start":
		var p struct {
			Message *Message `json:"message"`
		}
		if err := json.Unmarshal([]byte(data), &p); err != nil || p.Message == nil {
			a.skip(event, err)
			return nil, nil
		}
		a.msg = *p.Message
		a.msg.Content = nil
		a.blocks = nil
		return nil, nil

	case "content_block_start":
		var p struct {
			Index        int           `json:"index"`
			ContentBlock *ContentBlock `json:"content_block"`
		}
		if err := json.Unmarshal([]byte(data), &p); err != nil || p.ContentBlock == nil {
			a.skip(event, err)
			return nil, nil
		}
		a.blockIndex = p.Index
		switch p.ContentBlock.Type {
		case "text":
			a.text.Reset()
		case "tool_use":
			a.toolID = p.ContentBlock.ID
			a.toolName = p.ContentBlock.Name
			a.toolInput.Reset()
			a.logger.Debug("tool use started",
				slog.String("tool", a.toolName),
				slog.String("id", a.toolID),
			)
			return []Event{{Type: EventToolStart, ToolID: a.toolID, ToolName: a.toolName}}, nil
		}
		return nil, nil

	case "content_block_delta":
		var p struct {
			Delta struct {
				Type        string `json:"type"`
				Text        string `json:"text"`
				PartialJSON string `json:"partial_json"`
			} `json:"delta"`
		}
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			a.skip(event, err)
			return nil, nil
		}
		switch p.Delta.Type {
		case "text_delta":
			a.text.WriteString(p.Delta.Text)
			return []Event{{Type: EventText, Text: p.Delta.Text}}, nil
		case "input_json_delta":
			a.toolInput.WriteString(p.Delta.PartialJSON)
			return []Event{{Type: EventToolInputDelta, ToolID: a.toolID, PartialJSON: p.Delta.PartialJSON}}, nil
		}
		return nil, nil

	case "content_block_stop":
		return a.finishBlock(), nil

	case "message_delta":
		var p struct {
			Delta struct {
				StopReason   *string `json:"stop_reason"`
				StopSequence *string `json:"stop_sequence"`
			} `json:"delta"`
			Usage *Usage `json:"usage"`
		}
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			a.skip(event, err)
			return nil, nil
		}
		if p.Delta.StopReason != nil {
			a.msg.StopReason = *p.Delta.StopReason
		}
		if p.Delta.StopSequence != nil {
			a.msg.StopSequence = *p.Delta.StopSequence
		}
		if p.Usage != nil {
			if p.Usage.InputTokens > 0 {
				a.msg.Usage.InputTokens = p.Usage.InputTokens
			}
			if p.Usage.OutputTokens > 0 {
				a.msg.Usage.OutputTokens = p.Usage.OutputTokens
			}
		}
		return nil, nil

	case "message_stop":
		// Finalization happens when the transport signals end of response.
		return nil, nil

	case "error":
		var p struct {
			Error struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("stream error: %s", data)
		}
		return nil, &APIError{Type: p.Error.Type, Message: p.Error.Message}
	}

	a.logger.Debug("unhandled stream event", slog.String("event", event))
	return nil, nil
}

// finishBlock promotes the currently open block into the content array.
// An open block that is neither a tool_use nor non-empty text is dropped.
func (a *assembler) finishBlock() []Event {
	defer func() { a.blockIndex = -1 }()

	if a.toolID != "" {
		input := map[string]any{}
		raw := a.toolInput.String()
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &input); err != nil {
				a.logger.Warn("tool input JSON parse failed, substituting empty object",
					slog.String("tool", a.toolName),
					slog.String("error", err.Error()),
				)
				input = map[string]any{}
			}
		}
		a.blocks = append(a.blocks, ToolUseBlock(a.toolID, a.toolName, input))

		ev := Event{Type: EventToolComplete, ToolID: a.toolID, ToolName: a.toolName, Input: input}
		a.toolID = ""
		a.toolName = ""
		a.toolInput.Reset()
		return []Event{ev}
	}

	if a.text.Len() > 0 {
		a.blocks = append(a.blocks, TextBlock(a.text.String()))
		a.text.Reset()
	}
	return nil
}

// finalize attaches the accumulated content to the envelope and returns
// the complete assistant message.
func (a *assembler) finalize() *Message {
	a.msg.Content = a.blocks
	return &a.msg
}

func (a *assembler) skip(event string, err error) {
	a.logger.Debug("skipping malformed stream payload",
		slog.String("event", event),
		slog.Any("error", err),
	)
}
