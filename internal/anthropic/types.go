package anthropic

const (
	defaultBaseURL = "https://api.anthropic.com"
	messagesPath   = "/v1/messages"
	apiVersion     = "2023-06-01"
	cachingBeta    = "prompt-caching-2024-07-31"

	// DefaultMaxTokens is used when a request does not set MaxTokens.
	DefaultMaxTokens = 4096
)

// Request holds everything needed for one streaming exchange. The client
// captures it verbatim at dispatch so a rate-limit retry re-sends an
// identical request.
type Request struct {
	Model        string
	Messages     []MessageParam
	Tools        []Tool
	SystemPrompt string
	MaxTokens    int
}

// MessageParam is one outbound conversation message. Content is either a
// plain string or a []ContentBlock, matching the Messages API.
type MessageParam struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// Tool describes a callable tool advertised to the model.
type Tool struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	InputSchema  map[string]any `json:"input_schema"`
	CacheControl *CacheControl  `json:"cache_control,omitempty"`
}

// SystemBlock is a structured system prompt entry.
type SystemBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *CacheControl `json:"cache_control,omitempty"`
}

// CacheControl marks a block for ephemeral prompt caching.
type CacheControl struct {
	Type string `json:"type"`
}

// ContentBlock is a tagged union over the block types the Messages API
// uses. The Type field determines which other fields are meaningful.
type ContentBlock struct {
	Type string `json:"type"` // "text", "tool_use", "tool_result"

	// text block fields
	Text string `json:"text,omitempty"`

	// tool_use block fields
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result block fields
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TextBlock creates a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// ToolUseBlock creates a tool_use content block.
func ToolUseBlock(id, name string, input map[string]any) ContentBlock {
	return ContentBlock{Type: "tool_use", ID: id, Name: name, Input: input}
}

// ToolResultBlock creates a tool_result content block.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: "tool_result", ToolUseID: toolUseID, Content: content, IsError: isError}
}

// Message is the assembled assistant message produced by a completed
// stream: the message_start envelope plus the finalized content blocks.
type Message struct {
	ID           string         `json:"id,omitempty"`
	Role         string         `json:"role,omitempty"`
	Model        string         `json:"model,omitempty"`
	Content      []ContentBlock `json:"content"`
	StopReason   string         `json:"stop_reason,omitempty"`
	StopSequence string         `json:"stop_sequence,omitempty"`
	Usage        Usage          `json:"usage"`
}

// Text returns the concatenated text of all text blocks.
func (m *Message) Text() string {
	var s string
	for _, b := range m.Content {
		if b.Type == "text" {
			s += b.Text
		}
	}
	return s
}

// ToolUses returns the tool_use blocks in content order.
func (m *Message) ToolUses() []ContentBlock {
	var blocks []ContentBlock
	for _, b := range m.Content {
		if b.Type == "tool_use" {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

// HasToolUse reports whether the model requested tool execution.
func (m *Message) HasToolUse() bool {
	return len(m.ToolUses()) > 0
}

// Usage tracks token consumption for cost accounting.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// apiRequest is the wire body for POST /v1/messages.
type apiRequest struct {
	Model     string         `json:"model"`
	MaxTokens int            `json:"max_tokens"`
	Stream    bool           `json:"stream"`
	Messages  []MessageParam `json:"messages"`
	System    []SystemBlock  `json:"system,omitempty"`
	Tools     []Tool         `json:"tools,omitempty"`
}
