// Package history keeps the ordered turn log of a conversation, persists
// it next to the document it belongs to, and re-serializes it into the
// message array shape the Messages API requires.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// historyVersion is the persisted schema version. A mismatch on load
// yields an empty log (migrations are a future extension).
const historyVersion = 1

// historySuffix is appended to the bound document path to derive the
// history file location.
const historySuffix = ".fundi-history.json"

// Role identifies what kind of turn a log entry is. Serialized as an
// integer tag, so the order of these constants is part of the file format.
type Role int

const (
	RoleUser Role = iota
	RoleAssistant
	RoleToolUse
	RoleToolResult
)

// Turn is one logical conversation unit.
type Turn struct {
	Role      Role
	Content   string // user/assistant text, or tool_result text
	Timestamp time.Time
	Model     string         // assistant turns: which model generated it
	ToolID    string         // tool_use and tool_result
	ToolName  string         // tool_use
	ToolInput map[string]any // tool_use
	IsError   bool           // tool_result
}

// UserTurn creates a user message turn.
func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Content: text, Timestamp: time.Now()}
}

// AssistantTurn creates an assistant text turn.
func AssistantTurn(text, model string) Turn {
	return Turn{Role: RoleAssistant, Content: text, Model: model, Timestamp: time.Now()}
}

// ToolUseTurn creates a tool invocation turn.
func ToolUseTurn(id, name string, input map[string]any) Turn {
	return Turn{Role: RoleToolUse, ToolID: id, ToolName: name, ToolInput: input, Timestamp: time.Now()}
}

// ToolResultTurn creates a tool result turn.
func ToolResultTurn(id, content string, isError bool) Turn {
	return Turn{Role: RoleToolResult, ToolID: id, Content: content, IsError: isError, Timestamp: time.Now()}
}

// Log is the append-only turn record for one conversation session, bound
// to zero or one document path at a time. It is owned by a single session
// and is not safe for concurrent writers.
type Log struct {
	logger *slog.Logger
	source string
	turns  []Turn
}

// NewLog creates an empty, unbound log.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

// Append adds a turn to the end of the log.
func (l *Log) Append(t Turn) {
	l.turns = append(l.turns, t)
}

// Turns returns a copy of the log's turns in order.
func (l *Log) Turns() []Turn {
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// Len returns the number of turns.
func (l *Log) Len() int { return len(l.turns) }

// Source returns the bound document path, or "".
func (l *Log) Source() string { return l.source }

// SetSource rebinds the log to a document. Unchanged paths are a no-op.
// Otherwise the current log is flushed (when bound and non-empty), the
// in-memory turns are cleared, and the history for the new document is
// loaded. Flush failures are logged, not returned: rebinding must always
// complete so the session can follow the editor's active document.
func (l *Log) SetSource(path string) {
	if l.source == path {
		return
	}

	if l.source != "" && len(l.turns) > 0 {
		if err := l.Save(); err != nil {
			l.logger.Warn("flushing history before rebind",
				slog.String("source", l.source),
				slog.String("error", err.Error()),
			)
		}
	}

	l.source = path
	l.turns = nil

	if l.source != "" {
		l.load()
	}
}

// Clear empties the log and deletes its persisted file, if any.
func (l *Log) Clear() error {
	l.turns = nil

	path := HistoryPath(l.source)
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing history file: %w", err)
	}
	return nil
}

// HistoryPath derives the history file location for a document path.
func HistoryPath(source string) string {
	if source == "" {
		return ""
	}
	return source + historySuffix
}

// historyDoc is the persisted file shape.
type historyDoc struct {
	Version    int          `json:"version"`
	SourceFile string       `json:"source_file"`
	Messages   []turnRecord `json:"messages"`
}

// turnRecord serializes a Turn with the role as an integer tag and
// zero-value fields omitted.
type turnRecord struct {
	Role      int            `json:"role"`
	Content   string         `json:"content,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	Model     string         `json:"model,omitempty"`
	ToolID    string         `json:"tool_id,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	ToolInput map[string]any `json:"tool_input,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

// Save writes the log as a versioned JSON document next to the bound
// document. Unbound logs are not persisted.
func (l *Log) Save() error {
	path := HistoryPath(l.source)
	if path == "" {
		return nil
	}

	doc := historyDoc{
		Version:    historyVersion,
		SourceFile: filepath.Base(l.source),
		Messages:   make([]turnRecord, 0, len(l.turns)),
	}
	for _, t := range l.turns {
		doc.Messages = append(doc.Messages, turnRecord{
			Role:      int(t.Role),
			Content:   t.Content,
			Timestamp: t.Timestamp.UTC().Format(time.RFC3339),
			Model:     t.Model,
			ToolID:    t.ToolID,
			ToolName:  t.ToolName,
			ToolInput: t.ToolInput,
			IsError:   t.IsError,
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing history file: %w", err)
	}
	return nil
}

// load reads the persisted history for the bound document. A missing
// file, unreadable document, or version mismatch leaves the log empty.
func (l *Log) load() {
	path := HistoryPath(l.source)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			l.logger.Warn("reading history file",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	var doc historyDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		l.logger.Warn("parsing history file",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}
	if doc.Version != historyVersion {
		l.logger.Warn("history version mismatch, starting empty",
			slog.String("path", path),
			slog.Int("version", doc.Version),
		)
		return
	}

	l.turns = make([]Turn, 0, len(doc.Messages))
	for _, r := range doc.Messages {
		ts, _ := time.Parse(time.RFC3339, r.Timestamp)
		l.turns = append(l.turns, Turn{
			Role:      Role(r.Role),
			Content:   r.Content,
			Timestamp: ts,
			Model:     r.Model,
			ToolID:    r.ToolID,
			ToolName:  r.ToolName,
			ToolInput: r.ToolInput,
			IsError:   r.IsError,
		})
	}
}
