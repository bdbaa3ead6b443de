package anthropic

import (
	"bytes"
	"strings"
)

// sseFrame is one server-sent event: an event type and a single data
// payload. The Messages API emits exactly one data line per frame.
type sseFrame struct {
	event string
	data  string
}

// sseParser incrementally splits a chunked byte stream into SSE frames.
// Bytes are buffered until a blank-line delimiter completes a frame, so
// extraction is independent of how the transport chunks the stream.
type sseParser struct {
	buf []byte
}

var frameDelim = []byte("\n\n")

// feed appends a chunk and returns every frame completed by it.
func (p *sseParser) feed(chunk []byte) []sseFrame {
	p.buf = append(p.buf, chunk...)

	var frames []sseFrame
	for {
		i := bytes.Index(p.buf, frameDelim)
		if i < 0 {
			break
		}
		raw := p.buf[:i]
		p.buf = p.buf[i+len(frameDelim):]

		if f, ok := parseFrame(raw); ok {
			frames = append(frames, f)
		}
	}
	return frames
}

// flush runs any residual bytes (no trailing delimiter) through the same
// extraction logic. Called exactly once, at end of stream.
func (p *sseParser) flush() []sseFrame {
	if len(p.buf) == 0 {
		return nil
	}
	raw := p.buf
	p.buf = nil

	if f, ok := parseFrame(raw); ok {
		return []sseFrame{f}
	}
	return nil
}

// parseFrame scans a raw frame line by line. Frames missing either the
// event type or the payload are dropped (ping frames, comments).
func parseFrame(raw []byte) (sseFrame, bool) {
	var f sseFrame
	for _, line := range strings.Split(string(raw), "\n") {
		switch {
		case strings.HasPrefix(line, "event: "):
			f.event = strings.TrimSpace(line[len("event: "):])
		case strings.HasPrefix(line, "data: "):
			f.data = line[len("data: "):]
		}
	}
	if f.event == "" || f.data == "" {
		return sseFrame{}, false
	}
	return f, true
}
