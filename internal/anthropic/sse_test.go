package anthropic

import (
	"reflect"
	"testing"
)

func TestSSEParserSingleFrame(t *testing.T) {
	p := &sseParser{}
	frames := p.feed([]byte("event: message_start\ndata: {\"a\":1}\n\n"))
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0].event != "message_start" {
		t.Errorf("event = %q, want message_start", frames[0].event)
	}
	if frames[0].data != `{"a":1}` {
		t.Errorf("data = %q", frames[0].data)
	}
}

func TestSSEParserChunkBoundaryIndependence(t *testing.T) {
	stream := "event: content_block_delta\n" +
		"data: {\"delta\":{\"type\":\"text_delta\",\"text\":\"hello\"}}\n\n" +
		"event: content_block_stop\ndata: {\"index\":0}\n\n" +
		"event: message_stop\ndata: {}\n\n"

	whole := (&sseParser{}).feed([]byte(stream))

	// Re-feed the same bytes in every possible two-way split and then
	// byte by byte; the frame sequence must be identical each time.
	for cut := 0; cut <= len(stream); cut++ {
		p := &sseParser{}
		got := p.feed([]byte(stream[:cut]))
		got = append(got, p.feed([]byte(stream[cut:]))...)
		if !reflect.DeepEqual(got, whole) {
			t.Fatalf("split at %d: got %v, want %v", cut, got, whole)
		}
	}

	p := &sseParser{}
	var got []sseFrame
	for i := 0; i < len(stream); i++ {
		got = append(got, p.feed([]byte{stream[i]})...)
	}
	if !reflect.DeepEqual(got, whole) {
		t.Fatalf("byte-by-byte: got %v, want %v", got, whole)
	}
}

func TestSSEParserFlushResidual(t *testing.T) {
	p := &sseParser{}
	if frames := p.feed([]byte("event: message_stop\ndata: {}")); len(frames) != 0 {
		t.Fatalf("incomplete frame emitted early: %v", frames)
	}
	frames := p.flush()
	if len(frames) != 1 || frames[0].event != "message_stop" {
		t.Fatalf("flush = %v, want one message_stop frame", frames)
	}
	if frames := p.flush(); len(frames) != 0 {
		t.Errorf("second flush emitted %v", frames)
	}
}

func TestSSEParserDropsIncompleteFrames(t *testing.T) {
	p := &sseParser{}
	input := "event: ping\n\n" + ": comment\n\n" + "data: {\"x\":1}\n\n"
	if frames := p.feed([]byte(input)); len(frames) != 0 {
		t.Errorf("frames without both fields should be dropped, got %v", frames)
	}
}

func TestSSEParserMultipleFramesOneChunk(t *testing.T) {
	p := &sseParser{}
	input := "event: a\ndata: 1\n\nevent: b\ndata: 2\n\n"
	frames := p.feed([]byte(input))
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if frames[0].event != "a" || frames[1].event != "b" {
		t.Errorf("frame order wrong: %v", frames)
	}
}
