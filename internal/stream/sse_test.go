package stream

import (
	"strings"
	"testing"
)

type frame struct {
	name string
	data string
}

func collectFrames(t *testing.T, raw string) []frame {
	t.Helper()
	var out []frame
	if err := readFrames(strings.NewReader(raw), func(name string, data []byte) {
		out = append(out, frame{name: name, data: string(data)})
	}); err != nil {
		t.Fatalf("readFrames: %v", err)
	}
	return out
}

func TestReadFrames_EventAndData(t *testing.T) {
	raw := "event: run-update\ndata: {\"runId\":\"r1\"}\n\n"
	frames := collectFrames(t, raw)
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}
	if frames[0].name != "run-update" || frames[0].data != `{"runId":"r1"}` {
		t.Fatalf("frame = %+v", frames[0])
	}
}

func TestReadFrames_MultilineData(t *testing.T) {
	raw := "event: error\ndata: line1\ndata: line2\n\n"
	frames := collectFrames(t, raw)
	if len(frames) != 1 || frames[0].data != "line1\nline2" {
		t.Fatalf("frames = %+v", frames)
	}
}

func TestReadFrames_DefaultEventName(t *testing.T) {
	frames := collectFrames(t, "data: hello\n\n")
	if len(frames) != 1 || frames[0].name != "message" {
		t.Fatalf("frames = %+v", frames)
	}
}

func TestReadFrames_SkipsCommentsAndIDs(t *testing.T) {
	raw := ": keepalive\nid: 42\nretry: 3000\nevent: complete\ndata: {}\n\n: another\n"
	frames := collectFrames(t, raw)
	if len(frames) != 1 || frames[0].name != "complete" {
		t.Fatalf("frames = %+v", frames)
	}
}

func TestReadFrames_IncompleteTrailingFrameDropped(t *testing.T) {
	// 流在空行分隔符前断开 — 半帧不得上报
	frames := collectFrames(t, "event: run-update\ndata: {\"runId\":")
	if len(frames) != 0 {
		t.Fatalf("incomplete frame dispatched: %+v", frames)
	}
}

func TestReadFrames_MultipleFrames(t *testing.T) {
	raw := "event: worker-status\ndata: {\"testId\":\"t1\"}\n\nevent: worker-status\ndata: {\"testId\":\"t2\"}\n\n"
	frames := collectFrames(t, raw)
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	if frames[1].data != `{"testId":"t2"}` {
		t.Fatalf("frames[1] = %+v", frames[1])
	}
}

func TestNormalize_ClosedSets(t *testing.T) {
	if _, ok := NormalizeRunEvent("run-update", nil); !ok {
		t.Fatal("run-update rejected on run channel")
	}
	if _, ok := NormalizeRunEvent("worker-status", nil); ok {
		t.Fatal("execution event accepted on run channel")
	}
	if _, ok := NormalizeExecutionEvent("worker-status", nil); !ok {
		t.Fatal("worker-status rejected on execution channel")
	}
	if _, ok := NormalizeExecutionEvent("totally-new-event", nil); ok {
		t.Fatal("unknown event name accepted")
	}
}
