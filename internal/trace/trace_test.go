package trace

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestRingTracerWrapsInOrder(t *testing.T) {
	r := NewRingTracer(3, LevelDebug)
	for _, name := range []string{"a", "b", "c", "d"} {
		r.Emit(&Event{Kind: KindPoint, Scope: ScopeUnit, Name: name})
	}
	got := r.Snapshot()
	if len(got) != 3 {
		t.Fatalf("snapshot len = %d, want 3", len(got))
	}
	for i, want := range []string{"b", "c", "d"} {
		if got[i].Name != want {
			t.Errorf("event %d = %q, want %q", i, got[i].Name, want)
		}
	}
}

func TestLevelFiltersScopes(t *testing.T) {
	tests := []struct {
		level Level
		scope Scope
		want  bool
	}{
		{LevelOff, ScopeSession, false},
		{LevelPhase, ScopeBatch, true},
		{LevelPhase, ScopeContainer, false},
		{LevelDetail, ScopeContainer, true},
		{LevelDetail, ScopeUnit, false},
		{LevelDebug, ScopeUnit, true},
	}
	for _, tt := range tests {
		if got := tt.level.ShouldEmit(tt.scope); got != tt.want {
			t.Errorf("%s.ShouldEmit(%s) = %v, want %v", tt.level, tt.scope, got, tt.want)
		}
	}
}

func TestStreamTracerSpan(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelPhase, FormatText)
	sp := Begin(tr, ScopeBatch, "batch", 0)
	Point(tr, ScopeUnit, "unit", "filtered", sp.ID())
	sp.WithExtra("events", "3").End("ok")

	out := buf.String()
	if strings.Count(out, "\n") != 2 {
		t.Fatalf("expected begin and end lines, got:\n%s", out)
	}
	if !strings.Contains(out, "← batch (ok) {events=3}") {
		t.Errorf("missing end line in:\n%s", out)
	}
}

func TestNDJSONFormat(t *testing.T) {
	line := string(FormatEvent(&Event{Kind: KindPoint, Scope: ScopeContainer, Name: "container:m"}, FormatNDJSON))
	if !strings.Contains(line, `"scope":"container"`) || !strings.HasSuffix(line, "\n") {
		t.Errorf("unexpected ndjson %q", line)
	}
}

func TestContextPropagation(t *testing.T) {
	if FromContext(context.Background()) != Nop {
		t.Fatal("empty context must yield Nop")
	}
	r := NewRingTracer(4, LevelDebug)
	ctx := WithTracer(context.Background(), r)
	if FromContext(ctx) != Tracer(r) {
		t.Fatal("tracer not propagated")
	}
}

func TestStartSpanParentsNestedSpans(t *testing.T) {
	r := NewRingTracer(8, LevelDebug)
	ctx := WithTracer(context.Background(), r)

	ctx, outer := StartSpan(ctx, ScopeSession, "replay")
	if CurrentSpan(ctx).SpanID != outer.ID() || outer.ID() == 0 {
		t.Fatalf("current span = %d, want %d", CurrentSpan(ctx).SpanID, outer.ID())
	}
	_, inner := StartSpan(ctx, ScopeBatch, "read")
	inner.End("")
	outer.End("")

	events := r.Snapshot()
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4", len(events))
	}
	if events[1].Name != "read" || events[1].ParentID != outer.ID() {
		t.Errorf("inner begin = %+v, want parent %d", events[1], outer.ID())
	}

	plain := context.Background()
	got, sp := StartSpan(plain, ScopeSession, "off")
	if got != plain || sp.ID() != 0 {
		t.Error("disabled tracing must not touch the context")
	}
}

func TestParse(t *testing.T) {
	if l, err := ParseLevel("detail"); err != nil || l != LevelDetail {
		t.Errorf("ParseLevel = %v, %v", l, err)
	}
	if m, err := ParseMode("both"); err != nil || m != ModeBoth {
		t.Errorf("ParseMode = %v, %v", m, err)
	}
	if f, err := ParseFormat("ndjson"); err != nil || f != FormatNDJSON {
		t.Errorf("ParseFormat = %v, %v", f, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error")
	}
}
