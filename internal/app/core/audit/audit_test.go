package audit

import (
	"context"
	"testing"
	"time"

	"github.com/arbiterfabric/cogrt/infrastructure/logging"
)

func TestLog_GatesBelowMinLevel(t *testing.T) {
	l := New(Config{MinLevel: LevelWarn, Peer: "planner"})
	l.Log(context.Background(), LevelInfo, "too chatty", nil)
	l.Log(context.Background(), LevelError, "boom", nil)

	if got := l.Len(); got != 1 {
		t.Fatalf("expected 1 retained event, got %d", got)
	}
}

func TestLog_BoundedRing(t *testing.T) {
	l := New(Config{Capacity: 3, MinLevel: LevelTrace})
	for i := 0; i < 5; i++ {
		l.Log(context.Background(), LevelInfo, "event", nil)
	}
	if got := l.Len(); got != 3 {
		t.Fatalf("expected capacity-bounded 3, got %d", got)
	}
}

func TestLog_AttachesTraceIDFromContext(t *testing.T) {
	l := New(Config{MinLevel: LevelTrace})
	ctx := logging.WithTraceID(context.Background(), "trace-xyz")
	l.Log(ctx, LevelInfo, "hello", nil)

	logs := l.GetLogs(Filter{})
	if len(logs) != 1 || logs[0].TraceID != "trace-xyz" {
		t.Fatalf("expected trace id propagated, got %+v", logs)
	}
}

func TestGetLogs_FiltersByLevelAndSince(t *testing.T) {
	l := New(Config{MinLevel: LevelTrace})
	l.Log(context.Background(), LevelInfo, "old", nil)
	time.Sleep(5 * time.Millisecond)
	cutoff := time.Now()
	time.Sleep(5 * time.Millisecond)
	l.Log(context.Background(), LevelError, "new", nil)

	warn := LevelWarn
	onlyErrors := l.GetLogs(Filter{Level: &warn, Since: cutoff})
	if len(onlyErrors) != 1 || onlyErrors[0].Message != "new" {
		t.Fatalf("expected only the newer error event, got %+v", onlyErrors)
	}
}

type recordingSink struct {
	events []Event
}

func (s *recordingSink) Emit(e Event) { s.events = append(s.events, e) }

func TestAddSink_ReceivesEventsEvenIfBelowRingGate(t *testing.T) {
	l := New(Config{MinLevel: LevelError})
	sink := &recordingSink{}
	l.AddSink(sink)

	l.Log(context.Background(), LevelTrace, "verbose", nil)

	if len(sink.events) != 1 {
		t.Fatalf("expected sink to receive the gated event, got %d", len(sink.events))
	}
	if l.Len() != 0 {
		t.Fatalf("expected ring to drop it, got len %d", l.Len())
	}
}
