package bus

import (
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestEventBus_EmitAndReceive(t *testing.T) {
	eb := NewEventBus(testLogger())

	var got Event
	eb.On(EventOrderCommitted, func(e Event) { got = e })

	eb.Emit(Event{Type: EventOrderCommitted, Payload: map[string]any{"order_code": int64(42)}})

	if got.Type != EventOrderCommitted {
		t.Fatalf("handler not called, got %+v", got)
	}
	if got.String("order_code") != "42" {
		t.Errorf("order_code = %q", got.String("order_code"))
	}
}

func TestEventBus_WildcardHandler(t *testing.T) {
	eb := NewEventBus(testLogger())

	var count int32
	eb.On("*", func(e Event) { atomic.AddInt32(&count, 1) })

	eb.Emit(Event{Type: EventSessionClosed})
	eb.Emit(Event{Type: EventCustomerRegistered})

	if atomic.LoadInt32(&count) != 2 {
		t.Errorf("expected 2, got %d", count)
	}
}

func TestEventBus_Off(t *testing.T) {
	eb := NewEventBus(testLogger())

	var first, second int32
	id := eb.On(EventSessionClosed, func(e Event) { atomic.AddInt32(&first, 1) })
	eb.On(EventSessionClosed, func(e Event) { atomic.AddInt32(&second, 1) })

	eb.Emit(Event{Type: EventSessionClosed})
	eb.Off(EventSessionClosed, id)
	eb.Emit(Event{Type: EventSessionClosed})

	if atomic.LoadInt32(&first) != 1 {
		t.Errorf("removed handler called %d times", first)
	}
	if atomic.LoadInt32(&second) != 2 {
		t.Errorf("remaining handler called %d times", second)
	}
}

func TestEventBus_HandlerIDsUniqueAfterOff(t *testing.T) {
	eb := NewEventBus(testLogger())

	a := eb.On("x", func(Event) {})
	b := eb.On("x", func(Event) {})
	eb.Off("x", a)
	c := eb.On("x", func(Event) {})

	if b == c {
		t.Errorf("handler id reused: %s", c)
	}
}

func TestEventBus_Replay(t *testing.T) {
	eb := NewEventBus(testLogger())

	eb.Emit(Event{Type: EventOrderCommitted})
	eb.Emit(Event{Type: EventOrderCommitFailed})
	eb.Emit(Event{Type: EventOrderCommitted})

	if n := len(eb.Replay(EventOrderCommitted, time.Time{})); n != 2 {
		t.Errorf("expected 2 committed events, got %d", n)
	}
	if n := len(eb.Replay("*", time.Time{})); n != 3 {
		t.Errorf("expected 3 total events, got %d", n)
	}
}

func TestEventBus_ReplaySince(t *testing.T) {
	eb := NewEventBus(testLogger())

	eb.Emit(Event{Type: "old", Timestamp: time.Now().Add(-time.Hour)})
	threshold := time.Now()
	eb.Emit(Event{Type: "new"})

	if n := len(eb.Replay("*", threshold)); n != 1 {
		t.Errorf("expected 1 event since threshold, got %d", n)
	}
}

func TestEventBus_HistoryLimit(t *testing.T) {
	eb := NewEventBus(testLogger())
	eb.maxHistory = 5

	for i := 0; i < 10; i++ {
		eb.Emit(Event{Type: "test"})
	}

	if eb.HistoryLen() != 5 {
		t.Errorf("expected 5, got %d", eb.HistoryLen())
	}
}

func TestEventBus_PanicRecovery(t *testing.T) {
	eb := NewEventBus(testLogger())

	var after int32
	eb.On("panic", func(e Event) { panic("boom") })
	eb.On("panic", func(e Event) { atomic.AddInt32(&after, 1) })

	eb.Emit(Event{Type: "panic"})

	if atomic.LoadInt32(&after) != 1 {
		t.Error("handler after the panicking one was skipped")
	}
}

func TestEventBus_EmitAsync(t *testing.T) {
	eb := NewEventBus(testLogger())

	done := make(chan struct{})
	eb.On("async", func(e Event) { close(done) })

	eb.EmitAsync(Event{Type: "async"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("async event not delivered")
	}
}

func TestEventBus_TimestampAutoSet(t *testing.T) {
	eb := NewEventBus(testLogger())

	eb.Emit(Event{Type: "test"})

	events := eb.Replay("test", time.Time{})
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Timestamp.IsZero() {
		t.Error("timestamp should be auto-set")
	}
}

func TestEvent_String(t *testing.T) {
	e := Event{Payload: map[string]any{"s": "abc", "i": 7, "n": nil, "f": 1.5}}

	cases := map[string]string{"s": "abc", "i": "7", "n": "", "f": "", "missing": ""}
	for key, want := range cases {
		if got := e.String(key); got != want {
			t.Errorf("String(%q) = %q, want %q", key, got, want)
		}
	}
}
