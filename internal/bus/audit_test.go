package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"orderbot/internal/domain"
)

type recordingAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	err     error
}

func (r *recordingAudit) LogAudit(_ context.Context, e domain.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, e)
	return nil
}

func TestAttachAudit_WritesAuditedEvents(t *testing.T) {
	eb := NewEventBus(testLogger())
	audit := &recordingAudit{}
	ids := AttachAudit(eb, audit, testLogger())
	if len(ids) != len(AuditedEvents) {
		t.Fatalf("expected %d subscriptions, got %d", len(AuditedEvents), len(ids))
	}

	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	eb.Emit(Event{
		Type:      EventOrderCommitted,
		Timestamp: ts,
		Payload:   map[string]any{"contact": "telegram:99", "order_code": int64(1001), "quantity": 18},
	})
	eb.Emit(Event{Type: EventMessageReceived, Payload: map[string]any{"contact": "telegram:99"}})

	if len(audit.entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(audit.entries))
	}
	e := audit.entries[0]
	if e.Action != EventOrderCommitted || e.ContactID != "telegram:99" || !e.CreatedAt.Equal(ts) {
		t.Errorf("unexpected entry %+v", e)
	}

	var details map[string]any
	if err := json.Unmarshal([]byte(e.Details), &details); err != nil {
		t.Fatalf("details not json: %v", err)
	}
	if _, ok := details["contact"]; ok {
		t.Error("contact should not be duplicated into details")
	}
	if details["order_code"] != float64(1001) || details["quantity"] != float64(18) {
		t.Errorf("details = %v", details)
	}
}

func TestAttachAudit_FailureIsSwallowed(t *testing.T) {
	eb := NewEventBus(testLogger())
	audit := &recordingAudit{err: errors.New("disk full")}
	AttachAudit(eb, audit, testLogger())

	eb.Emit(Event{Type: EventSessionClosed, Payload: map[string]any{"contact": "cli:local"}})

	if len(audit.entries) != 0 {
		t.Errorf("expected no entries, got %d", len(audit.entries))
	}
}
