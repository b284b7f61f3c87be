package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"orderbot/internal/domain"
)

const auditTimeout = 5 * time.Second

// AttachAudit subscribes the audit logger to AuditedEvents and returns the
// handler ids. Write failures are logged only.
func AttachAudit(eb *EventBus, audit domain.AuditLogger, logger *slog.Logger) []string {
	ids := make([]string, 0, len(AuditedEvents))
	for _, eventType := range AuditedEvents {
		ids = append(ids, eb.On(eventType, func(ev Event) {
			entry := auditEntry(ev)
			ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
			defer cancel()
			if err := audit.LogAudit(ctx, entry); err != nil {
				logger.Warn("audit write failed", "action", entry.Action, "contact", entry.ContactID, "err", err)
			}
		}))
	}
	return ids
}

func auditEntry(ev Event) domain.AuditEntry {
	details := make(map[string]any, len(ev.Payload))
	for k, v := range ev.Payload {
		if k != "contact" {
			details[k] = v
		}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		raw = []byte("{}")
	}
	return domain.AuditEntry{
		Action:    ev.Type,
		ContactID: ev.String("contact"),
		Details:   string(raw),
		CreatedAt: ev.Timestamp,
	}
}
