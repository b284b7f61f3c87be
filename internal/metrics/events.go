package metrics

import "orderbot/internal/bus"

// ObserveEvents feeds the order counters from the event bus.
func ObserveEvents(eb *bus.EventBus) {
	eb.On(bus.EventOrderCommitted, func(e bus.Event) {
		OrdersCommitted.Inc()
		if q, ok := e.Payload["quantity"].(int); ok {
			OrderedPieces.Add(int64(q))
		}
	})
	eb.On(bus.EventOrderCommitFailed, func(bus.Event) { OrderCommitFailures.Inc() })
	eb.On(bus.EventCustomerRegistered, func(bus.Event) { CustomersRegistered.Inc() })
	eb.On(bus.EventSessionClosed, func(bus.Event) { SessionsClosed.Inc() })
	eb.On(bus.EventMessageThrottled, func(bus.Event) { MessagesThrottled.Inc() })
}
