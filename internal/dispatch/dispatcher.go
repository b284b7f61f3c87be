// Package dispatch moves messages from the bus into the conversation engine
// and the replies back out, keeping each contact's messages in order.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"orderbot/internal/bus"
	"orderbot/internal/domain"
	"orderbot/internal/flow"
	"orderbot/internal/metrics"
)

const (
	defaultConcurrency = 8
	limiterIdle        = 30 * time.Minute
	pruneInterval      = 5 * time.Minute

	ThrottledNotice = "Muitas mensagens em sequência. Aguarde um instante e tente novamente."
)

// ErrThrottled is returned by ProcessDirect when the contact exceeded its
// message rate.
var ErrThrottled = errors.New("dispatch: contact rate limit exceeded")

// Engine is the conversation handler; *flow.Engine satisfies it.
type Engine interface {
	Handle(ctx context.Context, in flow.Inbound) flow.Reply
}

type Config struct {
	Engine        Engine
	Bus           domain.MessageBus
	Events        *bus.EventBus // optional
	Logger        *slog.Logger
	Concurrency   int
	RatePerMinute float64
	Burst         int
	SessionCount  func() int // optional, feeds the sessions gauge
	Tracer        trace.Tracer
}

// Dispatcher runs messages for different contacts in parallel, bounded by
// Concurrency, and messages of one contact strictly one after another.
type Dispatcher struct {
	engine       Engine
	bus          domain.MessageBus
	events       *bus.EventBus
	logger       *slog.Logger
	limiter      *ContactLimiter
	tracer       trace.Tracer
	sessionCount func() int

	sem     chan struct{}
	mu      sync.Mutex
	queues  map[string][]domain.InboundMessage
	pending int
	wg      sync.WaitGroup
}

func New(cfg Config) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("orderbot/dispatch")
	}
	return &Dispatcher{
		engine:       cfg.Engine,
		bus:          cfg.Bus,
		events:       cfg.Events,
		logger:       cfg.Logger,
		limiter:      NewContactLimiter(cfg.RatePerMinute, cfg.Burst),
		tracer:       cfg.Tracer,
		sessionCount: cfg.SessionCount,
		sem:          make(chan struct{}, cfg.Concurrency),
		queues:       make(map[string][]domain.InboundMessage),
	}
}

// Run consumes the bus until ctx is done or the bus closes, then waits for
// in-flight messages.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started", "concurrency", cap(d.sem))
	inbound := d.bus.Subscribe()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	defer d.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return
		case <-ticker.C:
			if n := d.limiter.Prune(limiterIdle); n > 0 {
				d.logger.Debug("rate limiters pruned", "count", n)
			}
		case msg, ok := <-inbound:
			if !ok {
				d.logger.Info("inbound channel closed, dispatcher stopping")
				return
			}
			d.enqueue(ctx, msg)
		}
	}
}

// enqueue appends msg to its contact's queue and starts a drainer when the
// contact has none.
func (d *Dispatcher) enqueue(ctx context.Context, msg domain.InboundMessage) {
	id := msg.ContactID()
	d.mu.Lock()
	q, busy := d.queues[id]
	d.queues[id] = append(q, msg)
	d.pending++
	metrics.PendingMessages.Set(int64(d.pending))
	d.mu.Unlock()

	if busy {
		return
	}
	d.wg.Add(1)
	go d.drain(ctx, id)
}

func (d *Dispatcher) drain(ctx context.Context, id string) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		q := d.queues[id]
		if len(q) == 0 {
			delete(d.queues, id)
			d.mu.Unlock()
			return
		}
		msg := q[0]
		d.queues[id] = q[1:]
		d.pending--
		metrics.PendingMessages.Set(int64(d.pending))
		d.mu.Unlock()

		d.sem <- struct{}{}
		d.process(ctx, msg)
		<-d.sem
	}
}

// Pending is the number of queued, not yet started messages.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

func (d *Dispatcher) process(ctx context.Context, msg domain.InboundMessage) {
	reply, err := d.ProcessDirect(ctx, msg)
	text := reply.Text
	if errors.Is(err, ErrThrottled) {
		text = ThrottledNotice
	}
	if text == "" {
		return
	}
	d.bus.SendOutbound(domain.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: text,
		Format:  "text",
	})
	d.emit(bus.EventMessageSent, msg, nil)
}

// ProcessDirect handles one message synchronously. Synchronous transports
// (CLI, HTTP webhook) call it directly.
func (d *Dispatcher) ProcessDirect(ctx context.Context, msg domain.InboundMessage) (flow.Reply, error) {
	contact := msg.ContactID()
	requestID := uuid.NewString()
	log := d.logger.With("request_id", requestID, "contact", contact)

	if !d.limiter.Allow(contact) {
		log.Warn("message throttled", "channel", msg.Channel)
		d.emit(bus.EventMessageThrottled, msg, nil)
		return flow.Reply{}, ErrThrottled
	}

	ctx, span := d.tracer.Start(ctx, "dispatch.handle", trace.WithAttributes(
		attribute.String("orderbot.request_id", requestID),
		attribute.String("orderbot.channel", msg.Channel),
		attribute.String("orderbot.contact", contact),
		attribute.Bool("orderbot.has_image", len(msg.Image) > 0),
	))
	defer span.End()

	start := time.Now()
	metrics.MessagesTotal(msg.Channel).Inc()
	d.emit(bus.EventMessageReceived, msg, map[string]any{"request_id": requestID})
	log.Debug("handling message", "content_len", len(msg.Content), "image_bytes", len(msg.Image))

	reply := d.engine.Handle(ctx, flow.Inbound{
		ContactID:   contact,
		Text:        msg.Content,
		DisplayName: msg.DisplayName,
		Image:       msg.Image,
		ImageMime:   msg.ImageMime,
	})

	metrics.HandleLatency.ObserveSince(start)
	if d.sessionCount != nil {
		metrics.ActiveSessions.Set(int64(d.sessionCount()))
	}
	span.SetAttributes(
		attribute.String("orderbot.state", reply.State.String()),
		attribute.Bool("orderbot.order_finalized", reply.OrderFinalized),
	)
	if reply.OrderFinalized {
		span.SetAttributes(attribute.Int64("orderbot.order_code", reply.OrderCode))
	}
	if reply.CommitFailed {
		span.AddEvent("order commit failed")
	}
	log.Debug("message handled", "state", reply.State, "elapsed", time.Since(start))
	return reply, nil
}

func (d *Dispatcher) emit(eventType string, msg domain.InboundMessage, payload map[string]any) {
	if d.events == nil {
		return
	}
	if payload == nil {
		payload = make(map[string]any, 2)
	}
	payload["contact"] = msg.ContactID()
	payload["channel"] = msg.Channel
	d.events.Emit(bus.Event{Type: eventType, Source: "dispatch", Payload: payload})
}
