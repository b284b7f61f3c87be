// Package flow drives the order-intake conversation: one state machine per
// contact, dispatched through an explicit transition table, ending in the
// order commit.
package flow

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"orderbot/internal/bus"
	"orderbot/internal/domain"
)

// Inbound is one message from a contact.
type Inbound struct {
	ContactID   string
	Text        string
	DisplayName string
	Image       []byte
	ImageMime   string
}

// Reply is what the transport sends back. OrderFinalized is set only on the
// message that committed an order.
type Reply struct {
	Text           string
	OrderFinalized bool
	OrderID        int64
	OrderCode      int64
	CommitFailed   bool
	State          State
}

// Deps are the collaborators the engine calls.
type Deps struct {
	Customers  domain.CustomerDirectory
	Products   domain.ProductCatalog
	Payments   domain.PaymentCatalog
	Orders     domain.OrderRepository
	Normalizer domain.ImageNormalizer
	Images     domain.ImageStore
}

type Options struct {
	InitialStatusCode int
	SearchLimit       int
	IdleTimeout       time.Duration
	MaxImageBytes     int
	MinNameLength     int
	Now               func() time.Time
}

func (o Options) withDefaults() Options {
	if o.InitialStatusCode == 0 {
		o.InitialStatusCode = 1
	}
	if o.SearchLimit <= 0 || o.SearchLimit > 20 {
		o.SearchLimit = 20
	}
	if o.MinNameLength <= 0 {
		o.MinNameLength = 3
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type handler func(ctx context.Context, s *Session, in Inbound) (Reply, error)

// Engine runs the conversation for every contact.
type Engine struct {
	deps        Deps
	opts        Options
	sessions    *SessionStore
	events      *bus.EventBus
	logger      *slog.Logger
	transitions map[State]handler
}

// NewEngine wires an engine. events may be nil.
func NewEngine(deps Deps, opts Options, sessions *SessionStore, events *bus.EventBus, logger *slog.Logger) *Engine {
	if sessions == nil {
		sessions = NewSessionStore()
	}
	e := &Engine{
		deps:     deps,
		opts:     opts.withDefaults(),
		sessions: sessions,
		events:   events,
		logger:   logger,
	}
	e.transitions = e.buildTransitions()
	return e
}

func (e *Engine) buildTransitions() map[State]handler {
	return map[State]handler{
		StateInitial:                   e.handleInitial,
		StateClosed:                    e.handleClosed,
		StateAwaitingMenu:              e.handleMainMenu,
		StateSelectingCustomer:         e.handleSelectingCustomer,
		StateSelectingCustomerFromList: e.handleCustomerFromList,
		StateConfirmingCustomer:        e.handleConfirmingCustomer,
		StateRegisteringName:           e.handleRegisteringName,
		StateRegisteringTaxID:          e.handleRegisteringTaxID,
		StateRegisteringPhone:          e.handleRegisteringPhone,
		StateRegisteringAddress:        e.handleRegisteringAddress,
		StateAwaitingFilledTemplate:    e.handleFilledTemplate,
		StateSearchingProduct:          e.handleSearchingProduct,
		StateSelectingProductFromList:  e.handleProductFromList,
		StateSelectingSize:             e.handleSelectingSize,
		StateAskingImage:               e.handleAskingImage,
		StateAwaitingImage:             e.handleAwaitingImage,
		StateAskingMoreProducts:        e.handleAskingMoreProducts,
		StateFinalizingOrder:           e.handleFinalizingOrder,
		StateSelectingPaymentMethod:    e.handleSelectingPayment,
		StateAskingEmitInvoice:         e.handleAskingEmitInvoice,
		StateLookupMenu:                e.handleLookupMenu,
		StateLookupByCode:              e.handleLookupByCode,
		StateLookupByCustomer:          e.handleLookupByCustomer,
		StateLookupSelectCustomer:      e.handleLookupSelectCustomer,
		StateLookupSelectOrder:         e.handleLookupSelectOrder,
	}
}

// Sessions exposes the registry, for gauges and tests.
func (e *Engine) Sessions() *SessionStore { return e.sessions }

// ProcessMessage handles a text-only message.
func (e *Engine) ProcessMessage(ctx context.Context, contactID, text, displayName string) Reply {
	return e.Handle(ctx, Inbound{ContactID: contactID, Text: text, DisplayName: displayName})
}

// Handle processes one message under the contact's session lock.
func (e *Engine) Handle(ctx context.Context, in Inbound) Reply {
	s := e.sessions.GetOrCreate(in.ContactID, in.DisplayName)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := e.opts.Now()
	if in.DisplayName != "" {
		s.DisplayName = in.DisplayName
	}
	in.Text = strings.TrimSpace(in.Text)

	prefix := ""
	if e.opts.IdleTimeout > 0 && s.State != StateInitial && s.State != StateClosed &&
		now.Sub(s.LastInteraction) > e.opts.IdleTimeout {
		e.logger.Info("session expired", "contact", s.ContactID, "state", s.State)
		s.reset()
		prefix = msgExpired
	}
	s.LastInteraction = now

	if in.Text == cancelCommand && in.Image == nil {
		from := s.State
		s.reset()
		s.State = StateClosed
		if from != StateClosed {
			e.emit(bus.EventSessionClosed, s.ContactID, map[string]any{"from_state": from.String()})
		}
		return Reply{Text: msgClosed, State: StateClosed}
	}

	snap := s.sessionState.clone()
	h, ok := e.transitions[s.State]
	if !ok {
		e.logger.Error("no handler for state, resetting", "contact", s.ContactID, "state", s.State)
		s.reset()
		h = e.handleInitial
	}

	reply, err := h(ctx, s, in)
	if err != nil {
		reply = e.fail(s, snap, err)
	}
	reply.State = s.State
	reply.Text = prefix + reply.Text
	return reply
}

// fail is the single place where errors become replies.
func (e *Engine) fail(s *Session, snap sessionState, err error) Reply {
	switch domain.KindOf(err) {
	case domain.KindCommit:
		e.logger.Error("order commit failed", "contact", s.ContactID, "lines", len(s.ord.lines), "err", err)
		s.State = StateFinalizingOrder
		s.ord.commitFailed = true
		e.emit(bus.EventOrderCommitFailed, s.ContactID, map[string]any{"error": err.Error()})
		return Reply{Text: join(msgCommitFailed, draftSummary(s.Customer, s.ord), promptRetryCommit), CommitFailed: true}
	case domain.KindValidation:
		s.sessionState = snap
		return Reply{Text: join(cause(err), e.prompt(s))}
	default:
		e.logger.Error("message handling failed", "contact", s.ContactID, "state", snap.State, "err", err)
		s.sessionState = snap
		return Reply{Text: join(msgApology, e.prompt(s))}
	}
}

// cause returns the innermost message of a kinded error chain.
func cause(err error) string {
	for {
		var de *domain.Error
		if !errors.As(err, &de) || de.Err == nil {
			break
		}
		err = de.Err
	}
	msg := err.Error()
	if msg == "" {
		return msg
	}
	return strings.ToUpper(msg[:1]) + msg[1:] + "."
}

// prompt re-renders the current state's question from cached data only.
func (e *Engine) prompt(s *Session) string {
	switch s.State {
	case StateInitial, StateClosed, StateAwaitingMenu:
		return menuMain
	case StateSelectingCustomer:
		return promptCustomer
	case StateSelectingCustomerFromList, StateLookupSelectCustomer:
		return customerList(s.cand.customers)
	case StateConfirmingCustomer:
		if s.cand.customer != nil {
			return confirmCustomer(*s.cand.customer)
		}
		return promptConfirmCustomer
	case StateRegisteringName:
		return promptRegName
	case StateRegisteringTaxID:
		return promptRegTaxID
	case StateRegisteringPhone:
		return promptRegPhone
	case StateRegisteringAddress:
		return promptRegAddress
	case StateAwaitingFilledTemplate:
		return promptTemplate
	case StateSearchingProduct:
		return promptProduct
	case StateSelectingProductFromList:
		return productList(s.cand.products)
	case StateSelectingSize:
		return sizePrompt(s.cand.product, s.cand.sizes)
	case StateAskingImage:
		return promptAskImage
	case StateAwaitingImage:
		return promptAwaitImage
	case StateAskingMoreProducts:
		return promptMore
	case StateFinalizingOrder:
		if s.ord.commitFailed {
			return join(draftSummary(s.Customer, s.ord), promptRetryCommit)
		}
		return join(draftSummary(s.Customer, s.ord), promptFinalize)
	case StateSelectingPaymentMethod:
		return paymentList(s.cand.payments)
	case StateAskingEmitInvoice:
		return promptInvoice
	case StateLookupMenu:
		return menuLookup
	case StateLookupByCode:
		return promptLookupCode
	case StateLookupByCustomer:
		return promptLookupCustomer
	case StateLookupSelectOrder:
		return orderList(s.cand.orders)
	default:
		return menuMain
	}
}

func (e *Engine) reprompt(s *Session) (Reply, error) {
	return Reply{Text: join(msgInvalidOption, e.prompt(s))}, nil
}

func (e *Engine) say(s *Session, next State, parts ...string) (Reply, error) {
	s.State = next
	return Reply{Text: join(parts...)}, nil
}

func (e *Engine) emit(eventType, contactID string, payload map[string]any) {
	if e.events == nil {
		return
	}
	if payload == nil {
		payload = make(map[string]any)
	}
	payload["contact"] = contactID
	e.events.Emit(bus.Event{Type: eventType, Source: "flow", Payload: payload})
}

// pick parses a 1-based list choice. numeric reports whether text was a
// number at all.
func pick(text string, n int) (idx int, numeric, ok bool) {
	v, err := strconv.Atoi(text)
	if err != nil {
		return 0, false, false
	}
	if v < 1 || v > n {
		return 0, true, false
	}
	return v - 1, true, true
}

func (e *Engine) handleInitial(_ context.Context, s *Session, _ Inbound) (Reply, error) {
	return e.say(s, StateAwaitingMenu, greeting(s.DisplayName), menuMain)
}

func (e *Engine) handleClosed(ctx context.Context, s *Session, in Inbound) (Reply, error) {
	s.reset()
	return e.handleInitial(ctx, s, in)
}

func (e *Engine) handleMainMenu(_ context.Context, s *Session, in Inbound) (Reply, error) {
	switch in.Text {
	case "1":
		return e.say(s, StateSelectingCustomer, promptCustomer)
	case "2":
		return e.say(s, StateLookupMenu, menuLookup)
	default:
		return e.reprompt(s)
	}
}

func (e *Engine) now() time.Time { return e.opts.Now() }
