package flow

import (
	"sync"
	"time"

	"orderbot/internal/domain"
)

// DraftLine is an order line still being assembled. A line carries either a
// flat quantity or a size breakdown, never both; build it with NewFlatLine or
// NewSizedLine.
type DraftLine struct {
	ProductID   int64
	GradeID     *int64
	Description string

	quantity int
	sizes    []domain.SizeQty

	Image     []byte
	ImageMime string
}

func NewFlatLine(p domain.ProductSummary, quantity int) DraftLine {
	return DraftLine{ProductID: p.ID, GradeID: p.GradeID, Description: p.Description, quantity: quantity}
}

func NewSizedLine(p domain.ProductSummary, sizes []domain.SizeQty) DraftLine {
	return DraftLine{
		ProductID:   p.ID,
		GradeID:     p.GradeID,
		Description: p.Description,
		sizes:       append([]domain.SizeQty(nil), sizes...),
	}
}

func (l DraftLine) IsSized() bool { return len(l.sizes) > 0 }

// Sizes returns a copy of the breakdown.
func (l DraftLine) Sizes() []domain.SizeQty {
	return append([]domain.SizeQty(nil), l.sizes...)
}

// Quantity is the breakdown sum for sized lines and the flat quantity
// otherwise.
func (l DraftLine) Quantity() int {
	if !l.IsSized() {
		return l.quantity
	}
	total := 0
	for _, s := range l.sizes {
		total += s.Quantity
	}
	return total
}

func (l DraftLine) orderLine() domain.NewOrderLine {
	ol := domain.NewOrderLine{ProductID: l.ProductID, GradeID: l.GradeID, Description: l.Description}
	if l.IsSized() {
		ol.Sizes = l.Sizes()
	} else {
		ol.Quantity = l.quantity
	}
	return ol
}

// SelectedCustomer is the customer the order is being placed for.
type SelectedCustomer struct {
	ID    int64
	Name  string
	TaxID string
}

// registration holds the fields gathered while registering a customer.
type registration struct {
	name       string
	tradeName  string
	taxID      string
	phone      string
	address    string
	postalCode string
	city       string
}

// candidates holds the lists shown to the contact for the current step.
type candidates struct {
	customers []domain.CustomerSummary
	customer  *domain.CustomerSummary
	products  []domain.ProductSummary
	product   *domain.ProductSummary
	sizes     []string
	payments  []domain.PaymentMethod
	orders    []domain.OrderBrief
}

// draft is the order being built.
type draft struct {
	lines        []DraftLine
	paymentID    *int64
	paymentName  string
	emitInvoice  bool
	commitFailed bool
}

// sessionState is everything a message can change; it is what the engine
// snapshots and restores.
type sessionState struct {
	State       State
	DisplayName string
	Customer    *SelectedCustomer

	reg  registration
	cand candidates
	ord  draft
}

func (st sessionState) clone() sessionState {
	c := st
	if st.Customer != nil {
		cust := *st.Customer
		c.Customer = &cust
	}
	c.ord.lines = make([]DraftLine, len(st.ord.lines))
	for i, l := range st.ord.lines {
		l.sizes = append([]domain.SizeQty(nil), l.sizes...)
		if l.Image != nil {
			l.Image = append([]byte(nil), l.Image...)
		}
		c.ord.lines[i] = l
	}
	return c
}

// Session is one contact's conversation. The engine holds mu while it
// handles a message.
type Session struct {
	mu sync.Mutex

	ContactID       string
	LastInteraction time.Time
	sessionState
}

// Lines returns a copy of the draft lines.
func (s *Session) Lines() []DraftLine {
	return append([]DraftLine(nil), s.ord.lines...)
}

// reset returns the session to Initial, keeping identity and display name.
func (s *Session) reset() {
	s.sessionState = sessionState{State: StateInitial, DisplayName: s.DisplayName}
}

// SessionStore is the contact-keyed registry of live conversations. Sessions
// are never evicted.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*Session), now: time.Now}
}

// GetOrCreate returns the session for contactID, creating it on first use.
// Concurrent callers for an unseen id all receive the same session.
func (st *SessionStore) GetOrCreate(contactID, displayName string) *Session {
	st.mu.RLock()
	s, ok := st.sessions[contactID]
	st.mu.RUnlock()
	if ok {
		return s
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[contactID]; ok {
		return s
	}
	s = &Session{
		ContactID:       contactID,
		LastInteraction: st.now(),
		sessionState:    sessionState{State: StateInitial, DisplayName: displayName},
	}
	st.sessions[contactID] = s
	return s
}

func (st *SessionStore) Get(contactID string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[contactID]
	return s, ok
}

func (st *SessionStore) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
