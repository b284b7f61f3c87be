package flow

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"orderbot/internal/bus"
	"orderbot/internal/domain"
	"orderbot/internal/textutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

var errDown = errors.New("connection refused")

func int64p(v int64) *int64 { return &v }
func intp(v int) *int       { return &v }

type fakeCustomers struct {
	mu        sync.Mutex
	list      []domain.CustomerSummary
	inserted  []domain.NewCustomer
	searchErr error
	insertErr error
	nextCode  int64

	exactLookups int
}

func (f *fakeCustomers) Search(_ context.Context, filter string, limit int) ([]domain.CustomerSummary, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.CustomerSummary
	for _, c := range f.list {
		if textutil.IsDigitsOnly(filter) {
			if strings.Contains(c.TaxID, textutil.Digits(filter)) {
				out = append(out, c)
			}
			continue
		}
		if containsAll(c.Name+" "+c.TradeName, textutil.Tokens(filter)) {
			out = append(out, c)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeCustomers) FindByTaxID(_ context.Context, digits string) (*domain.CustomerSummary, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exactLookups++
	for _, c := range f.list {
		if c.TaxID == digits {
			c := c
			return &c, nil
		}
	}
	return nil, nil
}

func (f *fakeCustomers) Insert(_ context.Context, c domain.NewCustomer) (int64, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, c)
	id := int64(100 + len(f.inserted))
	f.list = append(f.list, domain.CustomerSummary{ID: id, Code: c.Code, Name: c.Name, TradeName: c.TradeName, TaxID: c.TaxID})
	return id, nil
}

func (f *fakeCustomers) NextCustomerCode(context.Context) (int64, error) {
	if f.nextCode == 0 {
		return 1, nil
	}
	return f.nextCode, nil
}

func containsAll(haystack string, tokens []string) bool {
	folded := textutil.Fold(haystack)
	for _, tok := range tokens {
		if !strings.Contains(folded, tok) {
			return false
		}
	}
	return len(tokens) > 0
}

type fakeProducts struct {
	list      []domain.ProductSummary
	sizes     map[int64][]string
	searchErr error
	sizesErr  error
}

func (f *fakeProducts) Search(_ context.Context, text string, limit int) ([]domain.ProductSummary, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	var out []domain.ProductSummary
	for _, p := range f.list {
		if containsAll(p.Description+" "+p.Code, textutil.Tokens(text)) {
			out = append(out, p)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeProducts) SizesForGrade(_ context.Context, _ int64, gradeID int64) ([]string, error) {
	if f.sizesErr != nil {
		return nil, f.sizesErr
	}
	return f.sizes[gradeID], nil
}

func (f *fakeProducts) LeadTimesFor(_ context.Context, ids []int64) ([]*int, error) {
	out := make([]*int, len(ids))
	for i, id := range ids {
		for _, p := range f.list {
			if p.ID == id {
				out[i] = p.LeadTimeDays
			}
		}
	}
	return out, nil
}

type fakePayments struct {
	list []domain.PaymentMethod
	err  error
}

func (f *fakePayments) ListVisibleActive(context.Context) ([]domain.PaymentMethod, error) {
	return f.list, f.err
}

type fakeOrders struct {
	mu        sync.Mutex
	committed []domain.NewOrder
	commitErr error
	failNext  int
	nextID    int64
	summaries map[int64]*domain.OrderSummary
	byCust    map[int64][]domain.OrderBrief
}

func (f *fakeOrders) Commit(_ context.Context, o domain.NewOrder) (domain.CommitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return domain.CommitResult{}, domain.Wrap(domain.KindCommit, "storage.orders.commit", errDown)
	}
	if f.commitErr != nil {
		return domain.CommitResult{}, f.commitErr
	}
	f.committed = append(f.committed, o)
	f.nextID++
	res := domain.CommitResult{
		OrderID:    f.nextID,
		Code:       1000 + f.nextID,
		DeliveryOn: o.CreatedOn.AddDate(0, 0, 30),
	}
	for i := range o.Lines {
		res.LineIDs = append(res.LineIDs, f.nextID*10+int64(i))
	}
	return res, nil
}

func (f *fakeOrders) NextOrderCode(context.Context) (int64, error) { return 1000 + f.nextID + 1, nil }

func (f *fakeOrders) LookupByCode(_ context.Context, code int64) (*domain.OrderSummary, error) {
	for _, s := range f.summaries {
		if s.Code == code {
			return s, nil
		}
	}
	return nil, nil
}

func (f *fakeOrders) LookupByCustomer(_ context.Context, customerID int64, _ int) ([]domain.OrderBrief, error) {
	return f.byCust[customerID], nil
}

func (f *fakeOrders) SummaryFor(_ context.Context, orderID int64) (*domain.OrderSummary, error) {
	s, ok := f.summaries[orderID]
	if !ok {
		return nil, domain.Errorf(domain.KindNotFound, "orders.summary", "order %d not found", orderID)
	}
	return s, nil
}

type fakeNormalizer struct{ err error }

func (f fakeNormalizer) Normalize(raw []byte) (domain.NormalizedImage, error) {
	if f.err != nil {
		return domain.NormalizedImage{}, f.err
	}
	return domain.NormalizedImage{Data: raw, Mime: "image/jpeg", Width: 1, Height: 1}, nil
}

type fakeImages struct {
	mu    sync.Mutex
	saved map[int64]domain.NormalizedImage
	err   error
}

func (f *fakeImages) SaveLineImage(_ context.Context, lineID int64, img domain.NormalizedImage) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved == nil {
		f.saved = make(map[int64]domain.NormalizedImage)
	}
	f.saved[lineID] = img
	return nil
}

// fixture is an engine over fakes seeded with a small catalog.
type fixture struct {
	engine    *Engine
	customers *fakeCustomers
	products  *fakeProducts
	payments  *fakePayments
	orders    *fakeOrders
	images    *fakeImages
	events    *bus.EventBus
	clock     time.Time
}

const gradeAdult = 1

func newFixture() *fixture {
	f := &fixture{
		customers: &fakeCustomers{list: []domain.CustomerSummary{
			{ID: 1, Code: 1, Name: "Malharia São José Ltda", TradeName: "Malhas SJ", TaxID: "12345678000190"},
			{ID: 2, Code: 2, Name: "Ana Souza", TaxID: "12345678909"},
			{ID: 3, Code: 3, Name: "Ana Paula Lima", TaxID: "98765432100"},
		}},
		products: &fakeProducts{
			list: []domain.ProductSummary{
				{ID: 10, Code: "CAM01", Description: "Camiseta Azul Básica", GradeID: int64p(gradeAdult), LeadTimeDays: intp(20)},
				{ID: 11, Code: "CAM02", Description: "Camiseta Azul Gola V", GradeID: int64p(gradeAdult)},
				{ID: 12, Code: "CAM03", Description: "Camiseta Azul Polo", GradeID: int64p(gradeAdult), LeadTimeDays: intp(45)},
				{ID: 20, Code: "BON01", Description: "Boné Bordado"},
			},
			sizes: map[int64][]string{gradeAdult: {"P", "M", "G"}},
		},
		payments: &fakePayments{list: []domain.PaymentMethod{{ID: 1, Name: "PIX"}, {ID: 2, Name: "Boleto"}}},
		orders: &fakeOrders{
			summaries: map[int64]*domain.OrderSummary{
				7: {ID: 7, Code: 507, CustomerName: "Ana Souza", StatusName: "Aguardando",
					Lines: []domain.OrderLineSummary{{Description: "Boné Bordado", Quantity: 12}}},
				8: {ID: 8, Code: 508, CustomerName: "Ana Souza",
					Lines: []domain.OrderLineSummary{{Description: "Camiseta Azul Básica", Quantity: 3,
						Sizes: []domain.SizeQty{{Label: "P", Quantity: 1}, {Label: "M", Quantity: 2}}}}},
			},
			byCust: map[int64][]domain.OrderBrief{
				2: {{ID: 8, Code: 508}, {ID: 7, Code: 507}},
				1: {{ID: 7, Code: 507}},
			},
		},
		images: &fakeImages{},
		events: bus.NewEventBus(testLogger()),
		clock:  time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.engine = f.build(Options{})
	return f
}

func (f *fixture) build(opts Options) *Engine {
	opts.Now = func() time.Time { return f.clock }
	return NewEngine(Deps{
		Customers:  f.customers,
		Products:   f.products,
		Payments:   f.payments,
		Orders:     f.orders,
		Normalizer: fakeNormalizer{},
		Images:     f.images,
	}, opts, nil, f.events, testLogger())
}

const contact = "whatsapp:5547999990000"

func (f *fixture) send(text string) Reply {
	return f.engine.ProcessMessage(context.Background(), contact, text, "Carla")
}

func (f *fixture) sendImage(data []byte) Reply {
	return f.engine.Handle(context.Background(), Inbound{ContactID: contact, Image: data, ImageMime: "image/png"})
}

func (f *fixture) session() *Session {
	s, _ := f.engine.Sessions().Get(contact)
	return s
}

// drive sends each text in order and returns the last reply.
func (f *fixture) drive(texts ...string) Reply {
	var r Reply
	for _, t := range texts {
		r = f.send(t)
	}
	return r
}
