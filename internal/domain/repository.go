package domain

import (
	"context"
	"time"
)

// CustomerDirectory searches and registers customers.
type CustomerDirectory interface {
	// Search matches legal/trade names case- and accent-insensitively, or the
	// digits of the filter against the de-punctuated tax id. At most limit
	// results are returned in a stable order.
	Search(ctx context.Context, filter string, limit int) ([]CustomerSummary, error)
	// FindByTaxID returns the customer whose tax id equals digits exactly, or
	// nil when there is none.
	FindByTaxID(ctx context.Context, digits string) (*CustomerSummary, error)
	Insert(ctx context.Context, c NewCustomer) (int64, error)
	NextCustomerCode(ctx context.Context) (int64, error)
}

// ProductCatalog is read-only to the conversation.
type ProductCatalog interface {
	// Search returns products whose description contains every
	// whitespace-separated token of text.
	Search(ctx context.Context, text string, limit int) ([]ProductSummary, error)
	// SizesForGrade returns the ordered labels of a product's grade.
	SizesForGrade(ctx context.Context, productID, gradeID int64) ([]string, error)
	// LeadTimesFor returns one entry per product id, nil when unknown.
	LeadTimesFor(ctx context.Context, productIDs []int64) ([]*int, error)
}

type PaymentCatalog interface {
	ListVisibleActive(ctx context.Context) ([]PaymentMethod, error)
}

// SettingsStore is the key/value feature flag table.
type SettingsStore interface {
	GetByKey(ctx context.Context, key string) (string, bool, error)
}

// OrderRepository owns the transactional commit and the read paths used by
// the lookup sub-flow.
type OrderRepository interface {
	Commit(ctx context.Context, order NewOrder) (CommitResult, error)
	NextOrderCode(ctx context.Context) (int64, error)
	LookupByCode(ctx context.Context, code int64) (*OrderSummary, error)
	LookupByCustomer(ctx context.Context, customerID int64, limit int) ([]OrderBrief, error)
	SummaryFor(ctx context.Context, orderID int64) (*OrderSummary, error)
}

// ImageNormalizer converts an uploaded picture into the stored raster format.
type ImageNormalizer interface {
	Normalize(raw []byte) (NormalizedImage, error)
}

type NormalizedImage struct {
	Data   []byte
	Mime   string
	Width  int
	Height int
}

// ImageStore persists artwork keyed to an order line.
type ImageStore interface {
	SaveLineImage(ctx context.Context, lineID int64, img NormalizedImage) error
}

// AuditEntry is one row of the audit log.
type AuditEntry struct {
	Action    string // order.committed | order.commit_failed | customer.registered | session.closed
	ContactID string
	Details   string
	CreatedAt time.Time
}

type AuditLogger interface {
	LogAudit(ctx context.Context, entry AuditEntry) error
}
