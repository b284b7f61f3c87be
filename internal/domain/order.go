package domain

import "time"

// PersonType tells individuals (CPF) from organizations (CNPJ).
type PersonType string

const (
	PersonIndividual   PersonType = "F"
	PersonOrganization PersonType = "J"
)

// CustomerSummary is the slice of a customer row the conversation needs.
type CustomerSummary struct {
	ID        int64  `json:"id"`
	Code      int64  `json:"code"`
	Name      string `json:"name"`
	TradeName string `json:"trade_name,omitempty"`
	TaxID     string `json:"tax_id"`
}

// DisplayName prefers the trade name and falls back to the legal name.
func (c CustomerSummary) DisplayName() string {
	if c.TradeName != "" {
		return c.TradeName
	}
	return c.Name
}

// NewCustomer carries the fields collected by the registration sub-flow.
type NewCustomer struct {
	Code       int64
	Name       string
	TradeName  string
	TaxID      string // digits only
	Phone      string
	Address    string
	PostalCode string
	City       string
}

type ProductSummary struct {
	ID           int64  `json:"id"`
	Code         string `json:"code"`
	Description  string `json:"description"`
	GradeID      *int64 `json:"grade_id,omitempty"`
	LeadTimeDays *int   `json:"lead_time_days,omitempty"`
}

type PaymentMethod struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// SizeQty is one entry of a size breakdown.
type SizeQty struct {
	Label    string `json:"label"`
	Quantity int    `json:"quantity"`
}

// NewOrderLine is a draft line handed to the commit protocol. Quantity and
// Sizes are mutually exclusive.
type NewOrderLine struct {
	ProductID   int64
	GradeID     *int64
	Description string
	Quantity    int
	Sizes       []SizeQty
}

// EffectiveQuantity is the breakdown sum for sized lines and the flat
// quantity otherwise.
func (l NewOrderLine) EffectiveQuantity() int {
	if len(l.Sizes) == 0 {
		return l.Quantity
	}
	total := 0
	for _, s := range l.Sizes {
		total += s.Quantity
	}
	return total
}

type NewOrder struct {
	CustomerID      int64
	CreatedOn       time.Time
	StatusCode      int
	PaymentMethodID *int64
	EmitInvoice     bool
	Lines           []NewOrderLine
}

func (o NewOrder) TotalQuantity() int {
	total := 0
	for _, l := range o.Lines {
		total += l.EffectiveQuantity()
	}
	return total
}

// CommitResult describes what the commit protocol wrote. LineIDs follows the
// order of NewOrder.Lines.
type CommitResult struct {
	OrderID      int64
	Code         int64
	DeliveryOn   time.Time
	LineIDs      []int64
	SizeRows     int
	ProgressRows int
}

// OrderBrief is one row of a customer's order list.
type OrderBrief struct {
	ID         int64     `json:"id"`
	Code       int64     `json:"code"`
	CreatedOn  time.Time `json:"created_on"`
	DeliveryOn time.Time `json:"delivery_on"`
	StatusCode int       `json:"status_code"`
	StatusName string    `json:"status_name,omitempty"`
}

type OrderLineSummary struct {
	ID          int64     `json:"id"`
	Description string    `json:"description"`
	Quantity    int       `json:"quantity"`
	Sizes       []SizeQty `json:"sizes,omitempty"`
}

type OrderSummary struct {
	ID            int64              `json:"id"`
	Code          int64              `json:"code"`
	CustomerName  string             `json:"customer_name"`
	CustomerTaxID string             `json:"customer_tax_id"`
	CreatedOn     time.Time          `json:"created_on"`
	DeliveryOn    time.Time          `json:"delivery_on"`
	StatusCode    int                `json:"status_code"`
	StatusName    string             `json:"status_name,omitempty"`
	PaymentMethod string             `json:"payment_method,omitempty"`
	EmitInvoice   bool               `json:"emit_invoice"`
	Lines         []OrderLineSummary `json:"lines"`
}

func (s OrderSummary) TotalQuantity() int {
	total := 0
	for _, l := range s.Lines {
		total += l.Quantity
	}
	return total
}
