package storage

import (
	"context"
	"strings"

	"orderbot/internal/domain"
	"orderbot/internal/taxid"
	"orderbot/internal/textutil"
)

// CustomerStore implements domain.CustomerDirectory.
type CustomerStore struct{ s *Store }

func (s *Store) Customers() *CustomerStore { return &CustomerStore{s: s} }

// Search matches every folded token of filter against the stored name key, or,
// when filter is made of digits and tax id punctuation, its digits against the
// tax id.
func (c *CustomerStore) Search(ctx context.Context, filter string, limit int) ([]domain.CustomerSummary, error) {
	const op = "storage.customers.search"
	if limit <= 0 {
		limit = 20
	}

	var (
		where []string
		args  []any
	)
	if textutil.IsDigitsOnly(filter) {
		where = append(where, `tax_id LIKE ? ESCAPE '\'`)
		args = append(args, likeContains(textutil.Digits(filter)))
	} else {
		tokens := textutil.Tokens(filter)
		if len(tokens) == 0 {
			return nil, nil
		}
		for _, tok := range tokens {
			where = append(where, `search_key LIKE ? ESCAPE '\'`)
			args = append(args, likeContains(tok))
		}
	}
	args = append(args, limit)

	rows, err := c.s.db.QueryContext(ctx, c.s.q(
		`SELECT id, code, name, trade_name, tax_id FROM customers
		 WHERE `+strings.Join(where, " AND ")+`
		 ORDER BY name, id LIMIT ?`), args...)
	if err != nil {
		return nil, depErr(op, err)
	}
	defer rows.Close()

	var out []domain.CustomerSummary
	for rows.Next() {
		var cs domain.CustomerSummary
		if err := rows.Scan(&cs.ID, &cs.Code, &cs.Name, &cs.TradeName, &cs.TaxID); err != nil {
			return nil, depErr(op, err)
		}
		out = append(out, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, depErr(op, err)
	}
	return out, nil
}

// FindByTaxID returns the customer holding exactly these digits, or nil.
func (c *CustomerStore) FindByTaxID(ctx context.Context, digits string) (*domain.CustomerSummary, error) {
	var cs domain.CustomerSummary
	err := c.s.db.QueryRowContext(ctx, c.s.q(
		`SELECT id, code, name, trade_name, tax_id FROM customers WHERE tax_id = ? ORDER BY id LIMIT 1`),
		digits,
	).Scan(&cs.ID, &cs.Code, &cs.Name, &cs.TradeName, &cs.TaxID)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, depErr("storage.customers.find_by_tax_id", err)
	}
	return &cs, nil
}

// Insert stores a new customer and returns its id. A zero Code is replaced by
// NextCustomerCode.
func (c *CustomerStore) Insert(ctx context.Context, nc domain.NewCustomer) (int64, error) {
	const op = "storage.customers.insert"
	digits, err := taxid.Normalize(nc.TaxID)
	if err != nil {
		return 0, domain.Wrap(domain.KindValidation, op, err)
	}
	if strings.TrimSpace(nc.Name) == "" {
		return 0, domain.Errorf(domain.KindValidation, op, "customer name is required")
	}
	if nc.Code == 0 {
		if nc.Code, err = c.NextCustomerCode(ctx); err != nil {
			return 0, err
		}
	}

	var id int64
	err = c.s.db.QueryRowContext(ctx, c.s.q(
		`INSERT INTO customers (code, person_type, name, trade_name, tax_id, phone, address, postal_code, city, search_key)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		nc.Code, string(taxid.PersonTypeOf(digits)), strings.TrimSpace(nc.Name), strings.TrimSpace(nc.TradeName),
		digits, nc.Phone, nc.Address, textutil.Digits(nc.PostalCode), nc.City,
		textutil.SearchKey(nc.Name, nc.TradeName),
	).Scan(&id)
	if err != nil {
		return 0, depErr(op, err)
	}
	c.s.logger.Debug("customer inserted", "id", id, "code", nc.Code)
	return id, nil
}

// NextCustomerCode is max(code)+1, 1 on an empty table.
func (c *CustomerStore) NextCustomerCode(ctx context.Context) (int64, error) {
	var next int64
	if err := c.s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(code), 0) + 1 FROM customers`).Scan(&next); err != nil {
		return 0, depErr("storage.customers.next_code", err)
	}
	return next, nil
}
