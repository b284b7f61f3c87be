package storage

import (
	"context"

	"orderbot/internal/domain"
)

// PaymentStore implements domain.PaymentCatalog.
type PaymentStore struct{ s *Store }

func (s *Store) Payments() *PaymentStore { return &PaymentStore{s: s} }

// ListVisibleActive returns the methods offered in the conversation, in
// display order.
func (p *PaymentStore) ListVisibleActive(ctx context.Context) ([]domain.PaymentMethod, error) {
	const op = "storage.payments.list"
	rows, err := p.s.db.QueryContext(ctx, p.s.q(
		`SELECT id, name FROM payment_methods WHERE visible = ? AND active = ? ORDER BY position, id`), true, true)
	if err != nil {
		return nil, depErr(op, err)
	}
	defer rows.Close()

	var out []domain.PaymentMethod
	for rows.Next() {
		var m domain.PaymentMethod
		if err := rows.Scan(&m.ID, &m.Name); err != nil {
			return nil, depErr(op, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, depErr(op, err)
	}
	return out, nil
}
