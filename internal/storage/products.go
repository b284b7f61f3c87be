package storage

import (
	"context"
	"database/sql"
	"strings"

	"orderbot/internal/domain"
	"orderbot/internal/textutil"
)

// ProductStore implements domain.ProductCatalog.
type ProductStore struct{ s *Store }

func (s *Store) Products() *ProductStore { return &ProductStore{s: s} }

// Search returns active products whose description or code contains every
// folded token of text.
func (p *ProductStore) Search(ctx context.Context, text string, limit int) ([]domain.ProductSummary, error) {
	const op = "storage.products.search"
	tokens := textutil.Tokens(text)
	if len(tokens) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	where := []string{"active = ?"}
	args := []any{true}
	for _, tok := range tokens {
		where = append(where, `search_key LIKE ? ESCAPE '\'`)
		args = append(args, likeContains(tok))
	}
	args = append(args, limit)

	rows, err := p.s.db.QueryContext(ctx, p.s.q(
		`SELECT id, code, description, grade_id, lead_time_days FROM products
		 WHERE `+strings.Join(where, " AND ")+`
		 ORDER BY description, id LIMIT ?`), args...)
	if err != nil {
		return nil, depErr(op, err)
	}
	defer rows.Close()

	var out []domain.ProductSummary
	for rows.Next() {
		var (
			ps    domain.ProductSummary
			grade sql.NullInt64
			lead  sql.NullInt64
		)
		if err := rows.Scan(&ps.ID, &ps.Code, &ps.Description, &grade, &lead); err != nil {
			return nil, depErr(op, err)
		}
		if grade.Valid {
			g := grade.Int64
			ps.GradeID = &g
		}
		if lead.Valid {
			l := int(lead.Int64)
			ps.LeadTimeDays = &l
		}
		out = append(out, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, depErr(op, err)
	}
	return out, nil
}

// SizesForGrade returns the grade's labels in position order. A zero gradeID
// falls back to the product's own grade.
func (p *ProductStore) SizesForGrade(ctx context.Context, productID, gradeID int64) ([]string, error) {
	const op = "storage.products.sizes"
	if gradeID == 0 {
		var g sql.NullInt64
		err := p.s.db.QueryRowContext(ctx, p.s.q(`SELECT grade_id FROM products WHERE id = ?`), productID).Scan(&g)
		if err != nil {
			if isNoRows(err) {
				return nil, domain.Errorf(domain.KindNotFound, op, "product %d not found", productID)
			}
			return nil, depErr(op, err)
		}
		if !g.Valid {
			return nil, nil
		}
		gradeID = g.Int64
	}

	rows, err := p.s.db.QueryContext(ctx, p.s.q(
		`SELECT s.label FROM grade_sizes gs
		 JOIN sizes s ON s.id = gs.size_id
		 WHERE gs.grade_id = ?
		 ORDER BY gs.position, gs.id`), gradeID)
	if err != nil {
		return nil, depErr(op, err)
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, depErr(op, err)
		}
		labels = append(labels, l)
	}
	if err := rows.Err(); err != nil {
		return nil, depErr(op, err)
	}
	return labels, nil
}

// LeadTimesFor returns one entry per id, in the same order, nil where the
// product has no lead time or does not exist.
func (p *ProductStore) LeadTimesFor(ctx context.Context, productIDs []int64) ([]*int, error) {
	return leadTimesFor(ctx, p.s.db, p.s.dialect, productIDs)
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func leadTimesFor(ctx context.Context, q queryer, dialect Dialect, productIDs []int64) ([]*int, error) {
	const op = "storage.products.lead_times"
	out := make([]*int, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}

	args := make([]any, len(productIDs))
	for i, id := range productIDs {
		args[i] = id
	}
	rows, err := q.QueryContext(ctx, rebind(dialect,
		`SELECT id, lead_time_days FROM products WHERE id IN (`+placeholders(len(productIDs))+`)`), args...)
	if err != nil {
		return nil, depErr(op, err)
	}
	defer rows.Close()

	byID := make(map[int64]int, len(productIDs))
	for rows.Next() {
		var (
			id   int64
			lead sql.NullInt64
		)
		if err := rows.Scan(&id, &lead); err != nil {
			return nil, depErr(op, err)
		}
		if lead.Valid {
			byID[id] = int(lead.Int64)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, depErr(op, err)
	}
	for i, id := range productIDs {
		if v, ok := byID[id]; ok {
			out[i] = &v
		}
	}
	return out, nil
}

// CountActive counts the products offered in conversations.
func (p *ProductStore) CountActive(ctx context.Context) (int, error) {
	var n int
	err := p.s.db.QueryRowContext(ctx, p.s.q(`SELECT COUNT(*) FROM products WHERE active = ?`), true).Scan(&n)
	if err != nil {
		return 0, depErr("storage.products.count", err)
	}
	return n, nil
}
