package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"orderbot/internal/domain"
)

const dateLayout = "2006-01-02"

// OrderStore implements domain.OrderRepository.
type OrderStore struct{ s *Store }

func (s *Store) Orders() *OrderStore { return &OrderStore{s: s} }

// DeliveryDate is created plus the largest known lead time, or plus
// defaultDays when no product has one.
func DeliveryDate(created time.Time, leadTimes []*int, defaultDays int) time.Time {
	days := -1
	for _, lt := range leadTimes {
		if lt != nil && *lt > days {
			days = *lt
		}
	}
	if days < 0 {
		days = defaultDays
	}
	return created.AddDate(0, 0, days)
}

func commitErr(format string, args ...any) error {
	return &domain.Error{Kind: domain.KindCommit, Op: "storage.orders.commit", Err: fmt.Errorf(format, args...)}
}

type sizeRow struct {
	id     int64
	sizeID int64
}

// Commit writes the order header, its lines, their size breakdown rows and,
// when the order enters production directly, one stage progress row per size
// row. Everything happens in one transaction; any failure rolls it back and
// is reported as a commit error.
func (o *OrderStore) Commit(ctx context.Context, order domain.NewOrder) (res domain.CommitResult, err error) {
	if order.CustomerID == 0 {
		return res, commitErr("order has no customer")
	}
	if len(order.Lines) == 0 {
		return res, commitErr("order has no lines")
	}
	created := order.CreatedOn
	if created.IsZero() {
		created = time.Now()
	}
	created = time.Date(created.Year(), created.Month(), created.Day(), 0, 0, 0, 0, created.Location())

	dialect := o.s.dialect
	tx, err := o.s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, commitErr("begin: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				o.s.logger.Warn("order rollback failed", "err", rbErr)
			}
		}
	}()

	seen := make(map[int64]bool)
	var productIDs []int64
	for _, l := range order.Lines {
		if !seen[l.ProductID] {
			seen[l.ProductID] = true
			productIDs = append(productIDs, l.ProductID)
		}
	}
	leads, err := leadTimesFor(ctx, tx, dialect, productIDs)
	if err != nil {
		return res, commitErr("lead times: %w", err)
	}
	delivery := DeliveryDate(created, leads, o.s.defaultLeadTimeDays)

	var code int64
	if err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(code), 0) + 1 FROM orders`).Scan(&code); err != nil {
		return res, commitErr("next code: %w", err)
	}

	var orderID int64
	err = tx.QueryRowContext(ctx, rebind(dialect,
		`INSERT INTO orders (code, customer_id, created_on, delivery_on, status_code, payment_method_id, emit_invoice)
		 VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		code, order.CustomerID, created.Format(dateLayout), delivery.Format(dateLayout),
		order.StatusCode, order.PaymentMethodID, order.EmitInvoice,
	).Scan(&orderID)
	if err != nil {
		return res, commitErr("insert header: %w", err)
	}

	var rows []sizeRow
	lineIDs := make([]int64, 0, len(order.Lines))
	for i, line := range order.Lines {
		placeholder := line.Quantity
		if len(line.Sizes) > 0 {
			placeholder = 0
		}
		var lineID int64
		err = tx.QueryRowContext(ctx, rebind(dialect,
			`INSERT INTO order_lines (order_id, position, product_id, grade_id, description, quantity)
			 VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
			orderID, i+1, line.ProductID, line.GradeID, line.Description, placeholder,
		).Scan(&lineID)
		if err != nil {
			return res, commitErr("insert line %d: %w", i+1, err)
		}
		lineIDs = append(lineIDs, lineID)

		if len(line.Sizes) == 0 {
			continue
		}
		if line.GradeID == nil {
			return res, commitErr("line %d has a size breakdown but no grade", i+1)
		}
		for _, sq := range line.Sizes {
			var gradeSizeID, sizeID int64
			err = tx.QueryRowContext(ctx, rebind(dialect,
				`SELECT gs.id, s.id FROM grade_sizes gs
				 JOIN sizes s ON s.id = gs.size_id
				 WHERE gs.grade_id = ? AND UPPER(s.label) = UPPER(?)`),
				*line.GradeID, sq.Label,
			).Scan(&gradeSizeID, &sizeID)
			if err != nil {
				if isNoRows(err) {
					return res, commitErr("size %q is not part of grade %d", sq.Label, *line.GradeID)
				}
				return res, commitErr("resolve size %q: %w", sq.Label, err)
			}

			var rowID int64
			err = tx.QueryRowContext(ctx, rebind(dialect,
				`INSERT INTO order_line_sizes (line_id, grade_size_id, quantity, stage_id)
				 VALUES (?, ?, ?, ?) RETURNING id`),
				lineID, gradeSizeID, sq.Quantity, o.s.initialStageID,
			).Scan(&rowID)
			if err != nil {
				return res, commitErr("insert size row: %w", err)
			}
			rows = append(rows, sizeRow{id: rowID, sizeID: sizeID})
		}
		if _, err = tx.ExecContext(ctx, rebind(dialect, `UPDATE order_lines SET quantity = ? WHERE id = ?`),
			line.EffectiveQuantity(), lineID); err != nil {
			return res, commitErr("update line quantity: %w", err)
		}
	}

	progress := 0
	inProduction, found, err := getSetting(ctx, tx, dialect, o.s.inProductionSettingKey)
	if err != nil {
		return res, commitErr("read setting %s: %w", o.s.inProductionSettingKey, err)
	}
	if found && strings.TrimSpace(inProduction) == strconv.Itoa(order.StatusCode) {
		for _, r := range rows {
			if _, err = tx.ExecContext(ctx, rebind(dialect,
				`INSERT INTO stage_progress (line_size_id, size_id, stage_id, worker_id, completed)
				 VALUES (?, ?, ?, NULL, ?)`),
				r.id, r.sizeID, o.s.initialStageID, false); err != nil {
				return res, commitErr("insert stage progress: %w", err)
			}
			progress++
		}
	}

	if err = tx.Commit(); err != nil {
		return res, commitErr("commit: %w", err)
	}

	o.s.logger.Info("order committed",
		"order_code", code,
		"order_id", orderID,
		"lines", len(lineIDs),
		"size_rows", len(rows),
		"progress_rows", progress,
	)
	return domain.CommitResult{
		OrderID:      orderID,
		Code:         code,
		DeliveryOn:   delivery,
		LineIDs:      lineIDs,
		SizeRows:     len(rows),
		ProgressRows: progress,
	}, nil
}

// NextOrderCode previews the code the next commit would take.
func (o *OrderStore) NextOrderCode(ctx context.Context) (int64, error) {
	var next int64
	if err := o.s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(code), 0) + 1 FROM orders`).Scan(&next); err != nil {
		return 0, depErr("storage.orders.next_code", err)
	}
	return next, nil
}

// LookupByCode returns the summary of the order with this business code, or
// nil when there is none.
func (o *OrderStore) LookupByCode(ctx context.Context, code int64) (*domain.OrderSummary, error) {
	var id int64
	err := o.s.db.QueryRowContext(ctx, o.s.q(`SELECT id FROM orders WHERE code = ?`), code).Scan(&id)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, depErr("storage.orders.lookup_code", err)
	}
	return o.SummaryFor(ctx, id)
}

// LookupByCustomer lists a customer's orders, newest first.
func (o *OrderStore) LookupByCustomer(ctx context.Context, customerID int64, limit int) ([]domain.OrderBrief, error) {
	const op = "storage.orders.lookup_customer"
	if limit <= 0 {
		limit = 20
	}
	rows, err := o.s.db.QueryContext(ctx, o.s.q(
		`SELECT o.id, o.code, o.created_on, o.delivery_on, o.status_code, COALESCE(st.name, '')
		 FROM orders o
		 LEFT JOIN order_statuses st ON st.code = o.status_code
		 WHERE o.customer_id = ?
		 ORDER BY o.code DESC LIMIT ?`), customerID, limit)
	if err != nil {
		return nil, depErr(op, err)
	}
	defer rows.Close()

	var out []domain.OrderBrief
	for rows.Next() {
		var (
			b                 domain.OrderBrief
			created, delivery string
		)
		if err := rows.Scan(&b.ID, &b.Code, &created, &delivery, &b.StatusCode, &b.StatusName); err != nil {
			return nil, depErr(op, err)
		}
		b.CreatedOn = parseDate(created)
		b.DeliveryOn = parseDate(delivery)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, depErr(op, err)
	}
	return out, nil
}

// SummaryFor loads an order with its lines and size breakdowns. A missing
// order is a not-found error.
func (o *OrderStore) SummaryFor(ctx context.Context, orderID int64) (*domain.OrderSummary, error) {
	const op = "storage.orders.summary"
	var (
		sum               domain.OrderSummary
		created, delivery string
	)
	err := o.s.db.QueryRowContext(ctx, o.s.q(
		`SELECT o.id, o.code, c.name, c.tax_id, o.created_on, o.delivery_on, o.status_code,
		        COALESCE(st.name, ''), COALESCE(pm.name, ''), o.emit_invoice
		 FROM orders o
		 JOIN customers c ON c.id = o.customer_id
		 LEFT JOIN order_statuses st ON st.code = o.status_code
		 LEFT JOIN payment_methods pm ON pm.id = o.payment_method_id
		 WHERE o.id = ?`), orderID,
	).Scan(&sum.ID, &sum.Code, &sum.CustomerName, &sum.CustomerTaxID, &created, &delivery,
		&sum.StatusCode, &sum.StatusName, &sum.PaymentMethod, &sum.EmitInvoice)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.Errorf(domain.KindNotFound, op, "order %d not found", orderID)
		}
		return nil, depErr(op, err)
	}
	sum.CreatedOn = parseDate(created)
	sum.DeliveryOn = parseDate(delivery)

	lines, err := o.s.db.QueryContext(ctx, o.s.q(
		`SELECT id, description, quantity FROM order_lines WHERE order_id = ? ORDER BY position, id`), orderID)
	if err != nil {
		return nil, depErr(op, err)
	}
	for lines.Next() {
		var l domain.OrderLineSummary
		if err := lines.Scan(&l.ID, &l.Description, &l.Quantity); err != nil {
			lines.Close()
			return nil, depErr(op, err)
		}
		sum.Lines = append(sum.Lines, l)
	}
	lines.Close()
	if err := lines.Err(); err != nil {
		return nil, depErr(op, err)
	}

	for i := range sum.Lines {
		sizes, err := o.lineSizes(ctx, sum.Lines[i].ID)
		if err != nil {
			return nil, depErr(op, err)
		}
		sum.Lines[i].Sizes = sizes
	}
	return &sum, nil
}

func (o *OrderStore) lineSizes(ctx context.Context, lineID int64) ([]domain.SizeQty, error) {
	rows, err := o.s.db.QueryContext(ctx, o.s.q(
		`SELECT s.label, ols.quantity FROM order_line_sizes ols
		 JOIN grade_sizes gs ON gs.id = ols.grade_size_id
		 JOIN sizes s ON s.id = gs.size_id
		 WHERE ols.line_id = ?
		 ORDER BY gs.position, ols.id`), lineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SizeQty
	for rows.Next() {
		var sq domain.SizeQty
		if err := rows.Scan(&sq.Label, &sq.Quantity); err != nil {
			return nil, err
		}
		out = append(out, sq)
	}
	return out, rows.Err()
}

// ListOrdersBetween returns full summaries of orders created in [from, to],
// by code.
func (o *OrderStore) ListOrdersBetween(ctx context.Context, from, to time.Time) ([]domain.OrderSummary, error) {
	const op = "storage.orders.list"
	rows, err := o.s.db.QueryContext(ctx, o.s.q(
		`SELECT id FROM orders WHERE created_on >= ? AND created_on <= ? ORDER BY code`),
		from.Format(dateLayout), to.Format(dateLayout))
	if err != nil {
		return nil, depErr(op, err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, depErr(op, err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, depErr(op, err)
	}

	out := make([]domain.OrderSummary, 0, len(ids))
	for _, id := range ids {
		sum, err := o.SummaryFor(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *sum)
	}
	return out, nil
}

// StageProgressRows counts the progress rows of an order.
func (o *OrderStore) StageProgressRows(ctx context.Context, orderID int64) (int, error) {
	var n int
	err := o.s.db.QueryRowContext(ctx, o.s.q(
		`SELECT COUNT(*) FROM stage_progress sp
		 JOIN order_line_sizes ols ON ols.id = sp.line_size_id
		 JOIN order_lines ol ON ol.id = ols.line_id
		 WHERE ol.order_id = ?`), orderID).Scan(&n)
	if err != nil {
		return 0, depErr("storage.orders.progress_rows", err)
	}
	return n, nil
}

func parseDate(s string) time.Time {
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
