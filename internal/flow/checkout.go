package flow

import (
	"context"

	"orderbot/internal/bus"
	"orderbot/internal/domain"
)

func (e *Engine) handleFinalizingOrder(ctx context.Context, s *Session, in Inbound) (Reply, error) {
	if len(s.ord.lines) == 0 {
		return e.say(s, StateSearchingProduct, msgEmptyDraft, promptProduct)
	}
	switch in.Text {
	case "1":
		if s.ord.commitFailed {
			return e.commit(ctx, s)
		}
		methods, err := e.deps.Payments.ListVisibleActive(ctx)
		if err != nil {
			return Reply{}, domain.Wrap(domain.KindDependency, "flow.payments.list", err)
		}
		if len(methods) == 0 {
			s.ord.paymentID = nil
			s.ord.paymentName = ""
			return e.say(s, StateAskingEmitInvoice, msgNoPayments, promptInvoice)
		}
		s.cand.payments = methods
		return e.say(s, StateSelectingPaymentMethod, paymentList(methods))
	case "2":
		s.ord.commitFailed = false
		return e.say(s, StateSearchingProduct, promptProduct)
	default:
		return e.reprompt(s)
	}
}

func (e *Engine) handleSelectingPayment(_ context.Context, s *Session, in Inbound) (Reply, error) {
	idx, _, ok := pick(in.Text, len(s.cand.payments))
	if !ok {
		return e.reprompt(s)
	}
	m := s.cand.payments[idx]
	id := m.ID
	s.ord.paymentID = &id
	s.ord.paymentName = m.Name
	s.cand.payments = nil
	return e.say(s, StateAskingEmitInvoice, "Pagamento: "+m.Name+".", promptInvoice)
}

func (e *Engine) handleAskingEmitInvoice(ctx context.Context, s *Session, in Inbound) (Reply, error) {
	switch in.Text {
	case "1":
		s.ord.emitInvoice = true
	case "2":
		s.ord.emitInvoice = false
	default:
		return e.reprompt(s)
	}
	return e.commit(ctx, s)
}

// commit hands the draft to the order repository. On failure the draft,
// payment and invoice choice stay in the session for a retry.
func (e *Engine) commit(ctx context.Context, s *Session) (Reply, error) {
	if s.Customer == nil {
		s.ord = draft{}
		return e.say(s, StateSelectingCustomer, "Selecione o cliente antes de finalizar.", promptCustomer)
	}
	order := domain.NewOrder{
		CustomerID:      s.Customer.ID,
		CreatedOn:       e.now(),
		StatusCode:      e.opts.InitialStatusCode,
		PaymentMethodID: s.ord.paymentID,
		EmitInvoice:     s.ord.emitInvoice,
	}
	for _, l := range s.ord.lines {
		order.Lines = append(order.Lines, l.orderLine())
	}

	res, err := e.deps.Orders.Commit(ctx, order)
	if err != nil {
		return Reply{}, &domain.Error{Kind: domain.KindCommit, Op: "flow.commit", Err: err}
	}

	e.storeImages(ctx, s, res)

	e.logger.Info("order finalized",
		"contact", s.ContactID,
		"order_code", res.Code,
		"order_id", res.OrderID,
		"lines", len(res.LineIDs),
	)
	e.emit(bus.EventOrderCommitted, s.ContactID, map[string]any{
		"order_id":    res.OrderID,
		"order_code":  res.Code,
		"customer_id": s.Customer.ID,
		"lines":       len(res.LineIDs),
		"quantity":    order.TotalQuantity(),
		"delivery_on": res.DeliveryOn.Format("2006-01-02"),
	})

	s.reset()
	return Reply{
		Text:           join(orderConfirmation(res), menuMain),
		OrderFinalized: true,
		OrderID:        res.OrderID,
		OrderCode:      res.Code,
	}, nil
}

// storeImages normalizes and saves pending artwork after the commit.
// Failures are logged and never affect the committed order.
func (e *Engine) storeImages(ctx context.Context, s *Session, res domain.CommitResult) {
	for i, l := range s.ord.lines {
		if l.Image == nil {
			continue
		}
		if i >= len(res.LineIDs) || e.deps.Normalizer == nil || e.deps.Images == nil {
			e.logger.Warn("line image dropped", "contact", s.ContactID, "order_code", res.Code, "line", i+1)
			continue
		}
		lineID := res.LineIDs[i]
		img, err := e.deps.Normalizer.Normalize(l.Image)
		if err != nil {
			err = domain.Wrap(domain.KindPostCommit, "flow.images.normalize", err)
			e.logger.Warn("line image not stored", "order_code", res.Code, "line_id", lineID, "err", err)
			continue
		}
		if err := e.deps.Images.SaveLineImage(ctx, lineID, img); err != nil {
			err = domain.Wrap(domain.KindPostCommit, "flow.images.save", err)
			e.logger.Warn("line image not stored", "order_code", res.Code, "line_id", lineID, "err", err)
			continue
		}
		e.logger.Debug("line image stored", "order_code", res.Code, "line_id", lineID)
	}
}
