package flow

import (
	"context"
	"strconv"

	"orderbot/internal/domain"
	"orderbot/internal/textutil"
)

func (e *Engine) handleLookupMenu(_ context.Context, s *Session, in Inbound) (Reply, error) {
	switch in.Text {
	case "1":
		return e.say(s, StateLookupByCode, promptLookupCode)
	case "2":
		return e.say(s, StateLookupByCustomer, promptLookupCustomer)
	default:
		return e.reprompt(s)
	}
}

func (e *Engine) handleLookupByCode(ctx context.Context, s *Session, in Inbound) (Reply, error) {
	code, err := strconv.ParseInt(textutil.Digits(in.Text), 10, 64)
	if err != nil || !textutil.IsDigitsOnly(in.Text) {
		return e.reprompt(s)
	}
	sum, err := e.deps.Orders.LookupByCode(ctx, code)
	if err != nil {
		return Reply{}, domain.Wrap(domain.KindDependency, "flow.orders.lookup_code", err)
	}
	if sum == nil {
		return e.say(s, StateLookupByCode, msgNoOrder, promptLookupCode)
	}
	return e.say(s, StateAwaitingMenu, orderSummary(sum), menuMain)
}

func (e *Engine) handleLookupByCustomer(ctx context.Context, s *Session, in Inbound) (Reply, error) {
	if in.Text == "" {
		return e.reprompt(s)
	}
	return e.lookupCustomers(ctx, s, in.Text)
}

func (e *Engine) lookupCustomers(ctx context.Context, s *Session, filter string) (Reply, error) {
	found, err := e.deps.Customers.Search(ctx, filter, e.opts.SearchLimit)
	if err != nil {
		return Reply{}, domain.Wrap(domain.KindDependency, "flow.customers.search", err)
	}
	switch len(found) {
	case 0:
		s.cand.customers = nil
		return e.say(s, StateLookupByCustomer, msgNoCustomer, promptLookupCustomer)
	case 1:
		s.cand.customers = nil
		return e.listOrders(ctx, s, found[0])
	default:
		if len(found) > e.opts.SearchLimit {
			found = found[:e.opts.SearchLimit]
		}
		s.cand.customers = found
		return e.say(s, StateLookupSelectCustomer, customerList(found))
	}
}

func (e *Engine) handleLookupSelectCustomer(ctx context.Context, s *Session, in Inbound) (Reply, error) {
	idx, numeric, ok := pick(in.Text, len(s.cand.customers))
	if !numeric {
		if in.Text == "" {
			return e.reprompt(s)
		}
		return e.lookupCustomers(ctx, s, in.Text)
	}
	if !ok {
		return e.reprompt(s)
	}
	c := s.cand.customers[idx]
	s.cand.customers = nil
	return e.listOrders(ctx, s, c)
}

func (e *Engine) listOrders(ctx context.Context, s *Session, c domain.CustomerSummary) (Reply, error) {
	orders, err := e.deps.Orders.LookupByCustomer(ctx, c.ID, e.opts.SearchLimit)
	if err != nil {
		return Reply{}, domain.Wrap(domain.KindDependency, "flow.orders.lookup_customer", err)
	}
	switch len(orders) {
	case 0:
		return e.say(s, StateAwaitingMenu, msgNoOrders, menuMain)
	case 1:
		return e.showOrder(ctx, s, orders[0].ID)
	default:
		s.cand.orders = orders
		return e.say(s, StateLookupSelectOrder, "Cliente: "+c.DisplayName(), orderList(orders))
	}
}

func (e *Engine) handleLookupSelectOrder(ctx context.Context, s *Session, in Inbound) (Reply, error) {
	idx, _, ok := pick(in.Text, len(s.cand.orders))
	if !ok {
		return e.reprompt(s)
	}
	return e.showOrder(ctx, s, s.cand.orders[idx].ID)
}

func (e *Engine) showOrder(ctx context.Context, s *Session, orderID int64) (Reply, error) {
	sum, err := e.deps.Orders.SummaryFor(ctx, orderID)
	if err != nil {
		return Reply{}, domain.Wrap(domain.KindDependency, "flow.orders.summary", err)
	}
	s.cand.orders = nil
	return e.say(s, StateAwaitingMenu, orderSummary(sum), menuMain)
}
