package flow

import (
	"context"

	"orderbot/internal/domain"
)

func (e *Engine) handleSelectingCustomer(ctx context.Context, s *Session, in Inbound) (Reply, error) {
	switch in.Text {
	case "":
		return e.reprompt(s)
	case "9":
		s.reg = registration{}
		return e.say(s, StateRegisteringName, promptRegName)
	case "8":
		s.reg = registration{}
		return e.say(s, StateAwaitingFilledTemplate, promptTemplate, templateText())
	}
	return e.searchCustomers(ctx, s, in.Text)
}

// searchCustomers runs the directory search and moves to confirmation on a
// single hit or to the numbered list on several.
func (e *Engine) searchCustomers(ctx context.Context, s *Session, filter string) (Reply, error) {
	found, err := e.deps.Customers.Search(ctx, filter, e.opts.SearchLimit)
	if err != nil {
		return Reply{}, domain.Wrap(domain.KindDependency, "flow.customers.search", err)
	}
	switch len(found) {
	case 0:
		s.cand.customers = nil
		return e.say(s, StateSelectingCustomer, msgNoCustomer, promptCustomer)
	case 1:
		c := found[0]
		s.cand.customers = nil
		s.cand.customer = &c
		return e.say(s, StateConfirmingCustomer, confirmCustomer(c))
	default:
		if len(found) > e.opts.SearchLimit {
			found = found[:e.opts.SearchLimit]
		}
		s.cand.customers = found
		return e.say(s, StateSelectingCustomerFromList, customerList(found))
	}
}

func (e *Engine) handleCustomerFromList(ctx context.Context, s *Session, in Inbound) (Reply, error) {
	idx, numeric, ok := pick(in.Text, len(s.cand.customers))
	if !numeric {
		if in.Text == "" {
			return e.reprompt(s)
		}
		return e.searchCustomers(ctx, s, in.Text)
	}
	if !ok {
		return e.reprompt(s)
	}
	c := s.cand.customers[idx]
	s.cand.customers = nil
	s.cand.customer = &c
	return e.say(s, StateConfirmingCustomer, confirmCustomer(c))
}

func (e *Engine) handleConfirmingCustomer(_ context.Context, s *Session, in Inbound) (Reply, error) {
	switch in.Text {
	case "1":
		if s.cand.customer == nil {
			return e.say(s, StateSelectingCustomer, promptCustomer)
		}
		e.selectCustomer(s, *s.cand.customer)
		return e.say(s, StateSearchingProduct, "Cliente confirmado: "+s.Customer.Name+".", promptProduct)
	case "2":
		s.cand.customer = nil
		return e.say(s, StateSelectingCustomer, promptCustomer)
	default:
		return e.reprompt(s)
	}
}

func (e *Engine) selectCustomer(s *Session, c domain.CustomerSummary) {
	s.Customer = &SelectedCustomer{ID: c.ID, Name: c.DisplayName(), TaxID: c.TaxID}
	s.cand.customer = nil
	s.cand.customers = nil
	e.logger.Debug("customer selected", "contact", s.ContactID, "customer_id", c.ID)
}
