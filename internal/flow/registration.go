package flow

import (
	"context"
	"strings"

	"orderbot/internal/bus"
	"orderbot/internal/domain"
	"orderbot/internal/grammar"
	"orderbot/internal/taxid"
	"orderbot/internal/textutil"
)

func templateText() string { return grammar.BlankTemplate() }

func (e *Engine) handleRegisteringName(_ context.Context, s *Session, in Inbound) (Reply, error) {
	if len([]rune(in.Text)) < e.opts.MinNameLength {
		return Reply{Text: join(msgNameTooShort, promptRegName)}, nil
	}
	s.reg.name = in.Text
	return e.say(s, StateRegisteringTaxID, promptRegTaxID)
}

func (e *Engine) handleRegisteringTaxID(ctx context.Context, s *Session, in Inbound) (Reply, error) {
	digits, err := taxid.Normalize(in.Text)
	if err != nil {
		return Reply{Text: join("CPF/CNPJ inválido: informe 11 ou 14 dígitos.", promptRegTaxID)}, nil
	}
	existing, err := e.findByTaxID(ctx, digits)
	if err != nil {
		return Reply{}, err
	}
	if existing != nil {
		return e.offerExisting(s, *existing)
	}
	s.reg.taxID = digits
	return e.say(s, StateRegisteringPhone, promptRegPhone)
}

func (e *Engine) handleRegisteringPhone(_ context.Context, s *Session, in Inbound) (Reply, error) {
	if in.Text == "-" {
		s.reg.phone = ""
		return e.say(s, StateRegisteringAddress, promptRegAddress)
	}
	if d := textutil.Digits(in.Text); len(d) < 8 || len(d) > 13 {
		return Reply{Text: join(msgPhoneInvalid, promptRegPhone)}, nil
	}
	s.reg.phone = in.Text
	return e.say(s, StateRegisteringAddress, promptRegAddress)
}

func (e *Engine) handleRegisteringAddress(ctx context.Context, s *Session, in Inbound) (Reply, error) {
	if len([]rune(in.Text)) < 3 {
		return Reply{Text: join(msgAddressInvalid, promptRegAddress)}, nil
	}
	s.reg.address = in.Text
	return e.registerCustomer(ctx, s)
}

func (e *Engine) handleFilledTemplate(ctx context.Context, s *Session, in Inbound) (Reply, error) {
	tpl, err := grammar.ParseRegistrationTemplate(in.Text)
	if err != nil {
		e.logger.Debug("template rejected", "contact", s.ContactID, "err", err)
		return Reply{Text: join("Não consegui ler o cadastro. CPF/CNPJ e Nome são obrigatórios.", promptTemplate, templateText())}, nil
	}
	existing, err := e.findByTaxID(ctx, tpl.TaxID)
	if err != nil {
		return Reply{}, err
	}
	if existing != nil {
		return e.offerExisting(s, *existing)
	}
	s.reg = registration{
		name:       tpl.Name,
		tradeName:  tpl.TradeName,
		taxID:      tpl.TaxID,
		address:    tpl.Address,
		postalCode: tpl.PostalCode,
		city:       tpl.City,
	}
	if strings.TrimSpace(tpl.Address) == "" {
		return e.say(s, StateRegisteringAddress, promptRegAddress)
	}
	return e.registerCustomer(ctx, s)
}

// findByTaxID looks for a customer holding exactly these digits.
func (e *Engine) findByTaxID(ctx context.Context, digits string) (*domain.CustomerSummary, error) {
	c, err := e.deps.Customers.FindByTaxID(ctx, digits)
	if err != nil {
		return nil, domain.Wrap(domain.KindDependency, "flow.customers.find_by_tax_id", err)
	}
	return c, nil
}

func (e *Engine) offerExisting(s *Session, c domain.CustomerSummary) (Reply, error) {
	s.reg = registration{}
	s.cand.customer = &c
	return e.say(s, StateConfirmingCustomer, "Este CPF/CNPJ já está cadastrado.", confirmCustomer(c))
}

func (e *Engine) registerCustomer(ctx context.Context, s *Session) (Reply, error) {
	const op = "flow.customers.register"
	code, err := e.deps.Customers.NextCustomerCode(ctx)
	if err != nil {
		return Reply{}, domain.Wrap(domain.KindDependency, op, err)
	}
	nc := domain.NewCustomer{
		Code:       code,
		Name:       s.reg.name,
		TradeName:  s.reg.tradeName,
		TaxID:      s.reg.taxID,
		Phone:      s.reg.phone,
		Address:    s.reg.address,
		PostalCode: s.reg.postalCode,
		City:       s.reg.city,
	}
	id, err := e.deps.Customers.Insert(ctx, nc)
	if err != nil {
		return Reply{}, domain.Wrap(domain.KindDependency, op, err)
	}

	e.logger.Info("customer registered", "contact", s.ContactID, "customer_id", id, "code", code)
	e.emit(bus.EventCustomerRegistered, s.ContactID, map[string]any{"customer_id": id, "code": code})
	e.selectCustomer(s, domain.CustomerSummary{ID: id, Code: code, Name: nc.Name, TradeName: nc.TradeName, TaxID: nc.TaxID})
	s.reg = registration{}
	return e.say(s, StateSearchingProduct, "Cliente cadastrado: "+s.Customer.Name+".", promptProduct)
}
