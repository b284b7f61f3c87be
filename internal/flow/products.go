package flow

import (
	"context"
	"errors"

	"orderbot/internal/domain"
	"orderbot/internal/grammar"
)

func (e *Engine) handleSearchingProduct(ctx context.Context, s *Session, in Inbound) (Reply, error) {
	if in.Text == "" {
		return e.reprompt(s)
	}
	return e.searchProducts(ctx, s, in.Text)
}

func (e *Engine) searchProducts(ctx context.Context, s *Session, text string) (Reply, error) {
	found, err := e.deps.Products.Search(ctx, text, e.opts.SearchLimit)
	if err != nil {
		return Reply{}, domain.Wrap(domain.KindDependency, "flow.products.search", err)
	}
	switch len(found) {
	case 0:
		s.cand.products = nil
		return e.say(s, StateSearchingProduct, msgNoProduct, promptProduct)
	case 1:
		s.cand.products = nil
		return e.selectProduct(ctx, s, found[0])
	default:
		if len(found) > e.opts.SearchLimit {
			found = found[:e.opts.SearchLimit]
		}
		s.cand.products = found
		return e.say(s, StateSelectingProductFromList, productList(found))
	}
}

func (e *Engine) handleProductFromList(ctx context.Context, s *Session, in Inbound) (Reply, error) {
	idx, numeric, ok := pick(in.Text, len(s.cand.products))
	if !numeric {
		if in.Text == "" {
			return e.reprompt(s)
		}
		return e.searchProducts(ctx, s, in.Text)
	}
	if !ok {
		return e.reprompt(s)
	}
	p := s.cand.products[idx]
	s.cand.products = nil
	return e.selectProduct(ctx, s, p)
}

// selectProduct loads the product's size labels and asks for quantities.
func (e *Engine) selectProduct(ctx context.Context, s *Session, p domain.ProductSummary) (Reply, error) {
	var labels []string
	if p.GradeID != nil {
		var err error
		labels, err = e.deps.Products.SizesForGrade(ctx, p.ID, *p.GradeID)
		if err != nil {
			return Reply{}, domain.Wrap(domain.KindDependency, "flow.products.sizes", err)
		}
	}
	s.cand.product = &p
	s.cand.sizes = labels
	return e.say(s, StateSelectingSize, sizePrompt(&p, labels))
}

func (e *Engine) handleSelectingSize(_ context.Context, s *Session, in Inbound) (Reply, error) {
	if s.cand.product == nil {
		return e.say(s, StateSearchingProduct, promptProduct)
	}
	parsed, err := grammar.ParseSizeQuantities(in.Text, s.cand.sizes)
	if err != nil {
		var re *grammar.RejectError
		if errors.As(err, &re) {
			return Reply{Text: join(sizeRejection(re), sizePrompt(s.cand.product, s.cand.sizes))}, nil
		}
		return Reply{}, err
	}

	var line DraftLine
	if len(parsed.Sizes) > 0 {
		line = NewSizedLine(*s.cand.product, parsed.Sizes)
	} else {
		line = NewFlatLine(*s.cand.product, parsed.Flat)
	}
	s.ord.lines = append(s.ord.lines, line)
	s.ord.commitFailed = false
	s.cand.product = nil
	s.cand.sizes = nil
	return e.say(s, StateAskingImage, "Item adicionado: "+describeLine(line), promptAskImage)
}

func (e *Engine) handleAskingImage(ctx context.Context, s *Session, in Inbound) (Reply, error) {
	if in.Image != nil {
		return e.handleAwaitingImage(ctx, s, in)
	}
	switch in.Text {
	case "1":
		return e.say(s, StateAwaitingImage, promptAwaitImage)
	case "2":
		return e.say(s, StateAskingMoreProducts, promptMore)
	default:
		return e.reprompt(s)
	}
}

// handleAwaitingImage attaches the picture to the last draft line. It is
// decoded only after the order is committed.
func (e *Engine) handleAwaitingImage(_ context.Context, s *Session, in Inbound) (Reply, error) {
	if in.Image == nil {
		if in.Text == "2" {
			return e.say(s, StateAskingMoreProducts, promptMore)
		}
		return Reply{Text: join(msgImageExpected, promptAwaitImage)}, nil
	}
	if e.opts.MaxImageBytes > 0 && len(in.Image) > e.opts.MaxImageBytes {
		return Reply{Text: msgImageTooLarge}, nil
	}
	if len(s.ord.lines) == 0 {
		return e.say(s, StateSearchingProduct, msgEmptyDraft, promptProduct)
	}
	last := &s.ord.lines[len(s.ord.lines)-1]
	last.Image = append([]byte(nil), in.Image...)
	last.ImageMime = in.ImageMime
	return e.say(s, StateAskingMoreProducts, "Arte recebida.", promptMore)
}

func (e *Engine) handleAskingMoreProducts(_ context.Context, s *Session, in Inbound) (Reply, error) {
	switch in.Text {
	case "1":
		return e.say(s, StateSearchingProduct, promptProduct)
	case "2":
		if len(s.ord.lines) == 0 {
			return e.say(s, StateSearchingProduct, msgEmptyDraft, promptProduct)
		}
		s.ord.commitFailed = false
		return e.say(s, StateFinalizingOrder, draftSummary(s.Customer, s.ord), promptFinalize)
	case "3":
		if n := len(s.ord.lines); n > 0 {
			removed := s.ord.lines[n-1]
			s.ord.lines = s.ord.lines[:n-1]
			if len(s.ord.lines) == 0 {
				return e.say(s, StateSearchingProduct, "Item removido: "+removed.Description+".", msgEmptyDraft, promptProduct)
			}
			return e.say(s, StateAskingMoreProducts, "Item removido: "+removed.Description+".", draftSummary(s.Customer, s.ord), promptMore)
		}
		return e.say(s, StateSearchingProduct, msgEmptyDraft, promptProduct)
	default:
		return e.reprompt(s)
	}
}
