// Package grammar implements the small text grammars of the order dialogue:
// size/quantity breakdowns and the customer registration template.
package grammar

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"orderbot/internal/domain"
)

var (
	sizeQuantityPattern = regexp.MustCompile(`(?i)^(\d+|([A-Z]{1,3}\s*\d+)([ ,]+[A-Z]{1,3}\s*\d+)*)$`)
	sizeTokenPattern    = regexp.MustCompile(`(?i)([A-Z]{1,3})\s*(\d+)`)
	bareQuantityPattern = regexp.MustCompile(`^\d+$`)
)

// MaxQuantity bounds a single flat or per-size quantity.
const MaxQuantity = 100000

// RejectReason says why a size/quantity text was refused.
type RejectReason int

const (
	RejectMalformed RejectReason = iota + 1
	RejectNeedsBreakdown
	RejectNeedsQuantity
	RejectUnknownLabel
	RejectDuplicateLabel
	RejectZeroQuantity
	RejectTooLarge
)

// RejectError is returned, wrapped as a validation error, for any refused
// input. Valid holds the grade labels to re-prompt with.
type RejectError struct {
	Reason RejectReason
	Label  string
	Valid  []string
}

func (e *RejectError) Error() string {
	switch e.Reason {
	case RejectNeedsBreakdown:
		return "product has a size grade, quantities must be given per size"
	case RejectNeedsQuantity:
		return "product has no size grade, a single quantity is expected"
	case RejectUnknownLabel:
		return fmt.Sprintf("size %q is not part of the grade %v", e.Label, e.Valid)
	case RejectDuplicateLabel:
		return fmt.Sprintf("size %q given more than once", e.Label)
	case RejectZeroQuantity:
		return "quantities must be greater than zero"
	case RejectTooLarge:
		return fmt.Sprintf("quantities must be at most %d", MaxQuantity)
	default:
		return "unrecognized size/quantity text"
	}
}

// SizeQuantities is a parsed input: either Flat or Sizes is set.
type SizeQuantities struct {
	Flat  int
	Sizes []domain.SizeQty
}

func (q SizeQuantities) Total() int {
	if len(q.Sizes) == 0 {
		return q.Flat
	}
	total := 0
	for _, s := range q.Sizes {
		total += s.Quantity
	}
	return total
}

// ParseSizeQuantities parses "P10 M5, G3" against the grade labels, or a bare
// quantity when labels is empty. Parsing is all-or-nothing. Sizes come back in
// grade order using the grade's spelling of each label.
func ParseSizeQuantities(text string, labels []string) (SizeQuantities, error) {
	text = strings.TrimSpace(text)
	if !sizeQuantityPattern.MatchString(text) {
		return SizeQuantities{}, reject(RejectMalformed, "", labels)
	}

	if bareQuantityPattern.MatchString(text) {
		if len(labels) > 0 {
			return SizeQuantities{}, reject(RejectNeedsBreakdown, "", labels)
		}
		n, reason := parseQuantity(text)
		if reason != 0 {
			return SizeQuantities{}, reject(reason, "", labels)
		}
		return SizeQuantities{Flat: n}, nil
	}
	if len(labels) == 0 {
		return SizeQuantities{}, reject(RejectNeedsQuantity, "", labels)
	}

	position := make(map[string]int, len(labels))
	for i, l := range labels {
		position[strings.ToUpper(l)] = i
	}

	seen := make(map[int]bool)
	var sizes []domain.SizeQty
	for _, m := range sizeTokenPattern.FindAllStringSubmatch(text, -1) {
		label := strings.ToUpper(m[1])
		idx, ok := position[label]
		if !ok {
			return SizeQuantities{}, reject(RejectUnknownLabel, label, labels)
		}
		if seen[idx] {
			return SizeQuantities{}, reject(RejectDuplicateLabel, label, labels)
		}
		qty, reason := parseQuantity(m[2])
		if reason != 0 {
			return SizeQuantities{}, reject(reason, label, labels)
		}
		seen[idx] = true
		sizes = append(sizes, domain.SizeQty{Label: labels[idx], Quantity: qty})
	}

	if len(sizes) == 0 {
		return SizeQuantities{}, reject(RejectMalformed, "", labels)
	}

	sort.SliceStable(sizes, func(i, j int) bool {
		return position[strings.ToUpper(sizes[i].Label)] < position[strings.ToUpper(sizes[j].Label)]
	})
	return SizeQuantities{Sizes: sizes}, nil
}

// parseQuantity reads a digit string into 1..MaxQuantity. Digit strings too
// long for an int count as too large.
func parseQuantity(digits string) (int, RejectReason) {
	n, err := strconv.Atoi(digits)
	switch {
	case errors.Is(err, strconv.ErrRange):
		return 0, RejectTooLarge
	case err != nil:
		return 0, RejectMalformed
	case n <= 0:
		return 0, RejectZeroQuantity
	case n > MaxQuantity:
		return 0, RejectTooLarge
	}
	return n, 0
}

func reject(reason RejectReason, label string, valid []string) error {
	return domain.Wrap(domain.KindValidation, "grammar.sizes",
		&RejectError{Reason: reason, Label: label, Valid: append([]string(nil), valid...)})
}
