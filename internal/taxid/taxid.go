// Package taxid handles Brazilian CPF and CNPJ numbers. Only the digit count
// is checked; check digits are left to the invoicing system.
package taxid

import (
	"fmt"

	"orderbot/internal/domain"
	"orderbot/internal/textutil"
)

const (
	cpfLen  = 11
	cnpjLen = 14
)

// Normalize strips punctuation and validates the length. The returned value
// is digits only.
func Normalize(raw string) (string, error) {
	d := textutil.Digits(raw)
	if len(d) != cpfLen && len(d) != cnpjLen {
		return "", domain.Errorf(domain.KindValidation, "taxid.normalize",
			"tax id must have %d or %d digits, got %d", cpfLen, cnpjLen, len(d))
	}
	return d, nil
}

// PersonTypeOf classifies a digits-only tax id.
func PersonTypeOf(digits string) domain.PersonType {
	if len(digits) == cnpjLen {
		return domain.PersonOrganization
	}
	return domain.PersonIndividual
}

// Format renders 000.000.000-00 or 00.000.000/0000-00; other inputs are
// returned unchanged.
func Format(digits string) string {
	switch len(digits) {
	case cpfLen:
		return fmt.Sprintf("%s.%s.%s-%s", digits[0:3], digits[3:6], digits[6:9], digits[9:11])
	case cnpjLen:
		return fmt.Sprintf("%s.%s.%s/%s-%s", digits[0:2], digits[2:5], digits[5:8], digits[8:12], digits[12:14])
	default:
		return digits
	}
}
