package grammar

import (
	"strings"

	"orderbot/internal/domain"
	"orderbot/internal/taxid"
	"orderbot/internal/textutil"
)

// TemplateMarker must appear in a filled registration template.
const TemplateMarker = "#CADASTRO"

// RegistrationTemplate holds the fields read from a filled template. TaxID is
// digits only.
type RegistrationTemplate struct {
	TaxID      string
	Name       string
	TradeName  string
	Address    string
	PostalCode string
	City       string
}

type templateField int

const (
	fieldTaxID templateField = iota
	fieldName
	fieldTradeName
	fieldAddress
	fieldPostalCode
	fieldCity
)

// templateLabels maps folded labels to fields.
var templateLabels = map[string]templateField{
	"cpf/cnpj":      fieldTaxID,
	"cnpj/cpf":      fieldTaxID,
	"cpf":           fieldTaxID,
	"cnpj":          fieldTaxID,
	"nome":          fieldName,
	"razao social":  fieldName,
	"nome fantasia": fieldTradeName,
	"fantasia":      fieldTradeName,
	"endereco":      fieldAddress,
	"cep":           fieldPostalCode,
	"cidade":        fieldCity,
}

// BlankTemplate is the text sent to the contact to copy, fill and send back.
func BlankTemplate() string {
	return TemplateMarker + "\n" +
		"CPF/CNPJ: \n" +
		"Nome: \n" +
		"Nome fantasia: \n" +
		"Endereço: \n" +
		"CEP: \n" +
		"Cidade: "
}

// ParseRegistrationTemplate reads a filled template. Tax id and name are
// mandatory; the first occurrence of each label wins.
func ParseRegistrationTemplate(text string) (RegistrationTemplate, error) {
	const op = "grammar.template"
	if !strings.Contains(strings.ToUpper(text), TemplateMarker) {
		return RegistrationTemplate{}, domain.Errorf(domain.KindValidation, op, "template marker %s not found", TemplateMarker)
	}

	values := make(map[templateField]string)
	for _, line := range strings.Split(text, "\n") {
		idx := strings.Index(line, ":")
		if idx <= 0 {
			continue
		}
		field, ok := templateLabels[textutil.Fold(line[:idx])]
		if !ok {
			continue
		}
		if _, dup := values[field]; dup {
			continue
		}
		values[field] = strings.TrimSpace(line[idx+1:])
	}

	if values[fieldTaxID] == "" {
		return RegistrationTemplate{}, domain.Errorf(domain.KindValidation, op, "CPF/CNPJ is required")
	}
	if values[fieldName] == "" {
		return RegistrationTemplate{}, domain.Errorf(domain.KindValidation, op, "name is required")
	}
	digits, err := taxid.Normalize(values[fieldTaxID])
	if err != nil {
		return RegistrationTemplate{}, domain.Wrap(domain.KindValidation, op, err)
	}

	return RegistrationTemplate{
		TaxID:      digits,
		Name:       values[fieldName],
		TradeName:  values[fieldTradeName],
		Address:    values[fieldAddress],
		PostalCode: textutil.Digits(values[fieldPostalCode]),
		City:       values[fieldCity],
	}, nil
}
