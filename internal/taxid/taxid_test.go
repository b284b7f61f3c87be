package taxid

import (
	"testing"

	"orderbot/internal/domain"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "123.456.789-09", want: "12345678909"},
		{in: "12.345.678/0001-90", want: "12345678000190"},
		{in: "1234", wantErr: true},
		{in: "123456789012", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		got, err := Normalize(tc.in)
		if tc.wantErr {
			if !domain.IsKind(err, domain.KindValidation) {
				t.Errorf("Normalize(%q): expected validation error, got %v", tc.in, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("Normalize(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}

func TestPersonTypeOf(t *testing.T) {
	if PersonTypeOf("12345678909") != domain.PersonIndividual {
		t.Error("11 digits should be an individual")
	}
	if PersonTypeOf("12345678000190") != domain.PersonOrganization {
		t.Error("14 digits should be an organization")
	}
}

func TestFormat(t *testing.T) {
	if got := Format("12345678909"); got != "123.456.789-09" {
		t.Errorf("cpf: %q", got)
	}
	if got := Format("12345678000190"); got != "12.345.678/0001-90" {
		t.Errorf("cnpj: %q", got)
	}
	if got := Format("123"); got != "123" {
		t.Errorf("short: %q", got)
	}
}
