package model

import (
	"errors"
	"strings"
)

// ErrUnsupportedTaxIDCountry is returned when no tax id type is known for a country.
var ErrUnsupportedTaxIDCountry = errors.New("tax id country not supported")

// TaxID is a customer tax identifier in Stripe's type/value form.
type TaxID struct {
	Type  string
	Value string
}

var euCountries = []string{
	"AT", "BE", "BG", "CY", "CZ", "DE", "DK", "EE", "ES", "FI", "FR", "GR", "HR", "HU",
	"IE", "IT", "LT", "LU", "LV", "MT", "NL", "PL", "PT", "RO", "SE", "SI", "SK",
}

var countryTaxIDTypes = map[string]string{
	"AU": "au_abn",
	"CA": "ca_bn",
	"CH": "ch_vat",
	"GB": "gb_vat",
	"IN": "in_gst",
	"NO": "no_vat",
	"US": "us_ein",
}

func init() {
	for _, c := range euCountries {
		countryTaxIDTypes[c] = "eu_vat"
	}
}

// ParseTaxID normalizes value and infers its type from the billing country.
func ParseTaxID(value, country string) (*TaxID, error) {
	taxType, ok := countryTaxIDTypes[strings.ToUpper(country)]
	if !ok {
		return nil, ErrUnsupportedTaxIDCountry
	}
	normalized := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '.', '-':
			return -1
		}
		return r
	}, strings.ToUpper(strings.TrimSpace(value)))
	if normalized == "" {
		return nil, errors.New("tax id is empty")
	}
	return &TaxID{Type: taxType, Value: normalized}, nil
}
