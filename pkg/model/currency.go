package model

import "strings"

// Currency is an ISO-4217 code supported by the trade desk.
type Currency string

const (
	CurrencyRUB Currency = "RUB"
	CurrencyCNY Currency = "CNY"
	CurrencyUSD Currency = "USD"
)

// Currencies lists every supported currency in display order.
var Currencies = []Currency{CurrencyRUB, CurrencyCNY, CurrencyUSD}

// ParseCurrency normalizes s and reports whether it is supported.
func ParseCurrency(s string) (Currency, bool) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	return c, c.Valid()
}

// Valid reports whether c is one of the supported currencies.
func (c Currency) Valid() bool {
	switch c {
	case CurrencyRUB, CurrencyCNY, CurrencyUSD:
		return true
	default:
		return false
	}
}

func (c Currency) String() string { return string(c) }

// Unit is the unit of measure of a line item.
type Unit string

const (
	UnitPiece   Unit = "piece"
	UnitKg      Unit = "kg"
	UnitTon     Unit = "ton"
	UnitPackage Unit = "package"
	UnitM3      Unit = "m3"
	UnitOther   Unit = "other"
)

// Valid reports whether u is a known unit of measure.
func (u Unit) Valid() bool {
	switch u {
	case UnitPiece, UnitKg, UnitTon, UnitPackage, UnitM3, UnitOther:
		return true
	default:
		return false
	}
}
