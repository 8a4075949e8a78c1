// Package format renders prices and dates for a request language.
package format

import (
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Money formats amount in major units with the currency's standard number of decimals. English
// puts the symbol first ("$1,234.50"); other languages put it last ("1 234,50 kr").
func Money(amount float64, code, lang string) string {
	tag := tagFor(lang)
	p := message.NewPrinter(tag)
	code = strings.ToUpper(strings.TrimSpace(code))
	unit, err := currency.ParseISO(code)
	if err != nil {
		num := p.Sprint(number.Decimal(amount, number.Scale(2)))
		if code == "" {
			return num
		}
		return num + " " + code
	}
	scale, _ := currency.Standard.Rounding(unit)
	num := p.Sprint(number.Decimal(amount, number.Scale(scale)))
	sym := p.Sprint(currency.Symbol(unit))
	base, _ := tag.Base()
	if base.String() == "en" {
		if utf8.RuneCountInString(sym) == 1 {
			if strings.HasPrefix(num, "-") {
				return "-" + sym + strings.TrimPrefix(num, "-")
			}
			return sym + num
		}
		return sym + " " + num
	}
	return num + " " + sym
}

// Number formats n with the language's grouping.
func Number(n int, lang string) string {
	return message.NewPrinter(tagFor(lang)).Sprint(number.Decimal(n))
}

// Date formats t in a locale-friendly short form.
func Date(t time.Time, lang string) string {
	if t.IsZero() {
		return ""
	}
	switch strings.ToLower(lang) {
	case "sv":
		return t.Format("2006-01-02")
	default:
		return t.Format("Jan 2, 2006")
	}
}

func tagFor(lang string) language.Tag {
	tag, err := language.Parse(strings.TrimSpace(lang))
	if err != nil {
		return language.English
	}
	return tag
}
