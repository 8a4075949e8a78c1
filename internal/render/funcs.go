package render

import (
	"errors"
	"html/template"
	"strings"
	"time"

	"finitefield.org/storefront/internal/format"
	"finitefield.org/storefront/internal/i18n"
)

// Funcs returns the template helpers bound to bundle.
func Funcs(bundle *i18n.Bundle) template.FuncMap {
	return template.FuncMap{
		"t": func(lang, key string) string {
			return bundle.T(lang, key)
		},
		"tf": func(lang, key string, args ...any) string {
			return bundle.Tf(lang, key, args...)
		},
		"money": func(amount float64, currency, lang string) string {
			return format.Money(amount, currency, lang)
		},
		"date": func(t time.Time, lang string) string {
			return format.Date(t, lang)
		},
		"number": func(n int, lang string) string {
			return format.Number(n, lang)
		},
		"add": func(a, b int) int { return a + b },
		"dict": dict,
		"join": strings.Join,
		"now":  time.Now,
	}
}

func dict(kv ...any) (map[string]any, error) {
	if len(kv)%2 != 0 {
		return nil, errors.New("dict: odd number of arguments")
	}
	m := make(map[string]any, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			return nil, errors.New("dict: keys must be strings")
		}
		m[key] = kv[i+1]
	}
	return m, nil
}
