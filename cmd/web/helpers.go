package main

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"finitefield.org/storefront/internal/format"
)

func chiParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

func formatMoney(amount float64, currency, lang string) string {
	return format.Money(amount, currency, lang)
}

// formInt parses a positive form integer, returning fallback when absent or invalid.
func formInt(r *http.Request, name string, fallback int) int {
	raw := strings.TrimSpace(r.FormValue(name))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func formFloat(r *http.Request, name string) (float64, bool) {
	raw := strings.TrimSpace(r.FormValue(name))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
