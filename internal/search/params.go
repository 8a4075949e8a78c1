// Package search holds the product listing's URL state and the faceted filter controller.
package search

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Reserved query keys. Every other key is a facet field.
const (
	KeyQuery         = "q"
	KeySortBy        = "sort_by"
	KeySortDirection = "sort_direction"
	KeyTabIndex      = "tab_index"
	KeyPage          = "page"
)

var reservedKeys = map[string]struct{}{
	KeyQuery:         {},
	KeySortBy:        {},
	KeySortDirection: {},
	KeyTabIndex:      {},
	KeyPage:          {},
}

// IsReserved reports whether key is a non-facet parameter.
func IsReserved(key string) bool {
	_, ok := reservedKeys[key]
	return ok
}

// Param is one key/value pair.
type Param struct {
	Key   string
	Value string
}

// Params is an ordered, multi-valued query string. The zero value is empty and ready to use.
type Params struct {
	pairs []Param
}

// Parse decodes a raw query string, with or without a leading "?". Malformed escapes are kept
// verbatim rather than rejected.
func Parse(raw string) Params {
	raw = strings.TrimPrefix(raw, "?")
	var p Params
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		p.pairs = append(p.pairs, Param{Key: unescape(key), Value: unescape(value)})
	}
	return p
}

func unescape(s string) string {
	if out, err := url.QueryUnescape(s); err == nil {
		return out
	}
	return s
}

// FromValues copies v. Keys are taken in sorted order; values keep their order.
func FromValues(v url.Values) Params {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var p Params
	for _, k := range keys {
		for _, value := range v[k] {
			p.pairs = append(p.pairs, Param{Key: k, Value: value})
		}
	}
	return p
}

// String encodes the pairs in order, without a leading "?".
func (p Params) String() string {
	var b strings.Builder
	for i, pair := range p.pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(pair.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(pair.Value))
	}
	return b.String()
}

// Values converts p to url.Values.
func (p Params) Values() url.Values {
	out := url.Values{}
	for _, pair := range p.pairs {
		out[pair.Key] = append(out[pair.Key], pair.Value)
	}
	return out
}

// Pairs returns a copy of the pairs.
func (p Params) Pairs() []Param {
	return append([]Param(nil), p.pairs...)
}

// Len is the number of pairs.
func (p Params) Len() int { return len(p.pairs) }

// Clone returns an independent copy.
func (p Params) Clone() Params {
	return Params{pairs: p.Pairs()}
}

// Get returns the first value for key.
func (p Params) Get(key string) string {
	for _, pair := range p.pairs {
		if pair.Key == key {
			return pair.Value
		}
	}
	return ""
}

// GetAll returns every value for key in order.
func (p Params) GetAll(key string) []string {
	var out []string
	for _, pair := range p.pairs {
		if pair.Key == key {
			out = append(out, pair.Value)
		}
	}
	return out
}

// Has reports whether key is present.
func (p Params) Has(key string) bool {
	for _, pair := range p.pairs {
		if pair.Key == key {
			return true
		}
	}
	return false
}

// HasValue reports whether key carries value.
func (p Params) HasValue(key, value string) bool {
	for _, pair := range p.pairs {
		if pair.Key == key && pair.Value == value {
			return true
		}
	}
	return false
}

// Keys returns the distinct keys in first-seen order.
func (p Params) Keys() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, pair := range p.pairs {
		if _, ok := seen[pair.Key]; ok {
			continue
		}
		seen[pair.Key] = struct{}{}
		out = append(out, pair.Key)
	}
	return out
}

// Append adds a pair at the end.
func (p *Params) Append(key, value string) {
	p.pairs = append(p.pairs, Param{Key: key, Value: value})
}

// Set replaces all values of key with value, at the position of the first existing one.
func (p *Params) Set(key, value string) {
	out := p.pairs[:0:0]
	placed := false
	for _, pair := range p.pairs {
		if pair.Key != key {
			out = append(out, pair)
			continue
		}
		if !placed {
			out = append(out, Param{Key: key, Value: value})
			placed = true
		}
	}
	if !placed {
		out = append(out, Param{Key: key, Value: value})
	}
	p.pairs = out
}

// Delete removes every value of key.
func (p *Params) Delete(key string) {
	p.filter(func(pair Param) bool { return pair.Key != key })
}

// DeleteValue removes one key/value pair wherever it occurs.
func (p *Params) DeleteValue(key, value string) {
	p.filter(func(pair Param) bool { return pair.Key != key || pair.Value != value })
}

func (p *Params) filter(keep func(Param) bool) {
	out := p.pairs[:0:0]
	for _, pair := range p.pairs {
		if keep(pair) {
			out = append(out, pair)
		}
	}
	p.pairs = out
}

// Query is the free-text search term.
func (p Params) Query() string { return strings.TrimSpace(p.Get(KeyQuery)) }

// SortBy is the sort field.
func (p Params) SortBy() string { return p.Get(KeySortBy) }

// SortDirection is "asc" or "desc"; anything else reads as "asc".
func (p Params) SortDirection() string {
	if strings.EqualFold(p.Get(KeySortDirection), "desc") {
		return "desc"
	}
	return "asc"
}

// TabIndex is the selected result tab, zero when absent.
func (p Params) TabIndex() int {
	n, err := strconv.Atoi(p.Get(KeyTabIndex))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Page is the 1-based result page.
func (p Params) Page() int {
	n, err := strconv.Atoi(p.Get(KeyPage))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// WithPage returns a copy with page set; page 1 removes the key.
func (p Params) WithPage(page int) Params {
	out := p.Clone()
	if page <= 1 {
		out.Delete(KeyPage)
		return out
	}
	out.Set(KeyPage, strconv.Itoa(page))
	return out
}
