package search

import (
	"strconv"
	"strings"

	"finitefield.org/storefront/internal/commerce"
)

// PriceField is the catalog's price range facet.
const PriceField = "price"

// DefaultRangeFields lists facet keys decoded as "min-max" ranges when no facet groups are known.
var DefaultRangeFields = []string{PriceField}

// EncodeRange formats a range facet value.
func EncodeRange(lo, hi float64) string {
	return formatBound(lo) + "-" + formatBound(hi)
}

func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ParseRange decodes "min-max". Either side may be empty for an open bound.
func ParseRange(raw string) (lo, hi *float64, ok bool) {
	left, right, found := strings.Cut(strings.TrimSpace(raw), "-")
	if !found {
		return nil, nil, false
	}
	parse := func(s string) (*float64, bool) {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, true
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, false
		}
		return &v, true
	}
	lo, okLo := parse(left)
	hi, okHi := parse(right)
	if !okLo || !okHi || (lo == nil && hi == nil) {
		return nil, nil, false
	}
	if lo != nil && hi != nil && *lo > *hi {
		lo, hi = hi, lo
	}
	return lo, hi, true
}

// RangeFields returns the fields of the range groups.
func RangeFields(groups []commerce.FacetGroup) []string {
	var out []string
	for _, g := range groups {
		if g.Type == commerce.FacetRange {
			out = append(out, g.Field)
		}
	}
	return out
}

// Input builds the backend search request from p. Facet keys listed in rangeFields are decoded as
// ranges; all other non-reserved keys are distinct filters.
func Input(p Params, pageSize int, rangeFields ...string) commerce.SearchInput {
	if len(rangeFields) == 0 {
		rangeFields = DefaultRangeFields
	}
	isRange := map[string]bool{}
	for _, f := range rangeFields {
		isRange[f] = true
	}
	in := commerce.SearchInput{
		Query:         p.Query(),
		SortBy:        p.SortBy(),
		SortDirection: p.SortDirection(),
		Page:          p.Page(),
		PageSize:      pageSize,
	}
	for _, key := range p.Keys() {
		if IsReserved(key) {
			continue
		}
		if isRange[key] {
			values := p.GetAll(key)
			lo, hi, ok := ParseRange(values[len(values)-1])
			if !ok {
				continue
			}
			in.Filters = append(in.Filters, commerce.FilterInput{Field: key, Min: lo, Max: hi})
			continue
		}
		var values []string
		for _, v := range p.GetAll(key) {
			if v != "" {
				values = append(values, v)
			}
		}
		if len(values) > 0 {
			in.Filters = append(in.Filters, commerce.FilterInput{Field: key, Values: values})
		}
	}
	return in
}

// ApplyParams returns a copy of groups with selections taken from p.
func ApplyParams(groups []commerce.FacetGroup, p Params) []commerce.FacetGroup {
	out := CloneGroups(groups)
	for i := range out {
		g := &out[i]
		switch g.Type {
		case commerce.FacetRange:
			g.SelectedMin, g.SelectedMax = g.Min, g.Max
			values := p.GetAll(g.Field)
			if len(values) == 0 {
				continue
			}
			lo, hi, ok := ParseRange(values[len(values)-1])
			if !ok {
				continue
			}
			if lo != nil {
				g.SelectedMin = clamp(*lo, g.Min, g.Max)
			}
			if hi != nil {
				g.SelectedMax = clamp(*hi, g.Min, g.Max)
			}
		default:
			for j := range g.Values {
				g.Values[j].Selected = p.HasValue(g.Field, g.Values[j].Value)
			}
		}
	}
	return out
}

// ParamsFor rebuilds the query for groups on top of base. Group fields and the page are replaced;
// everything else in base is kept in place.
func ParamsFor(base Params, groups []commerce.FacetGroup) Params {
	out := base.Clone()
	out.Delete(KeyPage)
	for _, g := range groups {
		out.Delete(g.Field)
	}
	for _, g := range groups {
		switch g.Type {
		case commerce.FacetRange:
			if RangeActive(g) {
				out.Append(g.Field, EncodeRange(g.SelectedMin, g.SelectedMax))
			}
		default:
			for _, v := range g.Values {
				if v.Selected {
					out.Append(g.Field, v.Value)
				}
			}
		}
	}
	return out
}

// RangeActive reports whether the range group narrows the result.
func RangeActive(g commerce.FacetGroup) bool {
	return g.SelectedMin > g.Min || g.SelectedMax < g.Max
}

// SelectedCount counts selected distinct values plus active ranges.
func SelectedCount(groups []commerce.FacetGroup) int {
	n := 0
	for _, g := range groups {
		if g.Type == commerce.FacetRange {
			if RangeActive(g) {
				n++
			}
			continue
		}
		for _, v := range g.Values {
			if v.Selected {
				n++
			}
		}
	}
	return n
}

// CloneGroups deep-copies groups.
func CloneGroups(groups []commerce.FacetGroup) []commerce.FacetGroup {
	out := make([]commerce.FacetGroup, len(groups))
	for i, g := range groups {
		g.Values = append([]commerce.FacetValue(nil), g.Values...)
		out[i] = g
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if lo < hi {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
	}
	return v
}
