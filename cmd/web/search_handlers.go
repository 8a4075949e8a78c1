package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"finitefield.org/storefront/internal/commerce"
	mw "finitefield.org/storefront/internal/middleware"
	"finitefield.org/storefront/internal/platform/requestctx"
	"finitefield.org/storefront/internal/search"
)

// SearchView drives `/search` and its fragments.
type SearchView struct {
	Lang          string
	CSRF          string
	Query         string
	State         string
	Products      []commerce.Product
	Total         int
	Groups        []FacetGroupView
	SelectedCount int
	Sort          string
	SortOptions   []SortOption
	MoreURL       string
	NextURL       string
	ClearURL      string
	Drawer        *FilterDrawerView
}

// FacetGroupView is one facet group as rendered.
type FacetGroupView struct {
	Field       string
	Name        string
	Range       bool
	Values      []commerce.FacetValue
	Min         float64
	Max         float64
	SelectedMin float64
	SelectedMax float64
	Active      bool
}

// SortOption is one entry of the sort select.
type SortOption struct {
	Value    string
	LabelKey string
	URL      string
	Selected bool
}

// FilterDrawerView is the mobile filter drawer: working selections and their hit count.
type FilterDrawerView struct {
	Lang          string
	CSRF          string
	State         string
	Groups        []FacetGroupView
	SelectedCount int
	Total         int
	Dirty         bool
	CountFailed   bool
}

var sortChoices = []SortOption{
	{Value: "", LabelKey: "search.sort.relevance"},
	{Value: "price:asc", LabelKey: "search.sort.price_asc"},
	{Value: "price:desc", LabelKey: "search.sort.price_desc"},
	{Value: "name:asc", LabelKey: "search.sort.name"},
}

func groupViews(groups []commerce.FacetGroup) []FacetGroupView {
	out := make([]FacetGroupView, 0, len(groups))
	for _, g := range groups {
		view := FacetGroupView{
			Field:       g.Field,
			Name:        g.Name,
			Range:       g.Type == commerce.FacetRange,
			Values:      g.Values,
			Min:         g.Min,
			Max:         g.Max,
			SelectedMin: g.SelectedMin,
			SelectedMax: g.SelectedMax,
		}
		if view.Range {
			view.Active = search.RangeActive(g)
		} else {
			for _, v := range g.Values {
				if v.Selected {
					view.Active = true
					break
				}
			}
		}
		out = append(out, view)
	}
	return out
}

func (s *server) runSearch(ctx context.Context, params search.Params) (commerce.SearchResult, error) {
	return s.backend.Search(ctx, search.Input(params, s.cfg.Search.PageSize))
}

func (s *server) buildSearchView(r *http.Request, params search.Params, res commerce.SearchResult) SearchView {
	groups := search.ApplyParams(res.Facets, params)
	view := SearchView{
		Lang:          mw.Lang(r),
		CSRF:          mw.CSRFToken(r),
		Query:         params.Query(),
		State:         params.String(),
		Products:      res.Products,
		Total:         res.TotalCount,
		Groups:        groupViews(groups),
		SelectedCount: search.SelectedCount(groups),
	}
	current := ""
	if params.SortBy() != "" {
		current = params.SortBy() + ":" + params.SortDirection()
	}
	view.Sort = current
	for _, opt := range sortChoices {
		opt.Selected = opt.Value == current
		opt.URL = searchURL(applySort(params, opt.Value))
		view.SortOptions = append(view.SortOptions, opt)
	}
	if shown := params.Page() * s.cfg.Search.PageSize; s.cfg.Search.PageSize > 0 && shown < res.TotalCount {
		next := params.WithPage(params.Page() + 1)
		view.MoreURL = "/search/more?" + next.String()
		view.NextURL = searchURL(next)
	}
	ctrl := search.NewController(params, res.Facets, nil)
	cleared, _ := ctrl.Clear()
	ctrl.Close()
	view.ClearURL = searchURL(cleared)
	return view
}

func searchURL(p search.Params) string {
	if p.Len() == 0 {
		return "/search"
	}
	return "/search?" + p.String()
}

// requestParams reads the search state from the URL. The locale switch parameter is not a filter.
func requestParams(r *http.Request) search.Params {
	params := search.Parse(r.URL.RawQuery)
	params.Delete(mw.LocaleCookie)
	return params
}

// SearchHandler renders the product listing for the URL's query, facets, sort and page.
func (s *server) SearchHandler(w http.ResponseWriter, r *http.Request) {
	params := requestParams(r)
	res, err := s.runSearch(r.Context(), params)
	if err != nil {
		s.handleBackendError(w, r, err)
		return
	}
	view := s.buildSearchView(r, params, res)
	if mw.IsHTMX(r.Context()) {
		w.Header().Set("HX-Push-Url", searchURL(params))
		s.renderFragment(w, r, "frag_search_results", view)
		return
	}
	vm := s.pageData(r, "search.title", view)
	if view.Query != "" {
		vm.Title = s.bundle.Tf(view.Lang, "search.title_query", view.Query)
		vm.SEO.Title = vm.Title + " | " + s.bundle.T(view.Lang, "brand.name")
	}
	if view.SelectedCount > 0 || params.Page() > 1 {
		vm.SEO.Robots = "noindex, follow"
	}
	s.renderPage(w, r, "search", vm)
}

// applySort folds a "field:direction" choice into sort_by and sort_direction, back on page one.
func applySort(p search.Params, value string) search.Params {
	out := p.Clone()
	out.Delete(search.KeySortBy)
	out.Delete(search.KeySortDirection)
	out.Delete(search.KeyPage)
	if value == "" {
		return out
	}
	field, dir, _ := strings.Cut(value, ":")
	out.Set(search.KeySortBy, field)
	if dir != "" {
		out.Set(search.KeySortDirection, dir)
	}
	return out
}

// SearchMoreFrag appends the next page of products.
func (s *server) SearchMoreFrag(w http.ResponseWriter, r *http.Request) {
	params := requestParams(r)
	res, err := s.runSearch(r.Context(), params)
	if err != nil {
		s.handleBackendError(w, r, err)
		return
	}
	view := s.buildSearchView(r, params, res)
	s.renderFragment(w, r, "frag_search_products", view)
}

// SearchFiltersFrag applies one filter action. Desktop commits at once and returns the results;
// mobile edits a per-session working copy and returns the drawer with the previewed hit count
// until the shopper commits. The "open" action only shows the drawer.
func (s *server) SearchFiltersFrag(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	committed := search.Parse(r.PostFormValue("state"))
	mode := search.ParseMode(r.PostFormValue("mode"))
	sess := mw.GetSession(r)

	ctrl, ok := s.filters.Get(sess.ID, committed)
	if !ok || ctrl.Mode() != mode {
		res, err := s.runSearch(ctx, committed)
		if err != nil {
			s.handleBackendError(w, r, err)
			return
		}
		ctrl = search.NewController(committed, res.Facets, s.backend,
			search.WithMode(mode),
			search.WithDebounce(s.cfg.Search.Debounce),
			search.WithTotal(res.TotalCount),
			search.WithLogger(requestctx.Logger(ctx)),
		)
		if mode == search.ModeMobile {
			s.filters.Put(sess.ID, ctrl)
		} else {
			defer ctrl.Close()
		}
	}

	field := r.PostFormValue("field")
	var (
		params    search.Params
		didCommit bool
	)
	switch r.PostFormValue("action") {
	case "toggle":
		params, didCommit = ctrl.Toggle(field, r.PostFormValue("value"))
	case "range":
		lo, okLo := formFloat(r, "min")
		hi, okHi := formFloat(r, "max")
		if !okLo || !okHi {
			http.Error(w, "invalid range", http.StatusBadRequest)
			return
		}
		params, didCommit = ctrl.SetRange(field, lo, hi)
	case "clear":
		params, didCommit = ctrl.Clear()
	case "commit":
		params, didCommit = ctrl.Commit(), true
	case "open":
		params = ctrl.Committed()
	default:
		http.Error(w, "unknown action", http.StatusBadRequest)
		return
	}

	if didCommit {
		res, err := s.runSearch(ctx, params)
		if err != nil {
			s.handleBackendError(w, r, err)
			return
		}
		w.Header().Set("HX-Push-Url", searchURL(params))
		setTrigger(w, map[string]any{"search:committed": map[string]string{"state": params.String()}})
		s.renderFragment(w, r, "frag_search_results", s.buildSearchView(r, params, res))
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	total, err := ctrl.Total(waitCtx)
	groups := ctrl.Groups()
	drawer := FilterDrawerView{
		Lang:          mw.Lang(r),
		CSRF:          mw.CSRFToken(r),
		State:         ctrl.Committed().String(),
		Groups:        groupViews(groups),
		SelectedCount: search.SelectedCount(groups),
		Total:         total,
		Dirty:         ctrl.Dirty(),
		CountFailed:   err != nil,
	}
	if err != nil {
		requestctx.Logger(ctx).Warn("search: filter preview count unavailable", zap.Error(err))
	}
	s.renderFragment(w, r, "frag_search_drawer", drawer)
}
