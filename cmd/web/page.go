package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"finitefield.org/storefront/internal/commerce"
	mw "finitefield.org/storefront/internal/middleware"
	"finitefield.org/storefront/internal/nav"
	"finitefield.org/storefront/internal/platform/requestctx"
	"finitefield.org/storefront/internal/seo"
)

// PageData is the view model every page renders through the base layout.
type PageData struct {
	Title       string
	Lang        string
	Langs       []string
	Path        string
	CSRF        string
	SignedIn    bool
	CartCount   int
	Nav         []nav.RenderedItem
	Breadcrumbs []nav.Crumb
	SEO         seo.Meta

	// Per-page payload.
	Content any
}

func (s *server) pageData(r *http.Request, titleKey string, content any) PageData {
	lang := mw.Lang(r)
	title := s.bundle.T(lang, titleKey)
	brand := s.bundle.T(lang, "brand.name")
	vm := PageData{
		Title:       title,
		Lang:        lang,
		Langs:       s.bundle.Supported(),
		Path:        r.URL.Path,
		CSRF:        mw.CSRFToken(r),
		SignedIn:    requestctx.AuthToken(r.Context()) != "",
		CartCount:   s.cartCount(r),
		Nav:         nav.Build(r.URL.Path),
		Breadcrumbs: nav.Breadcrumbs(r.URL.Path),
		Content:     content,
	}
	vm.SEO.Title = title + " | " + brand
	vm.SEO.Canonical = s.absoluteURL(r)
	vm.SEO.OG = seo.OpenGraph{
		Title:    vm.SEO.Title,
		Type:     "website",
		URL:      vm.SEO.Canonical,
		SiteName: brand,
	}
	vm.SEO.Alternates = s.alternates(r)
	return vm
}

func (s *server) cartCount(r *http.Request) int {
	id := mw.GetSession(r).CartID
	if id == "" {
		return 0
	}
	cart, err := s.backend.GetCart(r.Context(), id)
	if err != nil {
		requestctx.Logger(r.Context()).Debug("cart badge: lookup failed", zap.Error(err))
		return 0
	}
	return cart.Quantity()
}

func (s *server) absoluteURL(r *http.Request) string {
	base := s.cfg.Server.BaseURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	u := *r.URL
	q := u.Query()
	q.Del(mw.LocaleCookie)
	u.RawQuery = q.Encode()
	return base + u.RequestURI()
}

func (s *server) alternates(r *http.Request) []seo.Alternate {
	out := make([]seo.Alternate, 0, len(s.bundle.Supported()))
	for _, lang := range s.bundle.Supported() {
		out = append(out, seo.Alternate{Lang: lang, Href: langURL(r.URL, lang)})
	}
	return out
}

// langURL is the current URL with the language switch parameter set.
func langURL(u *url.URL, lang string) string {
	q := u.Query()
	q.Set(mw.LocaleCookie, lang)
	return u.Path + "?" + q.Encode()
}

func (s *server) renderPage(w http.ResponseWriter, r *http.Request, name string, vm PageData) {
	s.renderPageStatus(w, r, http.StatusOK, name, vm)
}

func (s *server) renderPageStatus(w http.ResponseWriter, r *http.Request, status int, name string, vm PageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	var buf strings.Builder
	if err := s.renderer.Page(&buf, name, vm); err != nil {
		requestctx.Logger(r.Context()).Error("render page failed", zap.String("page", name), zap.Error(err))
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, buf.String())
}

func (s *server) renderFragment(w http.ResponseWriter, r *http.Request, name string, data any) {
	s.renderFragmentStatus(w, r, http.StatusOK, name, data)
}

func (s *server) renderFragmentStatus(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	var buf strings.Builder
	if err := s.renderer.Fragment(&buf, name, data); err != nil {
		requestctx.Logger(r.Context()).Error("render fragment failed", zap.String("fragment", name), zap.Error(err))
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, buf.String())
}

// ErrorView is rendered by the error page.
type ErrorView struct {
	Status  int
	Message string
}

func (s *server) renderError(w http.ResponseWriter, r *http.Request, status int, msgKey string) {
	lang := mw.Lang(r)
	view := ErrorView{Status: status, Message: s.bundle.T(lang, msgKey)}
	if mw.IsHTMX(r.Context()) {
		s.renderFragmentStatus(w, r, status, "frag_error", map[string]any{"Lang": lang, "Error": view})
		return
	}
	vm := s.pageData(r, "error.title", view)
	vm.SEO.Robots = "noindex"
	s.renderPageStatus(w, r, status, "error", vm)
}

// handleBackendError maps a commerce failure to a response. Authorization failures send the
// shopper to login; a missing entity renders 404; everything else is a 502.
func (s *server) handleBackendError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case commerce.IsUnauthorized(err):
		s.auth.Unauthorized(w, r)
	case errors.Is(err, commerce.ErrNotFound):
		s.renderError(w, r, http.StatusNotFound, "error.not_found")
	default:
		requestctx.Logger(r.Context()).Error("backend call failed", zap.Error(err))
		s.renderError(w, r, http.StatusBadGateway, "error.backend")
	}
}

func setTrigger(w http.ResponseWriter, events map[string]any) {
	if raw, err := json.Marshal(events); err == nil {
		w.Header().Set("HX-Trigger", string(raw))
	}
}
