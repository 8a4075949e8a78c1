package main

import (
	"errors"
	"html/template"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"finitefield.org/storefront/internal/cms"
	"finitefield.org/storefront/internal/commerce"
	mw "finitefield.org/storefront/internal/middleware"
	"finitefield.org/storefront/internal/platform/requestctx"
	"finitefield.org/storefront/internal/seo"
)

const (
	featuredCount     = 4
	homeArticleCount  = 3
	articleIndexCount = 20
)

// HomeView is the landing page.
type HomeView struct {
	Lang     string
	CSRF     string
	Featured []commerce.Product
	Articles []cms.Page
}

// HomeHandler renders featured products and the latest articles side by side.
func (s *server) HomeHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lang := mw.Lang(r)
	view := HomeView{Lang: lang, CSRF: mw.CSRFToken(r)}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := s.backend.Search(gctx, commerce.SearchInput{Page: 1, PageSize: featuredCount})
		if err != nil {
			return err
		}
		view.Featured = res.Products
		return nil
	})
	g.Go(func() error {
		pages, err := s.content.List(gctx, cms.KindArticle, lang, homeArticleCount)
		if err != nil {
			requestctx.Logger(ctx).Warn("home: articles unavailable", zap.Error(err))
			return nil
		}
		view.Articles = pages
		return nil
	})
	if err := g.Wait(); err != nil {
		s.handleBackendError(w, r, err)
		return
	}

	vm := s.pageData(r, "home.title", view)
	vm.SEO.Description = s.bundle.T(lang, "home.description")
	vm.SEO.OG.Description = vm.SEO.Description
	vm.SEO.JSONLD = append(vm.SEO.JSONLD, seo.Script(seo.WebSite(
		s.bundle.T(lang, "brand.name"), s.cfg.Server.BaseURL, s.cfg.Server.BaseURL+"/search?q=",
	)))
	s.renderPage(w, r, "home", vm)
}

// ProductView is the product detail page.
type ProductView struct {
	Lang        string
	CSRF        string
	Product     commerce.Product
	Description template.HTML
}

// ProductHandler renders one product.
func (s *server) ProductHandler(w http.ResponseWriter, r *http.Request) {
	product, err := s.backend.Product(r.Context(), chiParam(r, "id"))
	if err != nil {
		s.handleBackendError(w, r, err)
		return
	}
	lang := mw.Lang(r)
	desc, err := cms.Render(product.Description, "markdown")
	if err != nil {
		requestctx.Logger(r.Context()).Warn("product: description not rendered", zap.Error(err))
		desc = template.HTML(template.HTMLEscapeString(product.Description))
	}
	view := ProductView{Lang: lang, CSRF: mw.CSRFToken(r), Product: product, Description: desc}

	vm := s.pageData(r, "product.title", view)
	vm.Title = product.Name
	vm.SEO.Title = product.Name + " | " + s.bundle.T(lang, "brand.name")
	vm.SEO.Description = product.Description
	vm.SEO.OG.Title = vm.SEO.Title
	vm.SEO.OG.Description = product.Description
	vm.SEO.OG.Image = product.ImageURL
	vm.SEO.OG.Type = "product"
	vm.SEO.JSONLD = append(vm.SEO.JSONLD, seo.Script(seo.Product(
		product.Name, product.Description, vm.SEO.Canonical, product.ImageURL, product.ArticleNumber, product.Price, product.Currency,
	)))
	s.renderPage(w, r, "product", vm)
}

// ArticlesView lists articles.
type ArticlesView struct {
	Lang     string
	Articles []cms.Page
}

// ArticlesHandler renders the article index.
func (s *server) ArticlesHandler(w http.ResponseWriter, r *http.Request) {
	lang := mw.Lang(r)
	pages, err := s.content.List(r.Context(), cms.KindArticle, lang, articleIndexCount)
	if err != nil {
		requestctx.Logger(r.Context()).Error("articles: list failed", zap.Error(err))
		s.renderError(w, r, http.StatusBadGateway, "error.backend")
		return
	}
	s.renderPage(w, r, "articles", s.pageData(r, "articles.title", ArticlesView{Lang: lang, Articles: pages}))
}

// ContentView renders one article or content page.
type ContentView struct {
	Lang string
	Page cms.Page
}

// ArticleHandler renders an article.
func (s *server) ArticleHandler(w http.ResponseWriter, r *http.Request) {
	s.renderContent(w, r, cms.KindArticle, "article")
}

// ContentPageHandler renders a static content page such as terms.
func (s *server) ContentPageHandler(w http.ResponseWriter, r *http.Request) {
	s.renderContent(w, r, cms.KindPage, "page")
}

func (s *server) renderContent(w http.ResponseWriter, r *http.Request, kind, tmpl string) {
	lang := mw.Lang(r)
	page, err := s.content.Get(r.Context(), kind, chiParam(r, "slug"), lang)
	if errors.Is(err, cms.ErrNotFound) {
		s.renderError(w, r, http.StatusNotFound, "error.not_found")
		return
	}
	if err != nil {
		requestctx.Logger(r.Context()).Error("content: fetch failed", zap.String("kind", kind), zap.Error(err))
		s.renderError(w, r, http.StatusBadGateway, "error.backend")
		return
	}

	vm := s.pageData(r, tmpl+".title", ContentView{Lang: lang, Page: page})
	vm.Title = page.Title
	vm.SEO.Title = firstNonEmpty(page.SEO.Title, page.Title) + " | " + s.bundle.T(lang, "brand.name")
	vm.SEO.Description = firstNonEmpty(page.SEO.Description, page.Summary)
	vm.SEO.OG.Title = vm.SEO.Title
	vm.SEO.OG.Description = vm.SEO.Description
	vm.SEO.OG.Image = page.SEO.Image
	if kind == cms.KindArticle {
		vm.SEO.OG.Type = "article"
		published := ""
		if !page.PublishedAt.IsZero() {
			published = page.PublishedAt.Format(time.RFC3339)
		}
		vm.SEO.JSONLD = append(vm.SEO.JSONLD, seo.Script(seo.Article(page.Title, vm.SEO.Canonical, page.Author, published)))
	}
	s.renderPage(w, r, tmpl, vm)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
