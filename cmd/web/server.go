package main

import (
	"embed"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"finitefield.org/storefront/internal/checkout"
	"finitefield.org/storefront/internal/cms"
	"finitefield.org/storefront/internal/commerce"
	"finitefield.org/storefront/internal/i18n"
	"finitefield.org/storefront/internal/mail"
	mw "finitefield.org/storefront/internal/middleware"
	"finitefield.org/storefront/internal/platform/config"
	"finitefield.org/storefront/internal/platform/httpx"
	"finitefield.org/storefront/internal/platform/observability"
	"finitefield.org/storefront/internal/render"
	"finitefield.org/storefront/internal/search"
)

//go:embed public
var publicFS embed.FS

// server holds the storefront's long-lived dependencies.
type server struct {
	cfg       config.Config
	logger    *zap.Logger
	backend   commerce.Backend
	checkouts *checkout.Registry
	filters   *search.Registry
	content   *cms.Client
	mailer    mail.Sender
	mailFrom  string
	bundle    *i18n.Bundle
	renderer  *render.Renderer
	auth      *mw.Auth
	sessions  *mw.Sessions
	assets    fs.FS
}

// deps lets callers swap the backend and mailer; zero fields get defaults from cfg.
type deps struct {
	backend commerce.Backend
	mailer  mail.Sender
	logger  *zap.Logger
}

func newServer(cfg config.Config, d deps) (*server, error) {
	logger := d.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bundle, err := i18n.Default(cfg.Locale.Default, cfg.Locale.Supported)
	if err != nil {
		return nil, err
	}
	var renderOpts []render.Option
	if cfg.Server.DevMode {
		renderOpts = append(renderOpts, render.WithDir(cfg.Server.TemplatesDir))
	}
	renderer, err := render.New(render.Funcs(bundle), renderOpts...)
	if err != nil {
		return nil, err
	}

	backend := d.backend
	if backend == nil {
		backend = newBackend(cfg, logger)
	}
	mailer, from := d.mailer, cfg.Mail.From
	if mailer == nil {
		mailer, from = newMailer(cfg, logger)
	}

	sessions, err := mw.NewSessions(mw.SessionConfig{
		CookieName: cfg.Session.CookieName,
		HashKey:    []byte(cfg.Session.HashKey),
		BlockKey:   []byte(cfg.Session.BlockKey),
		Lifetime:   cfg.Session.Lifetime,
		Secure:     cfg.Session.Secure,
	})
	if err != nil {
		return nil, err
	}

	contentOpts := []cms.Option{cms.WithCacheTTL(cfg.Content.CacheTTL)}
	if cfg.Content.Dir != "" {
		if _, statErr := os.Stat(cfg.Content.Dir); statErr == nil {
			contentOpts = append(contentOpts, cms.WithContentFS(os.DirFS(cfg.Content.Dir)))
		}
	}

	assets, err := fs.Sub(publicFS, "public/assets")
	if err != nil {
		return nil, err
	}
	if cfg.Server.DevMode && cfg.Server.PublicDir != "" {
		dir := filepath.Join(cfg.Server.PublicDir, "assets")
		if _, statErr := os.Stat(dir); statErr == nil {
			assets = os.DirFS(dir)
		}
	}

	return &server{
		cfg:       cfg,
		logger:    logger,
		backend:   backend,
		checkouts: checkout.NewRegistry(backend, 30*time.Minute, checkout.WithEffectLimit(cfg.Checkout.EffectLimit)),
		filters:   search.NewRegistry(15 * time.Minute),
		content:   cms.NewClient(cfg.Content.BaseURL, contentOpts...),
		mailer:    mailer,
		mailFrom:  from,
		bundle:    bundle,
		renderer:  renderer,
		auth: mw.NewAuth(mw.AuthConfig{
			CookieName: cfg.Auth.CookieName,
			LoginPath:  cfg.Auth.LoginPath,
			Secure:     cfg.Session.Secure,
		}),
		sessions: sessions,
		assets:   assets,
	}, nil
}

func newBackend(cfg config.Config, logger *zap.Logger) commerce.Backend {
	if cfg.Commerce.Endpoint == "" {
		logger.Warn("commerce endpoint not configured; serving the in-memory catalog")
		return commerce.NewMemory()
	}
	return commerce.NewClient(cfg.Commerce.Endpoint,
		commerce.WithAPIKey(cfg.Commerce.APIKey),
		commerce.WithChannel(cfg.Commerce.Channel),
		commerce.WithTimeout(cfg.Commerce.Timeout),
		commerce.WithLogger(logger),
	)
}

func newMailer(cfg config.Config, logger *zap.Logger) (mail.Sender, string) {
	if !cfg.Mail.Enabled() {
		logger.Info("smtp not configured; order notices are recorded only")
		return &mail.Recorder{}, "orders@storefront.local"
	}
	sender := mail.NewSMTP(mail.Config{
		Host:     cfg.Mail.Host,
		Port:     cfg.Mail.Port,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.From,
	})
	return sender, sender.From()
}

func (s *server) close() {
	s.filters.Close()
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(observability.InjectLoggerMiddleware(s.logger))
	r.Use(observability.TraceMiddleware())
	r.Use(observability.RequestLoggerMiddleware())
	r.Use(observability.RecoveryMiddleware(s.logger))
	r.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/assets/*", mw.AssetsWithCache(s.assets, "/assets"))

	r.Group(func(r chi.Router) {
		r.Use(mw.HTMX)
		r.Use(s.sessions.Middleware)
		r.Use(mw.Locale(s.bundle))
		r.Use(mw.VaryLocale)
		r.Use(s.auth.Middleware)
		r.Use(mw.CSRF(s.cfg.Session.Secure))

		r.Get("/", s.HomeHandler)

		r.Get("/search", s.SearchHandler)
		r.Get("/search/more", s.SearchMoreFrag)
		r.Post("/search/filters", s.SearchFiltersFrag)
		r.Get("/product/{id}", s.ProductHandler)

		r.Get("/cart", s.CartHandler)
		r.Post("/cart/add", s.CartAddHandler)
		r.Post("/cart/rows/{rowID}", s.CartRowHandler)

		r.Route("/checkout", func(r chi.Router) {
			r.Get("/", s.CheckoutHandler)
			r.Post("/address", s.CheckoutAddressFrag)
			r.Post("/shipping-option", s.CheckoutShippingOptionFrag)
			r.Post("/continue", s.CheckoutContinueFrag)
			r.Post("/widget-message", s.CheckoutWidgetMessageFrag)
			r.Post("/payment-loaded", s.CheckoutPaymentLoadedFrag)
			r.Post("/same-as-delivery", s.CheckoutSameAsDeliveryFrag)
			r.Post("/billing", s.CheckoutBillingFrag)
			r.Post("/payment-option", s.CheckoutPaymentOptionFrag)
			r.Post("/edit", s.CheckoutEditFrag)
			r.Post("/place-order", s.CheckoutPlaceOrderHandler)
		})
		r.Get("/order/{id}", s.OrderHandler)

		r.Get("/articles", s.ArticlesHandler)
		r.Get("/article/{slug}", s.ArticleHandler)
		r.Get("/page/{slug}", s.ContentPageHandler)

		r.Get("/login", s.LoginHandler)
		r.Post("/login", s.LoginSubmitHandler)
		r.Post("/logout", s.LogoutHandler)

		r.Group(func(r chi.Router) {
			r.Use(s.auth.Require)
			r.Get("/my-pages", s.AccountHandler)
			r.Get("/my-pages/addresses", s.AddressesHandler)
			r.Post("/my-pages/addresses", s.AddressCreateHandler)
			r.Post("/my-pages/addresses/{id}", s.AddressUpdateHandler)
			r.Post("/my-pages/addresses/{id}/delete", s.AddressDeleteHandler)
		})

		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			s.renderError(w, r, http.StatusNotFound, "error.not_found")
		})
	})
	return r
}
