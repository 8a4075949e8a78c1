package main

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"finitefield.org/storefront/internal/checkout"
	"finitefield.org/storefront/internal/commerce"
	mw "finitefield.org/storefront/internal/middleware"
	"finitefield.org/storefront/internal/platform/requestctx"
)

// CartView drives `/cart` and its fragments.
type CartView struct {
	Lang   string
	CSRF   string
	Rows   []commerce.OrderRow
	Total  checkout.TotalSummary
	Count  int
	Errors []string
}

func (s *server) buildCartView(r *http.Request, cart commerce.Cart, errs []string) CartView {
	total := checkout.SummarizeTotal(cart)
	return CartView{
		Lang:   mw.Lang(r),
		CSRF:   mw.CSRFToken(r),
		Rows:   total.Products,
		Total:  total,
		Count:  cart.Quantity(),
		Errors: errs,
	}
}

// sessionCart returns the session's cart, or an empty one when none exists yet.
func (s *server) sessionCart(r *http.Request) (commerce.Cart, error) {
	sess := mw.GetSession(r)
	if sess.CartID == "" {
		return commerce.Cart{}, nil
	}
	cart, err := s.backend.GetCart(r.Context(), sess.CartID)
	if errors.Is(err, commerce.ErrNotFound) {
		sess.CartID = ""
		sess.MarkDirty()
		return commerce.Cart{}, nil
	}
	return cart, err
}

// ensureCart returns the session's cart id, creating a cart on first use.
func (s *server) ensureCart(r *http.Request) (string, error) {
	sess := mw.GetSession(r)
	if sess.CartID != "" {
		if _, err := s.backend.GetCart(r.Context(), sess.CartID); err == nil {
			return sess.CartID, nil
		} else if !errors.Is(err, commerce.ErrNotFound) {
			return "", err
		}
	}
	cart, err := s.backend.CreateCart(r.Context())
	if err != nil {
		return "", err
	}
	sess.CartID = cart.ID
	sess.MarkDirty()
	return cart.ID, nil
}

// CartHandler renders the cart page.
func (s *server) CartHandler(w http.ResponseWriter, r *http.Request) {
	cart, err := s.sessionCart(r)
	if err != nil {
		s.handleBackendError(w, r, err)
		return
	}
	view := s.buildCartView(r, cart, nil)
	vm := s.pageData(r, "cart.title", view)
	vm.CartCount = view.Count
	vm.SEO.Robots = "noindex, nofollow"
	s.renderPage(w, r, "cart", vm)
}

// CartAddHandler adds an article to the cart and refreshes the badge.
func (s *server) CartAddHandler(w http.ResponseWriter, r *http.Request) {
	article := strings.TrimSpace(r.PostFormValue("articleNumber"))
	qty := formInt(r, "quantity", 1)
	if article == "" || qty <= 0 {
		http.Error(w, "invalid item", http.StatusBadRequest)
		return
	}
	cartID, err := s.ensureCart(r)
	if err != nil {
		s.handleBackendError(w, r, err)
		return
	}
	cart, err := s.backend.AddToCart(r.Context(), cartID, article, qty)
	if err != nil {
		s.handleBackendError(w, r, err)
		return
	}
	s.markCartChanged(r)
	if !mw.IsHTMX(r.Context()) {
		http.Redirect(w, r, "/cart", http.StatusSeeOther)
		return
	}
	setTrigger(w, map[string]any{"cart:changed": map[string]int{"count": cart.Quantity()}})
	s.renderFragment(w, r, "frag_cart_badge", map[string]any{"Lang": mw.Lang(r), "Count": cart.Quantity()})
}

// CartRowHandler changes a row quantity. From the checkout page it re-renders the wizard after
// the wizard has reacted to the change.
func (s *server) CartRowHandler(w http.ResponseWriter, r *http.Request) {
	sess := mw.GetSession(r)
	rowID := chiParam(r, "rowID")
	if sess.CartID == "" || rowID == "" {
		mw.Redirect(w, r, "/cart")
		return
	}
	qty := formInt(r, "quantity", -1)
	if qty < 0 {
		http.Error(w, "invalid quantity", http.StatusBadRequest)
		return
	}
	cart, err := s.backend.UpdateCartRow(r.Context(), sess.CartID, rowID, qty)
	var errs []string
	if err != nil {
		var gqlErrs commerce.Errors
		if commerce.IsUnauthorized(err) || (!errors.Is(err, commerce.ErrNotFound) && !errors.As(err, &gqlErrs)) {
			s.handleBackendError(w, r, err)
			return
		}
		requestctx.Logger(r.Context()).Info("cart: row update rejected", zap.Error(err))
		errs = translateAll(s.bundle, mw.Lang(r), commerce.Messages(err, "cart.errors.update"))
	}
	s.markCartChanged(r)

	if r.PostFormValue("view") == "checkout" {
		if m, ok := s.checkouts.Lookup(sess.ID); ok && mw.IsHTMX(r.Context()) {
			state, err := m.Flush(r.Context())
			s.respondCheckout(w, r, m, state, err)
			return
		}
	}
	if !mw.IsHTMX(r.Context()) {
		http.Redirect(w, r, "/cart", http.StatusSeeOther)
		return
	}
	view := s.buildCartView(r, cart, errs)
	setTrigger(w, map[string]any{"cart:changed": map[string]int{"count": view.Count}})
	s.renderFragment(w, r, "frag_cart", view)
}

// markCartChanged tells a running wizard that the cart moved under it.
func (s *server) markCartChanged(r *http.Request) {
	if m, ok := s.checkouts.Lookup(mw.GetSession(r).ID); ok {
		m.MarkCartChanged()
	}
}
