package main

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"finitefield.org/storefront/internal/checkout"
	"finitefield.org/storefront/internal/commerce"
	"finitefield.org/storefront/internal/mail"
	mw "finitefield.org/storefront/internal/middleware"
	"finitefield.org/storefront/internal/platform/requestctx"
	"finitefield.org/storefront/internal/widget"
)

// checkoutMachine returns the session's wizard. Shoppers without a cart are sent back to it.
func (s *server) checkoutMachine(w http.ResponseWriter, r *http.Request) (*checkout.Machine, bool) {
	sess := mw.GetSession(r)
	if sess.CartID == "" {
		mw.Redirect(w, r, "/cart")
		return nil, false
	}
	return s.checkouts.Machine(sess.ID, sess.CartID), true
}

// CheckoutHandler renders the wizard, starting it on first visit.
func (s *server) CheckoutHandler(w http.ResponseWriter, r *http.Request) {
	m, ok := s.checkoutMachine(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var (
		state    checkout.State
		customer *commerce.Customer
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if m.State().Started {
			state, err = m.Flush(gctx)
		} else {
			state, err = m.Dispatch(gctx, checkout.Started{})
		}
		return err
	})
	if requestctx.AuthToken(ctx) != "" {
		g.Go(func() error {
			me, err := s.backend.Me(gctx)
			if err != nil {
				// Guests and expired sessions still check out; the address book is optional.
				requestctx.Logger(ctx).Debug("checkout: address book unavailable", zap.Error(err))
				return nil
			}
			customer = &me
			return nil
		})
	}
	err := g.Wait()

	var extra []string
	if err != nil {
		var handled bool
		extra, handled = s.checkoutFailure(w, r, err)
		if handled {
			return
		}
		state = m.State()
	}
	if state.Completed() {
		http.Redirect(w, r, receiptURL(state), http.StatusSeeOther)
		return
	}

	lang := mw.Lang(r)
	view := buildCheckoutView(ctx, s.bundle, checkoutViewInput{
		lang: lang, csrf: mw.CSRFToken(r), state: state, customer: customer, extra: extra,
	})
	vm := s.pageData(r, "checkout.title", view)
	vm.SEO.Robots = "noindex, nofollow"
	s.renderPage(w, r, "checkout", vm)
}

// checkoutFailure maps a dispatch error to a response. It returns extra messages for the wizard,
// or handled=true when a response was already written.
func (s *server) checkoutFailure(w http.ResponseWriter, r *http.Request, err error) ([]string, bool) {
	logger := requestctx.Logger(r.Context())
	switch {
	case errors.Is(err, checkout.ErrContinueBlocked):
		return []string{"checkout.errors.continue_blocked"}, false
	case errors.Is(err, checkout.ErrNotConverged):
		logger.Error("checkout: wizard did not settle", zap.Error(err))
		return []string{"checkout.errors.not_converged"}, false
	case commerce.IsUnauthorized(err):
		s.auth.Unauthorized(w, r)
		return nil, true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.Warn("checkout: request ended before the wizard settled", zap.Error(err))
		s.renderError(w, r, http.StatusGatewayTimeout, "error.timeout")
		return nil, true
	default:
		s.handleBackendError(w, r, err)
		return nil, true
	}
}

// dispatchCheckout runs ev through the session's wizard and re-renders it.
func (s *server) dispatchCheckout(w http.ResponseWriter, r *http.Request, ev checkout.Event) {
	m, ok := s.checkoutMachine(w, r)
	if !ok {
		return
	}
	var (
		state checkout.State
		err   error
	)
	if !m.State().Started {
		if state, err = m.Dispatch(r.Context(), checkout.Started{}); err == nil {
			state, err = m.Dispatch(r.Context(), ev)
		}
	} else {
		state, err = m.Dispatch(r.Context(), ev)
	}
	s.respondCheckout(w, r, m, state, err)
}

func (s *server) respondCheckout(w http.ResponseWriter, r *http.Request, m *checkout.Machine, state checkout.State, err error) {
	var extra []string
	if err != nil {
		var handled bool
		if extra, handled = s.checkoutFailure(w, r, err); handled {
			return
		}
		state = m.State()
	}
	if !mw.IsHTMX(r.Context()) {
		http.Redirect(w, r, "/checkout", http.StatusSeeOther)
		return
	}
	view := buildCheckoutView(r.Context(), s.bundle, checkoutViewInput{
		lang: mw.Lang(r), csrf: mw.CSRFToken(r), state: state, extra: extra,
	})
	setTrigger(w, map[string]any{"checkout:step": map[string]string{"step": view.Step}})
	s.renderFragment(w, r, "frag_checkout", view)
}

// CheckoutAddressFrag submits the delivery address.
func (s *server) CheckoutAddressFrag(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	addr := checkout.ParseAddressForm(r.PostForm, "")
	s.dispatchCheckout(w, r, checkout.AddressSubmitted{Address: addr})
}

// CheckoutShippingOptionFrag selects a delivery option.
func (s *server) CheckoutShippingOptionFrag(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PostFormValue("option"))
	s.dispatchCheckout(w, r, checkout.ShippingOptionSelected{OptionID: id})
}

// CheckoutContinueFrag leaves the delivery option step.
func (s *server) CheckoutContinueFrag(w http.ResponseWriter, r *http.Request) {
	s.dispatchCheckout(w, r, checkout.DeliveryContinued{})
}

// CheckoutWidgetMessageFrag receives a message the delivery widget posted to the page. Only the
// continue button is re-rendered so the widget frame survives.
func (s *server) CheckoutWidgetMessageFrag(w http.ResponseWriter, r *http.Request) {
	msg, err := widget.ParseMessage([]byte(r.PostFormValue("message")))
	if err != nil {
		http.Error(w, "invalid message", http.StatusBadRequest)
		return
	}
	sess := mw.GetSession(r)
	m, ok := s.checkouts.Lookup(sess.ID)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := m.Enqueue(checkout.WidgetMessageReceived{Message: msg}); err != nil {
		requestctx.Logger(r.Context()).Warn("checkout: widget message dropped", zap.Error(err))
		http.Error(w, "too many messages", http.StatusTooManyRequests)
		return
	}
	state, err := m.Flush(r.Context())
	if err != nil {
		if _, handled := s.checkoutFailure(w, r, err); handled {
			return
		}
		state = m.State()
	}
	view := buildCheckoutView(r.Context(), s.bundle, checkoutViewInput{
		lang: mw.Lang(r), csrf: mw.CSRFToken(r), state: state,
	})
	s.renderFragment(w, r, "frag_checkout_continue", view)
}

// CheckoutPaymentLoadedFrag records that the payment widget finished loading and returns the
// validation block shown under it.
func (s *server) CheckoutPaymentLoadedFrag(w http.ResponseWriter, r *http.Request) {
	sess := mw.GetSession(r)
	m, ok := s.checkouts.Lookup(sess.ID)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	state, err := m.Dispatch(r.Context(), checkout.PaymentWidgetLoaded{})
	if err != nil {
		if _, handled := s.checkoutFailure(w, r, err); handled {
			return
		}
		state = m.State()
	}
	lang := mw.Lang(r)
	view := CheckoutValidationView{Lang: lang}
	if checkout.ValidationErrorPlacement(state) == checkout.PlaceUnderPaymentWidget {
		view.Errors = translateAll(s.bundle, lang, state.ValidationErrors)
	}
	s.renderFragment(w, r, "frag_checkout_validation", view)
}

// CheckoutSameAsDeliveryFrag toggles billing-equals-delivery.
func (s *server) CheckoutSameAsDeliveryFrag(w http.ResponseWriter, r *http.Request) {
	checked := r.PostFormValue("sameAsDelivery")
	s.dispatchCheckout(w, r, checkout.SameAsDeliveryToggled{Checked: checked == "on" || checked == "true"})
}

// CheckoutBillingFrag submits a separate billing address.
func (s *server) CheckoutBillingFrag(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	addr := checkout.ParseAddressForm(r.PostForm, billingPrefix)
	s.dispatchCheckout(w, r, checkout.BillingAddressSubmitted{Address: addr})
}

// CheckoutPaymentOptionFrag selects a payment option.
func (s *server) CheckoutPaymentOptionFrag(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PostFormValue("option"))
	s.dispatchCheckout(w, r, checkout.PaymentOptionSelected{OptionID: id})
}

// CheckoutEditFrag returns to an earlier step.
func (s *server) CheckoutEditFrag(w http.ResponseWriter, r *http.Request) {
	step, ok := checkout.ParseStep(r.PostFormValue("step"))
	if !ok {
		http.Error(w, "unknown step", http.StatusBadRequest)
		return
	}
	s.dispatchCheckout(w, r, checkout.StepEdited{Step: step})
}

// CheckoutPlaceOrderHandler places the order. On success the cart is detached from the session, a
// notice is mailed and the shopper lands on the receipt.
func (s *server) CheckoutPlaceOrderHandler(w http.ResponseWriter, r *http.Request) {
	m, ok := s.checkoutMachine(w, r)
	if !ok {
		return
	}
	state, err := m.Dispatch(r.Context(), checkout.OrderPlacementRequested{})
	if err != nil || !state.Completed() {
		s.respondCheckout(w, r, m, state, err)
		return
	}

	sess := mw.GetSession(r)
	s.sendOrderNotice(r, state)
	sess.CartID = ""
	sess.MarkDirty()
	s.checkouts.Remove(sess.ID)
	requestctx.Logger(r.Context()).Info("checkout: order placed", zap.String("order_id", state.Confirmation.OrderID))
	mw.Redirect(w, r, receiptURL(state))
}

func receiptURL(state checkout.State) string {
	if u := state.Checkout.Flow(commerce.FlowReceiptURL); u != "" {
		return u
	}
	if state.Confirmation != nil {
		if u := mw.SafeRedirect(state.Confirmation.ReceiptURL); u != "/" {
			return u
		}
		return "/order/" + state.Confirmation.OrderID
	}
	return "/"
}

func (s *server) sendOrderNotice(r *http.Request, state checkout.State) {
	if state.Checkout.ShippingAddress == nil || state.Checkout.ShippingAddress.Email == "" {
		return
	}
	lang := mw.Lang(r)
	addr := state.Checkout.ShippingAddress
	total := checkout.SummarizeTotal(state.Cart)
	notice := mail.OrderNotice{
		To:         addr.Email,
		Subject:    s.bundle.Tf(lang, "mail.order.subject", state.Confirmation.OrderID),
		Greeting:   s.bundle.Tf(lang, "mail.order.greeting", addr.FirstName),
		OrderLabel: s.bundle.T(lang, "mail.order.label"),
		OrderID:    state.Confirmation.OrderID,
		TotalLabel: s.bundle.T(lang, "mail.order.total"),
		Total:      formatMoney(total.GrandTotal, total.Currency, lang),
		ReceiptURL: receiptURL(state),
	}
	if strings.HasPrefix(notice.ReceiptURL, "/") {
		notice.ReceiptURL = s.cfg.Server.BaseURL + notice.ReceiptURL
	}
	for _, row := range total.Products {
		notice.Lines = append(notice.Lines, mail.NoticeLine{
			Quantity:    row.Quantity,
			Description: row.Description,
			Amount:      formatMoney(row.Total(total.IncludingVat), total.Currency, lang),
		})
	}
	msg, err := notice.Message(s.mailFrom)
	if err != nil {
		requestctx.Logger(r.Context()).Warn("checkout: order notice not built", zap.Error(err))
		return
	}
	// The order exists whatever happens to the mail; failures are logged only.
	if err := s.mailer.Send(r.Context(), msg); err != nil {
		requestctx.Logger(r.Context()).Warn("checkout: order notice not sent", zap.Error(err))
	}
}

// OrderView is the receipt page.
type OrderView struct {
	OrderID string
}

// OrderHandler renders the receipt.
func (s *server) OrderHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chiParam(r, "id"))
	if id == "" {
		s.renderError(w, r, http.StatusNotFound, "error.not_found")
		return
	}
	vm := s.pageData(r, "order.title", OrderView{OrderID: id})
	vm.SEO.Robots = "noindex, nofollow"
	s.renderPage(w, r, "order", vm)
}
