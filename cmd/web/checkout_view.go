package main

import (
	"context"
	"html/template"

	"go.uber.org/zap"

	"finitefield.org/storefront/internal/checkout"
	"finitefield.org/storefront/internal/commerce"
	"finitefield.org/storefront/internal/i18n"
	"finitefield.org/storefront/internal/platform/requestctx"
	"finitefield.org/storefront/internal/widget"
)

// CheckoutView drives the `/checkout` page and every wizard fragment.
type CheckoutView struct {
	Lang             string
	CSRF             string
	Step             string
	Empty            bool
	ExternallyHosted bool
	Errors           []string
	TermsURL         string

	Address  CheckoutAddressSection
	Delivery CheckoutDeliverySection
	Payment  CheckoutPaymentSection
	Summary  CheckoutSummarySection
}

// CheckoutAddressSection is the delivery address step.
type CheckoutAddressSection struct {
	Visible bool
	Active  bool
	Done    bool
	Current commerce.Address
	Form    AddressFormView
	Saved   []commerce.CustomerAddress
}

// AddressFormView renders one address form. Errors hold translated messages by field.
type AddressFormView struct {
	Lang      string
	CSRF      string
	ID        string
	Action    string
	Target    string
	Prefix    string
	Values    commerce.Address
	Errors    map[string]string
	SubmitKey string
}

// CheckoutOptionView is one selectable shipping or payment option.
type CheckoutOptionView struct {
	ID          string
	Name        string
	Description string
	Price       float64
	Currency    string
	Selected    bool
	Integration string
}

// CheckoutDeliverySection is the delivery option step.
type CheckoutDeliverySection struct {
	Visible     bool
	Active      bool
	Done        bool
	Options     []CheckoutOptionView
	Widget      template.HTML
	HasWidget   bool
	CanContinue bool
	Chosen      checkout.DeliverySummary
	HasChosen   bool
	Currency    string
}

// CheckoutPaymentSection is the payment step with billing address handling.
type CheckoutPaymentSection struct {
	Visible           bool
	Active            bool
	Options           []CheckoutOptionView
	ShowOptions       bool
	Widget            template.HTML
	HasWidget         bool
	ShowBillingToggle bool
	SameAsDelivery    bool
	Billing           AddressFormView
	BillingSaved      *commerce.Address
	ValidationErrors  []string
	CanPlaceOrder     bool
}

// CheckoutSummarySection is the order total block.
type CheckoutSummarySection struct {
	Visible          bool
	Total            checkout.TotalSummary
	Delivery         checkout.DeliverySummary
	HasDelivery      bool
	ValidationErrors []string
}

// CheckoutValidationView is the fragment under the payment widget.
type CheckoutValidationView struct {
	Lang   string
	Errors []string
}

type checkoutViewInput struct {
	lang     string
	csrf     string
	state    checkout.State
	customer *commerce.Customer
	extra    []string
}

func buildCheckoutView(ctx context.Context, bundle *i18n.Bundle, in checkoutViewInput) CheckoutView {
	s := in.state
	lang := in.lang
	currency := s.Cart.Currency
	view := CheckoutView{
		Lang:             lang,
		CSRF:             in.csrf,
		Step:             s.Step.String(),
		Empty:            s.Empty,
		ExternallyHosted: s.Layout.ExternallyHosted,
		TermsURL:         s.Checkout.Flow(commerce.FlowTermsURL),
	}
	for _, msg := range append(append([]string(nil), s.Errors...), in.extra...) {
		view.Errors = append(view.Errors, bundle.T(lang, msg))
	}

	// Address.
	addr := &view.Address
	addr.Visible = s.Layout.Visible(checkout.StepDeliveryAddress)
	addr.Active = s.Step == checkout.StepDeliveryAddress
	addr.Done = s.Step > checkout.StepDeliveryAddress && s.Checkout.ShippingAddress != nil
	if s.Checkout.ShippingAddress != nil {
		addr.Current = *s.Checkout.ShippingAddress
	}
	values := s.AddressDraft
	if in.customer != nil {
		addr.Saved = in.customer.Addresses
		if values.IsZero() && len(in.customer.Addresses) > 0 {
			values = in.customer.Addresses[0].Address
		}
		if values.Email == "" && values.FirstName == "" {
			values.Email = in.customer.Email
		}
	}
	addr.Form = AddressFormView{
		Lang:      lang,
		CSRF:      in.csrf,
		ID:        "delivery-address",
		Action:    "/checkout/address",
		Target:    "#checkout",
		Values:    values,
		Errors:    translateFieldErrors(bundle, lang, s.AddressErrors),
		SubmitKey: "checkout.address.submit",
	}

	// Delivery.
	del := &view.Delivery
	del.Visible = s.Layout.Visible(checkout.StepDeliveryOption)
	del.Active = s.Step == checkout.StepDeliveryOption
	del.Done = s.Step > checkout.StepDeliveryOption
	del.Currency = currency
	del.Options = optionViews(s.Checkout.ShippingOptions, currency)
	del.CanContinue = checkout.CanContinueDelivery(s)
	del.Chosen, del.HasChosen = checkout.SummarizeDelivery(s)
	if del.Active {
		if opt, ok := checkout.GetSelectedOption(s.Checkout.ShippingOptions); ok &&
			opt.IntegrationType.Effective() == commerce.IntegrationDeliveryCheckout {
			del.Widget, del.HasWidget = snippetHTML(ctx, s.Checkout.ShipmentHTMLSnippet)
		}
	}

	// Payment.
	pay := &view.Payment
	pay.Visible = s.Layout.Visible(checkout.StepPayment)
	pay.Active = s.Step == checkout.StepPayment
	pay.Options = optionViews(s.Checkout.PaymentOptions, currency)
	pay.ShowOptions = !s.Layout.ExternallyHosted && len(pay.Options) > 0
	pay.ShowBillingToggle = s.Layout.ShowAddress
	pay.SameAsDelivery = s.SameAsDelivery
	pay.BillingSaved = s.Checkout.BillingAddress
	pay.Billing = AddressFormView{
		Lang:      lang,
		CSRF:      in.csrf,
		ID:        "billing-address",
		Action:    "/checkout/billing",
		Target:    "#checkout",
		Prefix:    billingPrefix,
		Values:    s.BillingDraft,
		Errors:    translateFieldErrors(bundle, lang, s.BillingErrors),
		SubmitKey: "checkout.billing.submit",
	}
	if pay.Active {
		pay.Widget, pay.HasWidget = snippetHTML(ctx, s.Checkout.PaymentHTMLSnippet)
		pay.CanPlaceOrder = !pay.HasWidget && len(s.Checkout.PaymentOptions) > 0
	}

	// Summary.
	sum := &view.Summary
	sum.Visible = s.Layout.ShowSummary
	sum.Total = checkout.SummarizeTotal(s.Cart)
	sum.Delivery, sum.HasDelivery = checkout.SummarizeDelivery(s)

	validation := translateAll(bundle, lang, s.ValidationErrors)
	switch checkout.ValidationErrorPlacement(s) {
	case checkout.PlaceUnderPaymentWidget:
		pay.ValidationErrors = validation
	case checkout.PlaceInTotalSummary:
		sum.ValidationErrors = validation
	}
	return view
}

const billingPrefix = "billing."

func optionViews(options []commerce.Option, currency string) []CheckoutOptionView {
	selected, _ := checkout.GetSelectedOption(options)
	out := make([]CheckoutOptionView, 0, len(options))
	for _, opt := range options {
		out = append(out, CheckoutOptionView{
			ID:          opt.ID,
			Name:        opt.Name,
			Description: opt.Description,
			Price:       opt.Price,
			Currency:    currency,
			Selected:    opt.ID == selected.ID,
			Integration: string(opt.IntegrationType.Effective()),
		})
	}
	return out
}

func snippetHTML(ctx context.Context, raw string) (template.HTML, bool) {
	snippet, err := widget.Parse(raw)
	if err != nil {
		requestctx.Logger(ctx).Warn("checkout: widget snippet unusable", zap.Error(err))
		return "", false
	}
	if snippet.Empty() {
		return "", false
	}
	return snippet.HTML(), true
}

func translateFieldErrors(bundle *i18n.Bundle, lang string, errs checkout.FieldErrors) map[string]string {
	if len(errs) == 0 {
		return nil
	}
	out := make(map[string]string, len(errs))
	for field, key := range errs {
		out[field] = bundle.T(lang, key)
	}
	return out
}

func translateAll(bundle *i18n.Bundle, lang string, msgs []string) []string {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, bundle.T(lang, msg))
	}
	return out
}
