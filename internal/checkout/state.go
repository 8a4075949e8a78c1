// Package checkout implements the checkout wizard as a pure reducer over explicit events, plus a
// Machine that executes the reducer's effects against the commerce backend.
package checkout

import (
	"finitefield.org/storefront/internal/commerce"
)

// Step is a wizard step. Order matters: earlier steps have smaller values.
type Step int

const (
	StepDeliveryAddress Step = iota
	StepDeliveryOption
	StepPayment
)

// String returns the step's form/URL name.
func (s Step) String() string {
	switch s {
	case StepDeliveryAddress:
		return "address"
	case StepDeliveryOption:
		return "delivery"
	case StepPayment:
		return "payment"
	default:
		return "unknown"
	}
}

// ParseStep maps a form/URL name back to a Step.
func ParseStep(name string) (Step, bool) {
	for _, s := range []Step{StepDeliveryAddress, StepDeliveryOption, StepPayment} {
		if s.String() == name {
			return s, true
		}
	}
	return 0, false
}

// Layout lists which wizard sections render. It is derived once when the checkout is first
// loaded and kept for the rest of the wizard's life.
type Layout struct {
	InitialStep         Step
	ShowAddress         bool
	ShowDeliveryOptions bool
	ShowPaymentOptions  bool
	ShowSummary         bool
	// ExternallyHosted means the payment provider hosts the whole flow; only its widget renders.
	ExternallyHosted bool
}

// Visible reports whether step renders under this layout.
func (l Layout) Visible(step Step) bool {
	switch step {
	case StepDeliveryAddress:
		return l.ShowAddress
	case StepDeliveryOption:
		return l.ShowDeliveryOptions
	case StepPayment:
		return l.ShowPaymentOptions || l.ExternallyHosted
	default:
		return false
	}
}

// DeriveLayout picks the initial step and visible sections from the integration types on offer.
func DeriveLayout(c commerce.Checkout) Layout {
	iframePayment := HasIntegration(c.PaymentOptions, commerce.IntegrationIframeCheckout)
	switch {
	case iframePayment && HasIntegration(c.ShippingOptions, commerce.IntegrationPaymentCheckout):
		return Layout{InitialStep: StepPayment, ExternallyHosted: true}
	case iframePayment && HasIntegration(c.ShippingOptions, commerce.IntegrationInline):
		return Layout{
			InitialStep:         StepDeliveryOption,
			ShowDeliveryOptions: true,
			ShowPaymentOptions:  true,
		}
	default:
		return Layout{
			InitialStep:         StepDeliveryAddress,
			ShowAddress:         true,
			ShowDeliveryOptions: true,
			ShowPaymentOptions:  true,
			ShowSummary:         true,
		}
	}
}

// State is the complete wizard state. It is a value: Reduce returns a new one.
type State struct {
	Started     bool
	LayoutReady bool
	Layout      Layout
	Step        Step
	Empty       bool

	Checkout commerce.Checkout
	Cart     commerce.Cart

	// ShipmentWidgetValue is the delivery alternative last reported by the shipping widget.
	ShipmentWidgetValue string
	SameAsDelivery      bool
	PaymentWidgetLoaded bool

	AddressDraft  commerce.Address
	AddressErrors FieldErrors
	BillingDraft  commerce.Address
	BillingErrors FieldErrors

	// Errors holds place-order and mutation failures for inline display.
	Errors []string
	// ValidationErrors holds validateCart results.
	ValidationErrors []string

	Confirmation *commerce.OrderConfirmation
}

// NewState returns the state of a freshly mounted wizard.
func NewState() State {
	return State{SameAsDelivery: true}
}

// Completed reports whether an order was placed.
func (s State) Completed() bool {
	return s.Confirmation != nil
}

// CanContinueDelivery reports whether the delivery step's continue action is enabled. A delivery
// checkout option needs a widget value first.
func CanContinueDelivery(s State) bool {
	opt, ok := GetSelectedOption(s.Checkout.ShippingOptions)
	if !ok {
		return false
	}
	if opt.IntegrationType.Effective() == commerce.IntegrationDeliveryCheckout {
		return s.ShipmentWidgetValue != ""
	}
	return true
}

// ValidationPlacement says where cart validation errors render.
type ValidationPlacement int

const (
	PlaceNowhere ValidationPlacement = iota
	PlaceUnderPaymentWidget
	PlaceInTotalSummary
)

// ValidationErrorPlacement decides where s.ValidationErrors are shown: under the payment widget once
// it reports loaded, or in the total summary when no widget is present.
func ValidationErrorPlacement(s State) ValidationPlacement {
	if len(s.ValidationErrors) == 0 {
		return PlaceNowhere
	}
	if s.Checkout.PaymentHTMLSnippet == "" {
		return PlaceInTotalSummary
	}
	if s.PaymentWidgetLoaded {
		return PlaceUnderPaymentWidget
	}
	return PlaceNowhere
}
