package checkout

import "finitefield.org/storefront/internal/commerce"

// GetSelectedOption returns the selected option, or the first one when none is marked. The bool is
// false only for an empty list.
func GetSelectedOption(options []commerce.Option) (commerce.Option, bool) {
	if len(options) == 0 {
		return commerce.Option{}, false
	}
	for _, opt := range options {
		if opt.Selected {
			return opt, true
		}
	}
	return options[0], true
}

// HasIntegration reports whether any option has integration type t.
func HasIntegration(options []commerce.Option, t commerce.IntegrationType) bool {
	for _, opt := range options {
		if opt.IntegrationType.Effective() == t {
			return true
		}
	}
	return false
}

func anySelected(options []commerce.Option) bool {
	for _, opt := range options {
		if opt.Selected {
			return true
		}
	}
	return false
}

func firstOfType(options []commerce.Option, t commerce.IntegrationType) (commerce.Option, bool) {
	for _, opt := range options {
		if opt.IntegrationType.Effective() == t {
			return opt, true
		}
	}
	return commerce.Option{}, false
}

// DefaultPaymentOption is the payment option auto-selected when none is selected: the iframe
// checkout option if one exists, else the first.
func DefaultPaymentOption(options []commerce.Option) (commerce.Option, bool) {
	if opt, ok := firstOfType(options, commerce.IntegrationIframeCheckout); ok {
		return opt, true
	}
	if len(options) == 0 {
		return commerce.Option{}, false
	}
	return options[0], true
}

// DefaultShippingOption is the shipping option auto-selected when none is selected. The payment
// checkout option wins when it coexists with iframe checkout payment; otherwise a choice is only
// made on the delivery option step, preferring delivery checkout, else the first option that is
// not a payment checkout.
func DefaultShippingOption(s State) (commerce.Option, bool) {
	shipping := s.Checkout.ShippingOptions
	if HasIntegration(s.Checkout.PaymentOptions, commerce.IntegrationIframeCheckout) {
		if opt, ok := firstOfType(shipping, commerce.IntegrationPaymentCheckout); ok {
			return opt, true
		}
	}
	if s.Step != StepDeliveryOption {
		return commerce.Option{}, false
	}
	if opt, ok := firstOfType(shipping, commerce.IntegrationDeliveryCheckout); ok {
		return opt, true
	}
	for _, opt := range shipping {
		if opt.IntegrationType.Effective() != commerce.IntegrationPaymentCheckout {
			return opt, true
		}
	}
	return commerce.Option{}, false
}
