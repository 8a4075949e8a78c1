package checkout

import "finitefield.org/storefront/internal/commerce"

const (
	msgBillingRequired = "checkout.errors.billing_required"
)

// Reduce applies ev to s and returns the next state plus the effects to run. It performs no I/O.
func Reduce(s State, ev Event) (State, []Effect) {
	switch e := ev.(type) {
	case Started:
		next := NewState()
		next.Started = true
		return next, []Effect{CreateSession{}, RefetchCart{}, ValidateCart{}}

	case CheckoutLoaded:
		return checkoutLoaded(s, e)

	case CartLoaded:
		s.Cart = e.Cart
		return s, nil

	case AddressSubmitted:
		s.AddressDraft = e.Address
		if errs := ValidateAddress(e.Address); len(errs) > 0 {
			s.AddressErrors = errs
			return s, nil
		}
		s.AddressErrors = nil
		s.Errors = nil
		shipping := e.Address
		save := SaveAddress{Shipping: &shipping}
		if s.SameAsDelivery {
			billing := e.Address
			save.Billing = &billing
		}
		return s, []Effect{save}

	case ShippingOptionSelected:
		if e.OptionID == "" || s.Completed() {
			return s, nil
		}
		if current, ok := GetSelectedOption(s.Checkout.ShippingOptions); !ok || current.ID != e.OptionID {
			s.ShipmentWidgetValue = ""
		}
		s.Errors = nil
		return s, []Effect{SaveShippingOption{OptionID: e.OptionID}, RefetchCart{}}

	case DeliveryContinued:
		if !CanContinueDelivery(s) || s.Completed() {
			return s, nil
		}
		s.Errors = nil
		opt, _ := GetSelectedOption(s.Checkout.ShippingOptions)
		if opt.IntegrationType.Effective() == commerce.IntegrationDeliveryCheckout || !opt.Selected {
			return s, []Effect{
				SaveShippingOption{OptionID: opt.ID, WidgetValue: s.ShipmentWidgetValue, Continue: true},
				RefetchCart{},
			}
		}
		s.Step = StepPayment
		return s, nil

	case WidgetMessageReceived:
		if e.Message.IsShippingOptionChanging() {
			s.ShipmentWidgetValue = e.Message.Value()
		}
		return s, nil

	case CartChanged:
		if s.Completed() {
			return s, nil
		}
		s.Errors = nil
		s.ValidationErrors = nil
		var effects []Effect
		if opt, ok := GetSelectedOption(s.Checkout.ShippingOptions); ok && opt.IntegrationType.Effective() == commerce.IntegrationDeliveryCheckout {
			s.ShipmentWidgetValue = ""
			effects = append(effects, SaveShippingOption{OptionID: opt.ID})
			if s.Step == StepPayment {
				s.Step = StepDeliveryOption
			}
		}
		return s, append(effects, RefetchCart{})

	case SameAsDeliveryToggled:
		s.SameAsDelivery = e.Checked
		if !e.Checked {
			if s.BillingDraft.IsZero() && s.Checkout.BillingAddress != nil && !sameAddress(s.Checkout.BillingAddress, s.Checkout.ShippingAddress) {
				s.BillingDraft = *s.Checkout.BillingAddress
			}
			return s, nil
		}
		s.BillingErrors = nil
		if s.Checkout.ShippingAddress == nil {
			return s, nil
		}
		billing := *s.Checkout.ShippingAddress
		return s, []Effect{SaveAddress{Billing: &billing}}

	case BillingAddressSubmitted:
		s.BillingDraft = e.Address
		if errs := ValidateAddress(e.Address); len(errs) > 0 {
			s.BillingErrors = errs
			return s, nil
		}
		s.BillingErrors = nil
		s.SameAsDelivery = false
		billing := e.Address
		return s, []Effect{SaveAddress{Billing: &billing}}

	case PaymentOptionSelected:
		if e.OptionID == "" || s.Completed() {
			return s, nil
		}
		s.PaymentWidgetLoaded = false
		s.Errors = nil
		return s, []Effect{SavePaymentOption{OptionID: e.OptionID}, RefetchCart{}}

	case PaymentWidgetLoaded:
		s.PaymentWidgetLoaded = true
		return s, nil

	case StepEdited:
		if e.Step < s.Step && s.Layout.Visible(e.Step) && !s.Completed() {
			s.Step = e.Step
			s.Errors = nil
		}
		return s, nil

	case OrderPlacementRequested:
		if s.Step != StepPayment || s.Completed() {
			return s, nil
		}
		if !s.SameAsDelivery && s.Checkout.BillingAddress == nil {
			s.Errors = []string{msgBillingRequired}
			return s, nil
		}
		s.Errors = nil
		return s, []Effect{PlaceOrder{}}

	case OrderPlaced:
		conf := e.Confirmation
		s.Confirmation = &conf
		s.Errors = nil
		return s, nil

	case CartValidated:
		s.ValidationErrors = append([]string(nil), e.Messages...)
		return s, nil

	case MutationFailed:
		errs := make([]string, 0, len(s.Errors)+len(e.Messages))
		errs = append(errs, s.Errors...)
		s.Errors = append(errs, e.Messages...)
		return s, nil
	}
	return s, nil
}

func checkoutLoaded(s State, e CheckoutLoaded) (State, []Effect) {
	s.Checkout = e.Checkout
	if !s.LayoutReady {
		s.Layout = DeriveLayout(e.Checkout)
		s.Step = s.Layout.InitialStep
		s.LayoutReady = true
		if s.AddressDraft.IsZero() && e.Checkout.ShippingAddress != nil {
			s.AddressDraft = *e.Checkout.ShippingAddress
		}
	}
	s.Empty = len(e.Checkout.ShippingOptions) == 0 && len(e.Checkout.PaymentOptions) == 0

	switch after := e.After.(type) {
	case SaveAddress:
		if after.Shipping != nil && s.Step == StepDeliveryAddress {
			s.Step = StepDeliveryOption
		}
	case SaveShippingOption:
		if after.Continue && s.Step == StepDeliveryOption {
			s.Step = StepPayment
		}
	}

	// A rejected save leaves the selection as it was until the next pass.
	if s.Empty || e.Failed != nil {
		return s, nil
	}
	return s, autoSelect(s)
}

// autoSelect persists a default for at most one option list per pass; the resulting checkout
// triggers the next pass.
func autoSelect(s State) []Effect {
	payment := s.Checkout.PaymentOptions
	if len(payment) > 0 && !anySelected(payment) {
		if opt, ok := DefaultPaymentOption(payment); ok {
			return []Effect{SavePaymentOption{OptionID: opt.ID}, RefetchCart{}}
		}
	}
	shipping := s.Checkout.ShippingOptions
	if len(shipping) > 0 && !anySelected(shipping) {
		if opt, ok := DefaultShippingOption(s); ok {
			return []Effect{SaveShippingOption{OptionID: opt.ID}, RefetchCart{}}
		}
	}
	return nil
}

func sameAddress(a, b *commerce.Address) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
