package checkout

import (
	"finitefield.org/storefront/internal/commerce"
	"finitefield.org/storefront/internal/widget"
)

// Event is an input to Reduce: a user action, an external message, or an effect result.
type Event interface {
	event()
}

// Started mounts the wizard.
type Started struct{}

// CheckoutLoaded carries a fresh checkout from the backend. After is the effect that produced it,
// nil for the initial load. Failed is set instead when the checkout came back alongside errors
// from that effect.
type CheckoutLoaded struct {
	Checkout commerce.Checkout
	After    Effect
	Failed   Effect
}

// CartLoaded carries a fresh cart.
type CartLoaded struct {
	Cart commerce.Cart
}

// AddressSubmitted is the delivery address form submit.
type AddressSubmitted struct {
	Address commerce.Address
}

// ShippingOptionSelected is a shopper picking a shipping option.
type ShippingOptionSelected struct {
	OptionID string
}

// DeliveryContinued is the delivery step's continue button.
type DeliveryContinued struct{}

// WidgetMessageReceived is a message posted by an embedded provider frame.
type WidgetMessageReceived struct {
	Message widget.Message
}

// CartChanged reports that the cart was modified outside the wizard.
type CartChanged struct{}

// SameAsDeliveryToggled is the billing address checkbox.
type SameAsDeliveryToggled struct {
	Checked bool
}

// BillingAddressSubmitted is the inline billing address form submit.
type BillingAddressSubmitted struct {
	Address commerce.Address
}

// PaymentOptionSelected is a shopper picking a payment option.
type PaymentOptionSelected struct {
	OptionID string
}

// PaymentWidgetLoaded reports that the payment provider widget rendered.
type PaymentWidgetLoaded struct{}

// StepEdited moves back to an earlier step.
type StepEdited struct {
	Step Step
}

// OrderPlacementRequested is the place order button.
type OrderPlacementRequested struct{}

// OrderPlaced carries the placeOrder result.
type OrderPlaced struct {
	Confirmation commerce.OrderConfirmation
}

// CartValidated carries validateCart messages.
type CartValidated struct {
	Messages []string
}

// MutationFailed carries the messages of a failed effect.
type MutationFailed struct {
	Effect   Effect
	Messages []string
}

func (Started) event()                 {}
func (CheckoutLoaded) event()          {}
func (CartLoaded) event()              {}
func (AddressSubmitted) event()        {}
func (ShippingOptionSelected) event()  {}
func (DeliveryContinued) event()       {}
func (WidgetMessageReceived) event()   {}
func (CartChanged) event()             {}
func (SameAsDeliveryToggled) event()   {}
func (BillingAddressSubmitted) event() {}
func (PaymentOptionSelected) event()   {}
func (PaymentWidgetLoaded) event()     {}
func (StepEdited) event()              {}
func (OrderPlacementRequested) event() {}
func (OrderPlaced) event()             {}
func (CartValidated) event()           {}
func (MutationFailed) event()          {}

// Effect is a side effect requested by Reduce and executed by a Machine.
type Effect interface {
	effect()
}

// CreateSession creates or resumes the backend checkout session.
type CreateSession struct{}

// SaveAddress stores addresses. Nil fields are left as they are.
type SaveAddress struct {
	Shipping *commerce.Address
	Billing  *commerce.Address
}

// SaveShippingOption stores the shipping option. Continue advances to payment on success.
type SaveShippingOption struct {
	OptionID    string
	WidgetValue string
	Continue    bool
}

// SavePaymentOption stores the payment option.
type SavePaymentOption struct {
	OptionID string
}

// RefetchCart reloads the cart.
type RefetchCart struct{}

// ValidateCart runs the backend cart validation.
type ValidateCart struct{}

// PlaceOrder confirms the order.
type PlaceOrder struct{}

func (CreateSession) effect()      {}
func (SaveAddress) effect()        {}
func (SaveShippingOption) effect() {}
func (SavePaymentOption) effect()  {}
func (RefetchCart) effect()        {}
func (ValidateCart) effect()       {}
func (PlaceOrder) effect()         {}
