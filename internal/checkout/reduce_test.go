package checkout

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"finitefield.org/storefront/internal/commerce"
	"finitefield.org/storefront/internal/widget"
)

func validAddress() commerce.Address {
	return commerce.Address{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Address1:  "Storgatan 1",
		ZipCode:   "223 50",
		City:      "Lund",
		Country:   "SE",
		Email:     "ada@example.com",
	}
}

func loaded(s State, c commerce.Checkout, after Effect) (State, []Effect) {
	return Reduce(s, CheckoutLoaded{Checkout: c, After: after})
}

func TestStartedRequestsSessionCartAndValidation(t *testing.T) {
	s, effects := Reduce(State{Step: StepPayment}, Started{})
	require.True(t, s.Started)
	require.True(t, s.SameAsDelivery)
	require.Equal(t, StepDeliveryAddress, s.Step)
	require.Equal(t, []Effect{CreateSession{}, RefetchCart{}, ValidateCart{}}, effects)
}

func TestEmptyCheckoutRendersNothing(t *testing.T) {
	s, effects := loaded(NewState(), commerce.Checkout{ID: "c-1"}, nil)
	require.True(t, s.Empty)
	require.Empty(t, effects)
}

func TestGetSelectedOption(t *testing.T) {
	_, ok := GetSelectedOption(nil)
	require.False(t, ok)

	opts := []commerce.Option{{ID: "a"}, {ID: "b"}}
	got, ok := GetSelectedOption(opts)
	require.True(t, ok)
	require.Equal(t, "a", got.ID)

	opts[1].Selected = true
	got, _ = GetSelectedOption(opts)
	require.Equal(t, "b", got.ID)
}

func TestDeriveLayout(t *testing.T) {
	iframe := commerce.Option{ID: "klarna", IntegrationType: commerce.IntegrationIframeCheckout}
	direct := commerce.Option{ID: "invoice", IntegrationType: commerce.IntegrationDirectPayment}
	paymentCheckout := commerce.Option{ID: "pc", IntegrationType: commerce.IntegrationPaymentCheckout}
	inline := commerce.Option{ID: "home", IntegrationType: commerce.IntegrationInline}
	unknown := commerce.Option{ID: "odd"}

	tests := []struct {
		name     string
		checkout commerce.Checkout
		want     Layout
	}{
		{
			name:     "externally hosted",
			checkout: commerce.Checkout{PaymentOptions: []commerce.Option{iframe}, ShippingOptions: []commerce.Option{paymentCheckout}},
			want:     Layout{InitialStep: StepPayment, ExternallyHosted: true},
		},
		{
			name:     "iframe with inline shipping",
			checkout: commerce.Checkout{PaymentOptions: []commerce.Option{iframe}, ShippingOptions: []commerce.Option{inline}},
			want:     Layout{InitialStep: StepDeliveryOption, ShowDeliveryOptions: true, ShowPaymentOptions: true},
		},
		{
			name:     "unknown integration treated as inline",
			checkout: commerce.Checkout{PaymentOptions: []commerce.Option{iframe}, ShippingOptions: []commerce.Option{unknown}},
			want:     Layout{InitialStep: StepDeliveryOption, ShowDeliveryOptions: true, ShowPaymentOptions: true},
		},
		{
			name:     "full flow",
			checkout: commerce.Checkout{PaymentOptions: []commerce.Option{direct}, ShippingOptions: []commerce.Option{inline}},
			want: Layout{
				InitialStep:         StepDeliveryAddress,
				ShowAddress:         true,
				ShowDeliveryOptions: true,
				ShowPaymentOptions:  true,
				ShowSummary:         true,
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, DeriveLayout(tc.checkout))
		})
	}
}

func TestLayoutDerivedOnce(t *testing.T) {
	first := commerce.Checkout{
		PaymentOptions:  []commerce.Option{{ID: "invoice", Selected: true, IntegrationType: commerce.IntegrationDirectPayment}},
		ShippingOptions: []commerce.Option{{ID: "home", Selected: true}},
	}
	s, _ := loaded(NewState(), first, nil)
	require.Equal(t, StepDeliveryAddress, s.Step)

	second := first
	second.PaymentOptions = []commerce.Option{{ID: "klarna", Selected: true, IntegrationType: commerce.IntegrationIframeCheckout}}
	s, _ = loaded(s, second, nil)
	require.True(t, s.Layout.ShowAddress)
	require.Equal(t, StepDeliveryAddress, s.Step)
}

func TestAutoSelectPaymentBeforeShipping(t *testing.T) {
	c := commerce.Checkout{
		PaymentOptions: []commerce.Option{
			{ID: "invoice", IntegrationType: commerce.IntegrationDirectPayment},
			{ID: "klarna", IntegrationType: commerce.IntegrationIframeCheckout},
		},
		ShippingOptions: []commerce.Option{
			{ID: "home", IntegrationType: commerce.IntegrationInline},
			{ID: "carrier", IntegrationType: commerce.IntegrationDeliveryCheckout},
		},
	}
	s, effects := loaded(NewState(), c, nil)
	require.Equal(t, StepDeliveryOption, s.Step)
	require.Equal(t, []Effect{SavePaymentOption{OptionID: "klarna"}, RefetchCart{}}, effects)

	c.PaymentOptions[1].Selected = true
	_, effects = loaded(s, c, SavePaymentOption{OptionID: "klarna"})
	require.Equal(t, []Effect{SaveShippingOption{OptionID: "carrier"}, RefetchCart{}}, effects)

	c.ShippingOptions[1].Selected = true
	_, effects = loaded(s, c, SaveShippingOption{OptionID: "carrier"})
	require.Empty(t, effects)
}

func TestAutoSelectSkipsRejectedSave(t *testing.T) {
	c := commerce.Checkout{
		PaymentOptions: []commerce.Option{{ID: "invoice", IntegrationType: commerce.IntegrationDirectPayment}},
	}
	s, effects := loaded(NewState(), c, nil)
	require.Equal(t, []Effect{SavePaymentOption{OptionID: "invoice"}, RefetchCart{}}, effects)

	s, effects = Reduce(s, CheckoutLoaded{Checkout: c, Failed: SavePaymentOption{OptionID: "invoice"}})
	require.Empty(t, effects)
	require.Equal(t, c, s.Checkout)

	_, effects = Reduce(s, CheckoutLoaded{Checkout: c, After: SaveAddress{}})
	require.Equal(t, []Effect{SavePaymentOption{OptionID: "invoice"}, RefetchCart{}}, effects, "next pass retries")
}

func TestAutoSelectShippingWaitsForDeliveryStep(t *testing.T) {
	c := commerce.Checkout{
		PaymentOptions:  []commerce.Option{{ID: "invoice", Selected: true, IntegrationType: commerce.IntegrationDirectPayment}},
		ShippingOptions: []commerce.Option{{ID: "home"}, {ID: "express"}},
	}
	s, effects := loaded(NewState(), c, nil)
	require.Equal(t, StepDeliveryAddress, s.Step)
	require.Empty(t, effects)

	addr := validAddress()
	c.ShippingAddress = &addr
	s, effects = loaded(s, c, SaveAddress{Shipping: &addr})
	require.Equal(t, StepDeliveryOption, s.Step)
	require.Equal(t, []Effect{SaveShippingOption{OptionID: "home"}, RefetchCart{}}, effects)
}

func TestAutoSelectPaymentCheckoutShipping(t *testing.T) {
	c := commerce.Checkout{
		PaymentOptions:  []commerce.Option{{ID: "klarna", Selected: true, IntegrationType: commerce.IntegrationIframeCheckout}},
		ShippingOptions: []commerce.Option{{ID: "home"}, {ID: "pc", IntegrationType: commerce.IntegrationPaymentCheckout}},
	}
	s, effects := loaded(NewState(), c, nil)
	require.True(t, s.Layout.ExternallyHosted)
	require.Equal(t, []Effect{SaveShippingOption{OptionID: "pc"}, RefetchCart{}}, effects)
}

func TestAddressSubmitted(t *testing.T) {
	s, _ := loaded(NewState(), commerce.Checkout{
		PaymentOptions:  []commerce.Option{{ID: "invoice", Selected: true}},
		ShippingOptions: []commerce.Option{{ID: "home", Selected: true}},
	}, nil)

	t.Run("invalid stays on step", func(t *testing.T) {
		bad := validAddress()
		bad.Email = "not-an-email"
		bad.City = ""
		next, effects := Reduce(s, AddressSubmitted{Address: bad})
		require.Empty(t, effects)
		require.Equal(t, StepDeliveryAddress, next.Step)
		require.Equal(t, msgInvalidEmail, next.AddressErrors["email"])
		require.Equal(t, msgRequired, next.AddressErrors["city"])
		require.Equal(t, bad, next.AddressDraft)
	})

	t.Run("valid saves shipping and billing", func(t *testing.T) {
		addr := validAddress()
		next, effects := Reduce(s, AddressSubmitted{Address: addr})
		require.Empty(t, next.AddressErrors)
		require.Len(t, effects, 1)
		save, ok := effects[0].(SaveAddress)
		require.True(t, ok)
		require.Equal(t, addr, *save.Shipping)
		require.Equal(t, addr, *save.Billing)

		next, _ = loaded(next, commerce.Checkout{ShippingAddress: &addr, PaymentOptions: s.Checkout.PaymentOptions, ShippingOptions: s.Checkout.ShippingOptions}, save)
		require.Equal(t, StepDeliveryOption, next.Step)
	})

	t.Run("billing untouched when not same as delivery", func(t *testing.T) {
		other := s
		other.SameAsDelivery = false
		_, effects := Reduce(other, AddressSubmitted{Address: validAddress()})
		require.Nil(t, effects[0].(SaveAddress).Billing)
	})
}

func deliveryCheckoutState(widgetValue string) State {
	s := NewState()
	s.LayoutReady = true
	s.Layout = DeriveLayout(commerce.Checkout{})
	s.Step = StepDeliveryOption
	s.ShipmentWidgetValue = widgetValue
	s.Checkout = commerce.Checkout{
		PaymentOptions:  []commerce.Option{{ID: "invoice", Selected: true, IntegrationType: commerce.IntegrationDirectPayment}},
		ShippingOptions: []commerce.Option{{ID: "carrier", Selected: true, IntegrationType: commerce.IntegrationDeliveryCheckout}},
	}
	return s
}

func TestDeliveryContinued(t *testing.T) {
	t.Run("blocked without widget value", func(t *testing.T) {
		s := deliveryCheckoutState("")
		require.False(t, CanContinueDelivery(s))
		next, effects := Reduce(s, DeliveryContinued{})
		require.Empty(t, effects)
		require.Equal(t, StepDeliveryOption, next.Step)
	})

	t.Run("delivery checkout saves widget value first", func(t *testing.T) {
		s := deliveryCheckoutState("locker-7")
		require.True(t, CanContinueDelivery(s))
		next, effects := Reduce(s, DeliveryContinued{})
		save := SaveShippingOption{OptionID: "carrier", WidgetValue: "locker-7", Continue: true}
		require.Equal(t, []Effect{save, RefetchCart{}}, effects)
		require.Equal(t, StepDeliveryOption, next.Step)

		next, _ = loaded(next, next.Checkout, save)
		require.Equal(t, StepPayment, next.Step)
	})

	t.Run("inline option advances directly", func(t *testing.T) {
		s := deliveryCheckoutState("")
		s.Checkout.ShippingOptions = []commerce.Option{{ID: "home", Selected: true}}
		next, effects := Reduce(s, DeliveryContinued{})
		require.Empty(t, effects)
		require.Equal(t, StepPayment, next.Step)
	})
}

func TestWidgetMessageSetsValue(t *testing.T) {
	msg, err := widget.ParseMessage([]byte(`{"type":"litium-connect-shipping","event":"optionChanging","data":{"value":"pickup-3"}}`))
	require.NoError(t, err)
	s, effects := Reduce(deliveryCheckoutState(""), WidgetMessageReceived{Message: msg})
	require.Empty(t, effects)
	require.Equal(t, "pickup-3", s.ShipmentWidgetValue)

	other, _ := widget.ParseMessage([]byte(`{"type":"other","event":"optionChanging","data":{"value":"x"}}`))
	s, _ = Reduce(s, WidgetMessageReceived{Message: other})
	require.Equal(t, "pickup-3", s.ShipmentWidgetValue)
}

func TestCartChanged(t *testing.T) {
	t.Run("delivery checkout returns to delivery step", func(t *testing.T) {
		s := deliveryCheckoutState("locker-7")
		s.Step = StepPayment
		s.Errors = []string{"boom"}
		s.ValidationErrors = []string{"out of stock"}

		next, effects := Reduce(s, CartChanged{})
		require.Equal(t, StepDeliveryOption, next.Step)
		require.Empty(t, next.ShipmentWidgetValue)
		require.Empty(t, next.Errors)
		require.Empty(t, next.ValidationErrors)
		require.Equal(t, []Effect{SaveShippingOption{OptionID: "carrier"}, RefetchCart{}}, effects)
	})

	t.Run("inline option only refetches", func(t *testing.T) {
		s := deliveryCheckoutState("")
		s.Checkout.ShippingOptions = []commerce.Option{{ID: "home", Selected: true}}
		s.Step = StepPayment
		next, effects := Reduce(s, CartChanged{})
		require.Equal(t, StepPayment, next.Step)
		require.Equal(t, []Effect{RefetchCart{}}, effects)
	})

	t.Run("ignored after order placed", func(t *testing.T) {
		s := deliveryCheckoutState("locker-7")
		s.Confirmation = &commerce.OrderConfirmation{OrderID: "o-1"}
		_, effects := Reduce(s, CartChanged{})
		require.Empty(t, effects)
	})
}

func TestSameAsDeliveryToggled(t *testing.T) {
	ship := validAddress()
	bill := validAddress()
	bill.City = "Malmö"
	s := deliveryCheckoutState("")
	s.Step = StepPayment
	s.Checkout.ShippingAddress = &ship
	s.Checkout.BillingAddress = &bill

	s, effects := Reduce(s, SameAsDeliveryToggled{Checked: false})
	require.False(t, s.SameAsDelivery)
	require.Empty(t, effects)
	require.Equal(t, bill, s.BillingDraft)

	s, effects = Reduce(s, SameAsDeliveryToggled{Checked: true})
	require.True(t, s.SameAsDelivery)
	require.Len(t, effects, 1)
	require.Equal(t, ship, *effects[0].(SaveAddress).Billing)
	require.Nil(t, effects[0].(SaveAddress).Shipping)
}

func TestOrderPlacement(t *testing.T) {
	s := deliveryCheckoutState("locker-7")

	_, effects := Reduce(s, OrderPlacementRequested{})
	require.Empty(t, effects, "only the payment step can place orders")

	s.Step = StepPayment
	s.SameAsDelivery = false
	next, effects := Reduce(s, OrderPlacementRequested{})
	require.Empty(t, effects)
	require.Equal(t, []string{msgBillingRequired}, next.Errors)

	s.SameAsDelivery = true
	_, effects = Reduce(s, OrderPlacementRequested{})
	require.Equal(t, []Effect{PlaceOrder{}}, effects)

	next, _ = Reduce(s, OrderPlaced{Confirmation: commerce.OrderConfirmation{OrderID: "o-1", ReceiptURL: "/order/o-1"}})
	require.True(t, next.Completed())
	require.Equal(t, "/order/o-1", next.Confirmation.ReceiptURL)
}

func TestStepEditedOnlyMovesBack(t *testing.T) {
	s := deliveryCheckoutState("")
	s.Step = StepPayment

	next, _ := Reduce(s, StepEdited{Step: StepDeliveryAddress})
	require.Equal(t, StepDeliveryAddress, next.Step)

	next, _ = Reduce(next, StepEdited{Step: StepPayment})
	require.Equal(t, StepDeliveryAddress, next.Step)

	s.Layout = Layout{InitialStep: StepDeliveryOption, ShowDeliveryOptions: true, ShowPaymentOptions: true}
	next, _ = Reduce(s, StepEdited{Step: StepDeliveryAddress})
	require.Equal(t, StepPayment, next.Step, "hidden steps cannot be edited")
}

func TestMutationFailedAppendsErrors(t *testing.T) {
	s := NewState()
	s.Errors = []string{"first"}
	s, _ = Reduce(s, MutationFailed{Effect: PlaceOrder{}, Messages: []string{"second", "third"}})
	require.Equal(t, []string{"first", "second", "third"}, s.Errors)
}

func TestValidationErrorPlacement(t *testing.T) {
	s := NewState()
	require.Equal(t, PlaceNowhere, ValidationErrorPlacement(s))

	s.ValidationErrors = []string{"Item sold out"}
	require.Equal(t, PlaceInTotalSummary, ValidationErrorPlacement(s))

	s.Checkout.PaymentHTMLSnippet = "<div id=widget></div>"
	require.Equal(t, PlaceNowhere, ValidationErrorPlacement(s))

	s, _ = Reduce(s, PaymentWidgetLoaded{})
	require.Equal(t, PlaceUnderPaymentWidget, ValidationErrorPlacement(s))
}

func TestSummarizeDelivery(t *testing.T) {
	s := NewState()
	s.Checkout.ShippingOptions = []commerce.Option{{ID: "home", Name: "Home delivery", Price: 100, Selected: true}}
	s.Cart = commerce.Cart{
		ShowPricesIncludingVat: true,
		Rows: []commerce.OrderRow{
			{RowType: commerce.RowProduct, TotalIncludingVat: 500},
			{RowType: commerce.RowShippingFee, Description: "Base fee", TotalIncludingVat: 100, TotalExcludingVat: 80},
			{RowType: commerce.RowShippingFee, Description: "Bulky surcharge", TotalIncludingVat: 200, TotalExcludingVat: 160},
		},
	}

	got, ok := SummarizeDelivery(s)
	require.True(t, ok)
	require.Equal(t, DeliverySummary{Name: "Home delivery", Price: 300}, got)

	s.Cart.ShowPricesIncludingVat = false
	got, _ = SummarizeDelivery(s)
	require.Equal(t, 240.0, got.Price)

	s.Checkout.ShippingOptions[0].IntegrationType = commerce.IntegrationDeliveryCheckout
	got, _ = SummarizeDelivery(s)
	require.Equal(t, "Base fee", got.Name)

	_, ok = SummarizeDelivery(NewState())
	require.False(t, ok)
}

func TestSummarizeTotal(t *testing.T) {
	cart := commerce.Cart{
		ShowPricesIncludingVat: true,
		GrandTotal:             675,
		Currency:               "SEK",
		Rows: []commerce.OrderRow{
			{RowType: commerce.RowProduct, TotalIncludingVat: 500},
			{RowType: commerce.RowShippingFee, TotalIncludingVat: 100},
			{RowType: commerce.RowFee, TotalIncludingVat: 25},
			{RowType: commerce.RowProduct, TotalIncludingVat: 50},
		},
	}
	got := SummarizeTotal(cart)
	require.Len(t, got.Products, 2)
	require.Equal(t, 550.0, got.Subtotal)
	require.Equal(t, 100.0, got.Delivery)
	require.Equal(t, 25.0, got.Fees)
	require.Equal(t, 675.0, got.GrandTotal)
}

func TestParseAndValidateAddressForm(t *testing.T) {
	values := url.Values{
		"billing.firstName": {" Ada "},
		"billing.lastName":  {"Lovelace"},
		"billing.address1":  {"Storgatan 1"},
		"billing.zipCode":   {"223 50"},
		"billing.city":      {"Lund"},
		"billing.country":   {"se"},
		"billing.email":     {"ada@example.com"},
	}
	addr := ParseAddressForm(values, "billing.")
	require.Equal(t, "Ada", addr.FirstName)
	require.Equal(t, "SE", addr.Country)
	require.Empty(t, ValidateAddress(addr))

	addr.ZipCode = "22#50"
	require.Equal(t, msgInvalidZip, ValidateAddress(addr)["zipCode"])

	addr = validAddress()
	addr.Email = "Ada <ada@example.com>"
	require.Equal(t, msgInvalidEmail, ValidateAddress(addr)["email"])
}

func TestParseStep(t *testing.T) {
	for _, step := range []Step{StepDeliveryAddress, StepDeliveryOption, StepPayment} {
		got, ok := ParseStep(step.String())
		require.True(t, ok)
		require.Equal(t, step, got)
	}
	_, ok := ParseStep("shipping")
	require.False(t, ok)
}
