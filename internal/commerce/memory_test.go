package commerce

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"finitefield.org/storefront/internal/platform/requestctx"
)

func TestMemoryShippingFeeFollowsSelection(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(WithShippingOptions(
		Option{ID: "home", Name: "Home delivery", Price: 100, IntegrationType: IntegrationInline},
		Option{ID: "widget", Name: "Carrier", Price: 80, IntegrationType: IntegrationDeliveryCheckout},
	))
	cart, err := m.CreateCart(ctx)
	require.NoError(t, err)
	_, err = m.AddToCart(ctx, cart.ID, "A-100", 2)
	require.NoError(t, err)

	checkout, err := m.CreateCheckoutSession(ctx, cart.ID)
	require.NoError(t, err)
	for _, opt := range checkout.ShippingOptions {
		require.False(t, opt.Selected)
	}

	checkout, err = m.UpdateCheckoutOptions(ctx, cart.ID, CheckoutOptionsInput{ShippingOptionID: "home"})
	require.NoError(t, err)
	require.True(t, checkout.ShippingOptions[0].Selected)

	got, err := m.GetCart(ctx, cart.ID)
	require.NoError(t, err)
	fees := got.RowsOfType(RowShippingFee)
	require.Len(t, fees, 1)
	require.Equal(t, 100.0, fees[0].TotalIncludingVat)
	require.Equal(t, 998.0+100.0, got.GrandTotal)

	_, err = m.UpdateCheckoutOptions(ctx, cart.ID, CheckoutOptionsInput{ShippingOptionID: "widget"})
	require.NoError(t, err)
	got, _ = m.GetCart(ctx, cart.ID)
	require.Empty(t, got.RowsOfType(RowShippingFee), "delivery checkout needs a widget value before pricing")

	_, err = m.UpdateCheckoutOptions(ctx, cart.ID, CheckoutOptionsInput{ShippingOptionID: "widget", ShippingWidgetValue: "locker-7"})
	require.NoError(t, err)
	got, _ = m.GetCart(ctx, cart.ID)
	fees = got.RowsOfType(RowShippingFee)
	require.Len(t, fees, 1)
	require.Equal(t, "Carrier (locker-7)", fees[0].Description)
}

func TestMemoryPlaceOrderRequiresDetails(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	cart, _ := m.CreateCart(ctx)

	_, err := m.PlaceOrder(ctx, cart.ID)
	var gqlErrs Errors
	require.ErrorAs(t, err, &gqlErrs)
	require.Len(t, gqlErrs, 3)

	_, _ = m.AddToCart(ctx, cart.ID, "A-101", 1)
	_, _ = m.UpdateCheckoutDetails(ctx, cart.ID, CheckoutDetailsInput{ShippingAddress: &Address{FirstName: "Ada", City: "Lund"}})
	_, _ = m.UpdateCheckoutOptions(ctx, cart.ID, CheckoutOptionsInput{PaymentOptionID: "invoice"})

	conf, err := m.PlaceOrder(ctx, cart.ID)
	require.NoError(t, err)
	require.NotEmpty(t, conf.OrderID)
	require.Equal(t, "/order/"+conf.OrderID, conf.ReceiptURL)

	emptied, _ := m.GetCart(ctx, cart.ID)
	require.Empty(t, emptied.Rows)
}

func TestMemorySearchFacets(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	lo, hi := 400.0, 900.0

	res, err := m.Search(ctx, SearchInput{
		Filters: []FilterInput{
			{Field: "color", Values: []string{"white"}},
			{Field: "price", Min: &lo, Max: &hi},
		},
		SortBy:        "price",
		SortDirection: "desc",
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.TotalCount)
	require.Equal(t, "Canvas sneakers", res.Products[0].Name)
	require.Equal(t, "Linen shirt", res.Products[1].Name)

	var color, price FacetGroup
	for _, g := range res.Facets {
		switch g.Field {
		case "color":
			color = g
		case "price":
			price = g
		}
	}
	require.Equal(t, FacetDistinct, color.Type)
	for _, v := range color.Values {
		require.Equal(t, v.Value == "white", v.Selected, v.Value)
	}
	require.Equal(t, 149.0, price.Min)
	require.Equal(t, 1499.0, price.Max)
	require.Equal(t, 400.0, price.SelectedMin)
	require.Equal(t, 900.0, price.SelectedMax)

	count, err := m.SearchCount(ctx, SearchInput{Query: "wool"})
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestMemoryLoginAndAddressBook(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(
		WithUser("ada@example.com", "secret", Customer{FirstName: "Ada"}),
		WithClock(func() time.Time { return now }),
	)
	ctx := context.Background()

	_, err := m.Login(ctx, "ada@example.com", "wrong")
	require.Error(t, err)
	require.False(t, IsUnauthorized(err))

	_, err = m.Me(ctx)
	require.True(t, IsUnauthorized(err))

	token, err := m.Login(ctx, "ADA@example.com", "secret")
	require.NoError(t, err)
	authed := requestctx.WithAuthToken(ctx, token)

	customer, err := m.AddAddress(authed, Address{FirstName: "Ada", City: "Lund"})
	require.NoError(t, err)
	require.Len(t, customer.Addresses, 1)
	id := customer.Addresses[0].ID

	customer, err = m.UpdateAddress(authed, id, Address{FirstName: "Ada", City: "Malmö"})
	require.NoError(t, err)
	require.Equal(t, "Malmö", customer.Addresses[0].City)

	customer, err = m.RemoveAddress(authed, id)
	require.NoError(t, err)
	require.Empty(t, customer.Addresses)

	_, err = m.RemoveAddress(authed, id)
	require.ErrorIs(t, err, ErrNotFound)
}
