package checkout

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"finitefield.org/storefront/internal/commerce"
	"finitefield.org/storefront/internal/widget"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	_ Service = (*commerce.Client)(nil)
	_ Service = (*commerce.Memory)(nil)
)

// countingService wraps the memory backend and lets tests inject failures.
type countingService struct {
	*commerce.Memory
	getCart     atomic.Int32
	placeOrder  func() (commerce.OrderConfirmation, error)
	unreachable bool
}

func (c *countingService) GetCart(ctx context.Context, cartID string) (commerce.Cart, error) {
	c.getCart.Add(1)
	if c.unreachable {
		return commerce.Cart{}, commerce.NewError("backend offline", "UNAVAILABLE")
	}
	return c.Memory.GetCart(ctx, cartID)
}

func (c *countingService) PlaceOrder(ctx context.Context, cartID string) (commerce.OrderConfirmation, error) {
	if c.placeOrder != nil {
		return c.placeOrder()
	}
	return c.Memory.PlaceOrder(ctx, cartID)
}

func newCart(t *testing.T, mem *commerce.Memory) string {
	t.Helper()
	ctx := context.Background()
	cart, err := mem.CreateCart(ctx)
	require.NoError(t, err)
	_, err = mem.AddToCart(ctx, cart.ID, "A-100", 1)
	require.NoError(t, err)
	return cart.ID
}

func TestMachineInlineFlow(t *testing.T) {
	ctx := context.Background()
	mem := commerce.NewMemory(commerce.WithShippingOptions(
		commerce.Option{ID: "home", Name: "Home delivery", Price: 100, IntegrationType: commerce.IntegrationInline},
	))
	m := NewMachine(mem, newCart(t, mem))

	s, err := m.Dispatch(ctx, Started{})
	require.NoError(t, err)
	require.False(t, s.Empty)
	require.Equal(t, StepDeliveryAddress, s.Step)
	require.True(t, s.Layout.ShowSummary)
	pay, ok := GetSelectedOption(s.Checkout.PaymentOptions)
	require.True(t, ok)
	require.True(t, pay.Selected, "payment option auto-selected on start")
	require.False(t, s.Checkout.ShippingOptions[0].Selected)
	require.Len(t, s.Cart.Rows, 1)

	s, err = m.Dispatch(ctx, AddressSubmitted{Address: validAddress()})
	require.NoError(t, err)
	require.Equal(t, StepDeliveryOption, s.Step)
	require.True(t, s.Checkout.ShippingOptions[0].Selected)
	require.Equal(t, "Lund", s.Checkout.BillingAddress.City)

	summary, ok := SummarizeDelivery(s)
	require.True(t, ok)
	require.Equal(t, DeliverySummary{Name: "Home delivery", Price: 100}, summary)

	s, err = m.Dispatch(ctx, DeliveryContinued{})
	require.NoError(t, err)
	require.Equal(t, StepPayment, s.Step)
	require.True(t, s.SameAsDelivery)

	s, err = m.Dispatch(ctx, OrderPlacementRequested{})
	require.NoError(t, err)
	require.True(t, s.Completed())
	require.Equal(t, "/order/"+s.Confirmation.OrderID, s.Confirmation.ReceiptURL)
}

func TestMachineDeliveryCheckoutWidget(t *testing.T) {
	ctx := context.Background()
	mem := commerce.NewMemory(
		commerce.WithShippingOptions(commerce.Option{ID: "carrier", Name: "Carrier", Price: 80, IntegrationType: commerce.IntegrationDeliveryCheckout}),
		commerce.WithShipmentSnippet(`<div id="carrier"></div><script src="https://widget.example/carrier.js"></script>`),
	)
	svc := &countingService{Memory: mem}
	cartID := newCart(t, mem)
	m := NewMachine(svc, cartID)

	_, err := m.Dispatch(ctx, Started{})
	require.NoError(t, err)
	s, err := m.Dispatch(ctx, AddressSubmitted{Address: validAddress()})
	require.NoError(t, err)
	require.Equal(t, StepDeliveryOption, s.Step)
	require.NotEmpty(t, s.Checkout.ShipmentHTMLSnippet)
	_, ok := SummarizeDelivery(s)
	require.True(t, ok)
	require.Empty(t, s.Cart.RowsOfType(commerce.RowShippingFee))

	_, err = m.Dispatch(ctx, DeliveryContinued{})
	require.ErrorIs(t, err, ErrContinueBlocked)

	var msg widget.Message
	msg.Type = widget.ShippingMessageType
	msg.Event = widget.EventOptionChanging
	msg.Data.Value = "locker-7"
	require.NoError(t, m.Enqueue(WidgetMessageReceived{Message: msg}))

	s, err = m.Dispatch(ctx, DeliveryContinued{})
	require.NoError(t, err)
	require.Equal(t, StepPayment, s.Step)
	summary, _ := SummarizeDelivery(s)
	require.Equal(t, DeliverySummary{Name: "Carrier (locker-7)", Price: 80}, summary)

	_, err = mem.AddToCart(ctx, cartID, "A-104", 2)
	require.NoError(t, err)
	m.MarkCartChanged()
	m.MarkCartChanged()

	before := svc.getCart.Load()
	s, err = m.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, int32(1), svc.getCart.Load()-before)
	require.Equal(t, StepDeliveryOption, s.Step)
	require.Empty(t, s.ShipmentWidgetValue)
	require.Equal(t, 3, s.Cart.Quantity())

	before = svc.getCart.Load()
	_, err = m.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, before, svc.getCart.Load(), "cart change handled once")
}

func TestMachineMutationFailureLandsInState(t *testing.T) {
	ctx := context.Background()
	mem := commerce.NewMemory()
	svc := &countingService{Memory: mem}
	svc.placeOrder = func() (commerce.OrderConfirmation, error) {
		return commerce.OrderConfirmation{}, commerce.NewError("Payment declined", "DECLINED")
	}
	m := NewMachine(svc, newCart(t, mem))

	_, err := m.Dispatch(ctx, Started{})
	require.NoError(t, err)
	_, err = m.Dispatch(ctx, AddressSubmitted{Address: validAddress()})
	require.NoError(t, err)
	_, err = m.Dispatch(ctx, DeliveryContinued{})
	require.NoError(t, err)

	s, err := m.Dispatch(ctx, OrderPlacementRequested{})
	require.NoError(t, err)
	require.False(t, s.Completed())
	require.Equal(t, []string{"Payment declined"}, s.Errors)
}

// rejectingService answers payment option saves with the unchanged checkout and an error.
type rejectingService struct {
	*commerce.Memory
	paymentSaves atomic.Int32
}

func (r *rejectingService) UpdateCheckoutOptions(ctx context.Context, cartID string, in commerce.CheckoutOptionsInput) (commerce.Checkout, error) {
	if in.PaymentOptionID == "" {
		return r.Memory.UpdateCheckoutOptions(ctx, cartID, in)
	}
	r.paymentSaves.Add(1)
	c, err := r.Memory.CreateCheckoutSession(ctx, cartID)
	if err != nil {
		return commerce.Checkout{}, err
	}
	return c, commerce.NewError("Payment option unavailable", "OPTION_UNAVAILABLE")
}

func TestMachineRejectedAutoSelectIsNotRetried(t *testing.T) {
	mem := commerce.NewMemory()
	svc := &rejectingService{Memory: mem}
	m := NewMachine(svc, newCart(t, mem))

	s, err := m.Dispatch(context.Background(), Started{})
	require.NoError(t, err)
	require.Equal(t, int32(1), svc.paymentSaves.Load())
	require.Equal(t, []string{"Payment option unavailable"}, s.Errors)
	for _, opt := range s.Checkout.PaymentOptions {
		require.False(t, opt.Selected)
	}
}

func TestMachineUnauthorizedIsReturned(t *testing.T) {
	mem := commerce.NewMemory()
	svc := &countingService{Memory: mem}
	svc.placeOrder = func() (commerce.OrderConfirmation, error) {
		return commerce.OrderConfirmation{}, commerce.NewError("Sign in required.", commerce.CodeNotAuthorized)
	}
	m := NewMachine(svc, newCart(t, mem))
	ctx := context.Background()
	_, _ = m.Dispatch(ctx, Started{})
	_, _ = m.Dispatch(ctx, AddressSubmitted{Address: validAddress()})
	_, _ = m.Dispatch(ctx, DeliveryContinued{})

	_, err := m.Dispatch(ctx, OrderPlacementRequested{})
	require.True(t, commerce.IsUnauthorized(err))
}

func TestMachineCartFailureIsReported(t *testing.T) {
	mem := commerce.NewMemory()
	svc := &countingService{Memory: mem, unreachable: true}
	m := NewMachine(svc, newCart(t, mem))

	s, err := m.Dispatch(context.Background(), Started{})
	require.NoError(t, err)
	require.Contains(t, s.Errors, "backend offline")
}

func TestMachineEffectLimit(t *testing.T) {
	mem := commerce.NewMemory()
	m := NewMachine(mem, newCart(t, mem), WithEffectLimit(2))

	_, err := m.Dispatch(context.Background(), Started{})
	require.ErrorIs(t, err, ErrNotConverged)
}

func TestMachineCanceledContext(t *testing.T) {
	mem := commerce.NewMemory()
	m := NewMachine(mem, newCart(t, mem))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Dispatch(ctx, Started{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestMachineQueue(t *testing.T) {
	mem := commerce.NewMemory()
	m := NewMachine(mem, newCart(t, mem), WithQueueSize(1))

	require.NoError(t, m.Enqueue(PaymentWidgetLoaded{}))
	require.ErrorIs(t, m.Enqueue(PaymentWidgetLoaded{}), ErrQueueFull)

	s, err := m.Flush(context.Background())
	require.NoError(t, err)
	require.True(t, s.PaymentWidgetLoaded)
}

func TestMachineConcurrentEnqueue(t *testing.T) {
	ctx := context.Background()
	mem := commerce.NewMemory(commerce.WithShippingOptions(
		commerce.Option{ID: "carrier", Name: "Carrier", Price: 80, IntegrationType: commerce.IntegrationDeliveryCheckout},
	))
	m := NewMachine(mem, newCart(t, mem), WithQueueSize(64))
	_, err := m.Dispatch(ctx, Started{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var msg widget.Message
			msg.Type = widget.ShippingMessageType
			msg.Event = widget.EventOptionChanging
			msg.Data.Value = "locker"
			_ = m.Enqueue(WidgetMessageReceived{Message: msg})
			m.MarkCartChanged()
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = m.Flush(ctx)
	}()
	wg.Wait()

	_, err = m.Flush(ctx)
	require.NoError(t, err)
}

func TestRegistry(t *testing.T) {
	mem := commerce.NewMemory()
	r := NewRegistry(mem, time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	first := r.Machine("sess-1", "cart-1")
	require.Same(t, first, r.Machine("sess-1", "cart-1"))

	got, ok := r.Lookup("sess-1")
	require.True(t, ok)
	require.Same(t, first, got)

	replaced := r.Machine("sess-1", "cart-2")
	require.NotSame(t, first, replaced)
	require.Equal(t, "cart-2", replaced.CartID())

	r.Machine("sess-2", "cart-3")
	require.Equal(t, 2, r.Len())

	now = now.Add(2 * time.Minute)
	_, ok = r.Lookup("sess-1")
	require.False(t, ok)
	r.Machine("sess-3", "cart-4")
	require.Equal(t, 1, r.Len())

	r.Remove("sess-3")
	require.Equal(t, 0, r.Len())
}
