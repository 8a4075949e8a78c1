package checkout

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"finitefield.org/storefront/internal/commerce"
	"finitefield.org/storefront/internal/platform/requestctx"
)

const (
	defaultEffectLimit = 16
	defaultQueueSize   = 32

	msgUnexpected = "checkout.errors.unexpected"
)

var (
	// ErrContinueBlocked is returned when continue is dispatched before the delivery widget reported
	// a selection.
	ErrContinueBlocked = errors.New("checkout: delivery option needs a widget selection")
	// ErrNotConverged is returned when one dispatch ran more effects than the machine allows.
	ErrNotConverged = errors.New("checkout: effects did not settle")
	// ErrQueueFull is returned by Enqueue when the message queue is full.
	ErrQueueFull = errors.New("checkout: message queue full")
)

// Service is the subset of the commerce backend the wizard needs.
type Service interface {
	CreateCheckoutSession(ctx context.Context, cartID string) (commerce.Checkout, error)
	UpdateCheckoutDetails(ctx context.Context, cartID string, in commerce.CheckoutDetailsInput) (commerce.Checkout, error)
	UpdateCheckoutOptions(ctx context.Context, cartID string, in commerce.CheckoutOptionsInput) (commerce.Checkout, error)
	GetCart(ctx context.Context, cartID string) (commerce.Cart, error)
	ValidateCart(ctx context.Context, cartID string) ([]string, error)
	PlaceOrder(ctx context.Context, cartID string) (commerce.OrderConfirmation, error)
}

// Machine owns one wizard's state. Dispatch reduces an event, runs the resulting effects through
// the Service and feeds their results back until nothing is pending. External messages go through
// Enqueue and are reduced on the next dispatch.
type Machine struct {
	svc    Service
	cartID string
	limit  int

	mu    sync.Mutex
	state State

	inbox       chan Event
	cartChanged atomic.Bool
}

// MachineOption customises a Machine.
type MachineOption func(*Machine)

// WithEffectLimit bounds the number of effects one dispatch may run.
func WithEffectLimit(n int) MachineOption {
	return func(m *Machine) {
		if n > 0 {
			m.limit = n
		}
	}
}

// WithQueueSize sets the external message queue capacity.
func WithQueueSize(n int) MachineOption {
	return func(m *Machine) {
		if n > 0 {
			m.inbox = make(chan Event, n)
		}
	}
}

// NewMachine returns a machine for cartID in the freshly mounted state.
func NewMachine(svc Service, cartID string, opts ...MachineOption) *Machine {
	m := &Machine{
		svc:    svc,
		cartID: cartID,
		limit:  defaultEffectLimit,
		state:  NewState(),
		inbox:  make(chan Event, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CartID returns the cart the machine checks out.
func (m *Machine) CartID() string { return m.cartID }

// State returns a snapshot of the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Enqueue queues an external event without waiting for a running dispatch.
func (m *Machine) Enqueue(ev Event) error {
	select {
	case m.inbox <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// MarkCartChanged flags that the cart changed outside the wizard. However often it is called
// between dispatches, the change is reduced once.
func (m *Machine) MarkCartChanged() {
	m.cartChanged.Store(true)
}

// Flush reduces pending external events and cart changes.
func (m *Machine) Flush(ctx context.Context) (State, error) {
	return m.Dispatch(ctx, nil)
}

// Dispatch reduces pending external events, then ev (if non-nil), running effects until the
// machine is quiescent. Mutation failures land in State.Errors; only authorization failures,
// context errors and the sentinel errors of this package are returned.
func (m *Machine) Dispatch(ctx context.Context, ev Event) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var events []Event
	if m.cartChanged.Swap(false) {
		events = append(events, CartChanged{})
	}
	events = append(events, m.drain()...)
	if ev != nil {
		events = append(events, ev)
	}
	err := m.run(ctx, events)
	return m.state, err
}

func (m *Machine) run(ctx context.Context, events []Event) error {
	var (
		effects  []Effect
		executed int
		blocked  bool
	)
	for {
		if len(events) > 0 {
			ev := events[0]
			events = events[1:]
			if _, ok := ev.(DeliveryContinued); ok && !CanContinueDelivery(m.state) {
				blocked = true
				continue
			}
			next, out := Reduce(m.state, ev)
			m.state = next
			effects = scheduleEffects(effects, out)
			events = append(events, m.drain()...)
			continue
		}
		if len(effects) == 0 {
			break
		}
		if executed >= m.limit {
			requestctx.Logger(ctx).Warn("checkout: effect limit reached",
				zap.String("cart_id", m.cartID),
				zap.Int("limit", m.limit),
			)
			return ErrNotConverged
		}
		eff := effects[0]
		effects = effects[1:]
		executed++
		results, err := m.execute(ctx, eff)
		if err != nil {
			return err
		}
		events = append(events, results...)
	}
	if blocked {
		return ErrContinueBlocked
	}
	return nil
}

// scheduleEffects appends out to pending. Refetches and validations run once, after every save
// queued before them.
func scheduleEffects(pending, out []Effect) []Effect {
	for _, eff := range out {
		switch eff.(type) {
		case RefetchCart, ValidateCart:
			kept := pending[:0]
			for _, p := range pending {
				if p != eff {
					kept = append(kept, p)
				}
			}
			pending = kept
		}
		pending = append(pending, eff)
	}
	return pending
}

func (m *Machine) drain() []Event {
	var out []Event
	for {
		select {
		case ev := <-m.inbox:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func (m *Machine) execute(ctx context.Context, eff Effect) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch e := eff.(type) {
	case CreateSession:
		c, err := m.svc.CreateCheckoutSession(ctx, m.cartID)
		return m.checkoutResult(ctx, eff, c, err)
	case SaveAddress:
		c, err := m.svc.UpdateCheckoutDetails(ctx, m.cartID, commerce.CheckoutDetailsInput{
			ShippingAddress: e.Shipping,
			BillingAddress:  e.Billing,
		})
		return m.checkoutResult(ctx, eff, c, err)
	case SaveShippingOption:
		c, err := m.svc.UpdateCheckoutOptions(ctx, m.cartID, commerce.CheckoutOptionsInput{
			ShippingOptionID:    e.OptionID,
			ShippingWidgetValue: e.WidgetValue,
		})
		return m.checkoutResult(ctx, eff, c, err)
	case SavePaymentOption:
		c, err := m.svc.UpdateCheckoutOptions(ctx, m.cartID, commerce.CheckoutOptionsInput{
			PaymentOptionID: e.OptionID,
		})
		return m.checkoutResult(ctx, eff, c, err)
	case RefetchCart:
		cart, err := m.svc.GetCart(ctx, m.cartID)
		if err != nil {
			return m.failure(ctx, eff, err)
		}
		return []Event{CartLoaded{Cart: cart}}, nil
	case ValidateCart:
		messages, err := m.svc.ValidateCart(ctx, m.cartID)
		if err != nil {
			return m.failure(ctx, eff, err)
		}
		return []Event{CartValidated{Messages: messages}}, nil
	case PlaceOrder:
		conf, err := m.svc.PlaceOrder(ctx, m.cartID)
		if err != nil {
			return m.failure(ctx, eff, err)
		}
		return []Event{OrderPlaced{Confirmation: conf}}, nil
	}
	return nil, nil
}

// checkoutResult turns a checkout mutation result into events. A checkout returned alongside
// GraphQL errors still replaces the local copy but does not count as the effect succeeding.
func (m *Machine) checkoutResult(ctx context.Context, eff Effect, c commerce.Checkout, err error) ([]Event, error) {
	if err == nil {
		return []Event{CheckoutLoaded{Checkout: c, After: eff}}, nil
	}
	var partial []Event
	var gqlErrs commerce.Errors
	if errors.As(err, &gqlErrs) && c.ID != "" {
		partial = append(partial, CheckoutLoaded{Checkout: c, Failed: eff})
	}
	failed, fatal := m.failure(ctx, eff, err)
	if fatal != nil {
		return nil, fatal
	}
	return append(partial, failed...), nil
}

func (m *Machine) failure(ctx context.Context, eff Effect, err error) ([]Event, error) {
	if commerce.IsUnauthorized(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	requestctx.Logger(ctx).Warn("checkout: effect failed",
		zap.String("cart_id", m.cartID),
		zap.String("effect", effectName(eff)),
		zap.Error(err),
	)
	return []Event{MutationFailed{Effect: eff, Messages: commerce.Messages(err, msgUnexpected)}}, nil
}

func effectName(eff Effect) string {
	switch eff.(type) {
	case CreateSession:
		return "create_session"
	case SaveAddress:
		return "save_address"
	case SaveShippingOption:
		return "save_shipping_option"
	case SavePaymentOption:
		return "save_payment_option"
	case RefetchCart:
		return "refetch_cart"
	case ValidateCart:
		return "validate_cart"
	case PlaceOrder:
		return "place_order"
	default:
		return "unknown"
	}
}
