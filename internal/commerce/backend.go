package commerce

import "context"

// Backend is the full set of operations the storefront issues. Client talks to a remote GraphQL
// endpoint; Memory serves the same contract in-process.
type Backend interface {
	CreateCheckoutSession(ctx context.Context, cartID string) (Checkout, error)
	UpdateCheckoutDetails(ctx context.Context, cartID string, in CheckoutDetailsInput) (Checkout, error)
	UpdateCheckoutOptions(ctx context.Context, cartID string, in CheckoutOptionsInput) (Checkout, error)
	PlaceOrder(ctx context.Context, cartID string) (OrderConfirmation, error)
	ValidateCart(ctx context.Context, cartID string) ([]string, error)

	CreateCart(ctx context.Context) (Cart, error)
	GetCart(ctx context.Context, cartID string) (Cart, error)
	AddToCart(ctx context.Context, cartID, articleNumber string, quantity int) (Cart, error)
	UpdateCartRow(ctx context.Context, cartID, rowID string, quantity int) (Cart, error)

	Search(ctx context.Context, in SearchInput) (SearchResult, error)
	SearchCount(ctx context.Context, in SearchInput) (int, error)
	Product(ctx context.Context, id string) (Product, error)

	Login(ctx context.Context, email, password string) (string, error)
	Me(ctx context.Context) (Customer, error)
	AddAddress(ctx context.Context, addr Address) (Customer, error)
	UpdateAddress(ctx context.Context, id string, addr Address) (Customer, error)
	RemoveAddress(ctx context.Context, id string) (Customer, error)
}

var (
	_ Backend = (*Client)(nil)
	_ Backend = (*Memory)(nil)
)
