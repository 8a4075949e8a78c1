package commerce

import (
	"context"
	"errors"
	"strings"
)

const checkoutFields = `
fragment CheckoutFields on Checkout {
  id
  shippingAddress { ...AddressFields }
  billingAddress { ...AddressFields }
  shippingOptions { id name description price selected integrationType }
  paymentOptions { id name description price selected integrationType }
  paymentHtmlSnippet
  shipmentHtmlSnippet
  checkoutFlowInfo { key value }
}
fragment AddressFields on OrderAddress {
  firstName lastName address1 address2 zipCode city country email phoneNumber organizationName
}`

const cartFields = `
fragment CartFields on Cart {
  id
  rows { rowId articleNumber description quantity rowType totalIncludingVat totalExcludingVat }
  showPricesIncludingVat
  grandTotal
  totalVat
  discountInfos { description amount }
  currency
}`

const (
	queryCreateCheckoutSession = `mutation createCheckoutSession($cartId: ID!) {
  createCheckoutSession(cartId: $cartId) { ...CheckoutFields }
}` + checkoutFields

	queryUpdateCheckoutDetails = `mutation updateCheckoutDetails($cartId: ID!, $input: CheckoutDetailsInput!) {
  updateCheckoutDetails(cartId: $cartId, input: $input) { ...CheckoutFields }
}` + checkoutFields

	queryUpdateCheckoutOptions = `mutation updateCheckoutOptions($cartId: ID!, $input: CheckoutOptionsInput!) {
  updateCheckoutOptions(cartId: $cartId, input: $input) { ...CheckoutFields }
}` + checkoutFields

	queryPlaceOrder = `mutation placeOrder($cartId: ID!) {
  placeOrder(cartId: $cartId) { orderId receiptUrl }
}`

	queryValidateCart = `mutation validateCart($cartId: ID!) {
  validateCart(cartId: $cartId) { errors { message } }
}`

	queryCreateCart = `mutation createCart {
  createCart { ...CartFields }
}` + cartFields

	queryCart = `query cart($cartId: ID!) {
  cart(id: $cartId) { ...CartFields }
}` + cartFields

	queryAddToCart = `mutation addToCart($cartId: ID!, $articleNumber: String!, $quantity: Int!) {
  addToCart(cartId: $cartId, articleNumber: $articleNumber, quantity: $quantity) { ...CartFields }
}` + cartFields

	queryUpdateCartRow = `mutation updateCartRow($cartId: ID!, $rowId: ID!, $quantity: Int!) {
  updateCartRow(cartId: $cartId, rowId: $rowId, quantity: $quantity) { ...CartFields }
}` + cartFields

	querySearch = `query search($input: SearchInput!) {
  search(input: $input) {
    totalCount
    products { id articleNumber name description url imageUrl price currency brand color }
    facets { field name type min max selectedMin selectedMax values { value name count selected } }
  }
}`

	querySearchCount = `query searchCount($input: SearchInput!) {
  search(input: $input) { totalCount }
}`

	queryProduct = `query product($id: ID!) {
  product(id: $id) { id articleNumber name description url imageUrl price currency brand color }
}`

	queryLogin = `mutation login($email: String!, $password: String!) {
  login(email: $email, password: $password) { token }
}`

	customerSelection = `{ id email firstName lastName addresses { id firstName lastName address1 address2 zipCode city country email phoneNumber organizationName } }`

	queryMe = `query me { me ` + customerSelection + ` }`

	queryAddAddress = `mutation addAddress($input: AddressInput!) { addAddress(input: $input) ` + customerSelection + ` }`

	queryUpdateAddress = `mutation updateAddress($id: ID!, $input: AddressInput!) { updateAddress(id: $id, input: $input) ` + customerSelection + ` }`

	queryRemoveAddress = `mutation removeAddress($id: ID!) { removeAddress(id: $id) ` + customerSelection + ` }`
)

// CreateCheckoutSession creates (or resumes) the checkout session for cartID.
func (c *Client) CreateCheckoutSession(ctx context.Context, cartID string) (Checkout, error) {
	var out struct {
		Checkout Checkout `json:"createCheckoutSession"`
	}
	err := c.do(ctx, "createCheckoutSession", queryCreateCheckoutSession, map[string]any{"cartId": cartID}, &out)
	return out.Checkout, err
}

// UpdateCheckoutDetails stores shipping and/or billing addresses.
func (c *Client) UpdateCheckoutDetails(ctx context.Context, cartID string, in CheckoutDetailsInput) (Checkout, error) {
	var out struct {
		Checkout Checkout `json:"updateCheckoutDetails"`
	}
	err := c.do(ctx, "updateCheckoutDetails", queryUpdateCheckoutDetails, map[string]any{"cartId": cartID, "input": in}, &out)
	return out.Checkout, err
}

// UpdateCheckoutOptions stores the selected shipping and/or payment option.
func (c *Client) UpdateCheckoutOptions(ctx context.Context, cartID string, in CheckoutOptionsInput) (Checkout, error) {
	var out struct {
		Checkout Checkout `json:"updateCheckoutOptions"`
	}
	err := c.do(ctx, "updateCheckoutOptions", queryUpdateCheckoutOptions, map[string]any{"cartId": cartID, "input": in}, &out)
	return out.Checkout, err
}

// PlaceOrder confirms the order for cartID.
func (c *Client) PlaceOrder(ctx context.Context, cartID string) (OrderConfirmation, error) {
	var out struct {
		Order OrderConfirmation `json:"placeOrder"`
	}
	err := c.do(ctx, "placeOrder", queryPlaceOrder, map[string]any{"cartId": cartID}, &out)
	return out.Order, err
}

// ValidateCart returns validation messages for cartID. GraphQL errors that are not
// authorization failures are folded into the returned messages.
func (c *Client) ValidateCart(ctx context.Context, cartID string) ([]string, error) {
	var out struct {
		Result struct {
			Errors []struct {
				Message string `json:"message"`
			} `json:"errors"`
		} `json:"validateCart"`
	}
	err := c.do(ctx, "validateCart", queryValidateCart, map[string]any{"cartId": cartID}, &out)
	messages := make([]string, 0, len(out.Result.Errors))
	for _, item := range out.Result.Errors {
		if msg := strings.TrimSpace(item.Message); msg != "" {
			messages = append(messages, msg)
		}
	}
	var gqlErrs Errors
	if err != nil && !IsUnauthorized(err) && errors.As(err, &gqlErrs) {
		return append(messages, gqlErrs.Messages()...), nil
	}
	return messages, err
}

// CreateCart creates an empty cart.
func (c *Client) CreateCart(ctx context.Context) (Cart, error) {
	var out struct {
		Cart Cart `json:"createCart"`
	}
	err := c.do(ctx, "createCart", queryCreateCart, nil, &out)
	return out.Cart, err
}

// GetCart fetches cartID.
func (c *Client) GetCart(ctx context.Context, cartID string) (Cart, error) {
	var out struct {
		Cart *Cart `json:"cart"`
	}
	if err := c.do(ctx, "cart", queryCart, map[string]any{"cartId": cartID}, &out); err != nil {
		return Cart{}, err
	}
	if out.Cart == nil {
		return Cart{}, ErrNotFound
	}
	return *out.Cart, nil
}

// AddToCart adds quantity of articleNumber to cartID.
func (c *Client) AddToCart(ctx context.Context, cartID, articleNumber string, quantity int) (Cart, error) {
	var out struct {
		Cart Cart `json:"addToCart"`
	}
	err := c.do(ctx, "addToCart", queryAddToCart, map[string]any{
		"cartId":        cartID,
		"articleNumber": articleNumber,
		"quantity":      quantity,
	}, &out)
	return out.Cart, err
}

// UpdateCartRow sets the quantity of a row; zero removes it.
func (c *Client) UpdateCartRow(ctx context.Context, cartID, rowID string, quantity int) (Cart, error) {
	var out struct {
		Cart Cart `json:"updateCartRow"`
	}
	err := c.do(ctx, "updateCartRow", queryUpdateCartRow, map[string]any{
		"cartId":   cartID,
		"rowId":    rowID,
		"quantity": quantity,
	}, &out)
	return out.Cart, err
}

// Search runs a product search.
func (c *Client) Search(ctx context.Context, in SearchInput) (SearchResult, error) {
	var out struct {
		Result SearchResult `json:"search"`
	}
	err := c.do(ctx, "search", querySearch, map[string]any{"input": in}, &out)
	return out.Result, err
}

// SearchCount returns only the hit count for in.
func (c *Client) SearchCount(ctx context.Context, in SearchInput) (int, error) {
	var out struct {
		Result struct {
			TotalCount int `json:"totalCount"`
		} `json:"search"`
	}
	err := c.do(ctx, "searchCount", querySearchCount, map[string]any{"input": in}, &out)
	return out.Result.TotalCount, err
}

// Product fetches one product by id.
func (c *Client) Product(ctx context.Context, id string) (Product, error) {
	var out struct {
		Product *Product `json:"product"`
	}
	if err := c.do(ctx, "product", queryProduct, map[string]any{"id": id}, &out); err != nil {
		return Product{}, err
	}
	if out.Product == nil {
		return Product{}, ErrNotFound
	}
	return *out.Product, nil
}

// Login exchanges credentials for an auth token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var out struct {
		Login struct {
			Token string `json:"token"`
		} `json:"login"`
	}
	err := c.do(ctx, "login", queryLogin, map[string]any{"email": email, "password": password}, &out)
	return out.Login.Token, err
}

// Me returns the customer identified by the request auth token.
func (c *Client) Me(ctx context.Context) (Customer, error) {
	var out struct {
		Me *Customer `json:"me"`
	}
	if err := c.do(ctx, "me", queryMe, nil, &out); err != nil {
		return Customer{}, err
	}
	if out.Me == nil {
		return Customer{}, NewError("not signed in", CodeNotAuthorized)
	}
	return *out.Me, nil
}

// AddAddress saves a new address to the signed-in customer's address book.
func (c *Client) AddAddress(ctx context.Context, addr Address) (Customer, error) {
	var out struct {
		Customer Customer `json:"addAddress"`
	}
	err := c.do(ctx, "addAddress", queryAddAddress, map[string]any{"input": addr}, &out)
	return out.Customer, err
}

// UpdateAddress replaces a saved address.
func (c *Client) UpdateAddress(ctx context.Context, id string, addr Address) (Customer, error) {
	var out struct {
		Customer Customer `json:"updateAddress"`
	}
	err := c.do(ctx, "updateAddress", queryUpdateAddress, map[string]any{"id": id, "input": addr}, &out)
	return out.Customer, err
}

// RemoveAddress deletes a saved address.
func (c *Client) RemoveAddress(ctx context.Context, id string) (Customer, error) {
	var out struct {
		Customer Customer `json:"removeAddress"`
	}
	err := c.do(ctx, "removeAddress", queryRemoveAddress, map[string]any{"id": id}, &out)
	return out.Customer, err
}
