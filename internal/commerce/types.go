package commerce

import (
	"encoding/json"
	"strings"
)

// IntegrationType classifies how a shipping or payment option is fulfilled.
type IntegrationType string

const (
	IntegrationInline           IntegrationType = "INLINE"
	IntegrationDirectPayment    IntegrationType = "DIRECT_PAYMENT"
	IntegrationIframeCheckout   IntegrationType = "IFRAME_CHECKOUT"
	IntegrationPaymentCheckout  IntegrationType = "PAYMENT_CHECKOUT"
	IntegrationPaymentWidgets   IntegrationType = "PAYMENT_WIDGETS"
	IntegrationDeliveryCheckout IntegrationType = "DELIVERY_CHECKOUT"
	IntegrationDeliveryOptions  IntegrationType = "DELIVERY_OPTIONS"
)

var knownIntegrationTypes = map[IntegrationType]struct{}{
	IntegrationInline:           {},
	IntegrationDirectPayment:    {},
	IntegrationIframeCheckout:   {},
	IntegrationPaymentCheckout:  {},
	IntegrationPaymentWidgets:   {},
	IntegrationDeliveryCheckout: {},
	IntegrationDeliveryOptions:  {},
}

// UnmarshalJSON decodes unknown values to the empty type.
func (t *IntegrationType) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	candidate := IntegrationType(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := knownIntegrationTypes[candidate]; !ok {
		candidate = ""
	}
	*t = candidate
	return nil
}

// Effective maps the empty (unknown) type to INLINE.
func (t IntegrationType) Effective() IntegrationType {
	if t == "" {
		return IntegrationInline
	}
	return t
}

// Option is a shipping or payment choice offered by the checkout session.
type Option struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	Price           float64         `json:"price"`
	Selected        bool            `json:"selected"`
	IntegrationType IntegrationType `json:"integrationType"`
}

// Address is a flat order or customer address.
type Address struct {
	FirstName        string `json:"firstName"`
	LastName         string `json:"lastName"`
	Address1         string `json:"address1"`
	Address2         string `json:"address2,omitempty"`
	ZipCode          string `json:"zipCode"`
	City             string `json:"city"`
	Country          string `json:"country"`
	Email            string `json:"email"`
	PhoneNumber      string `json:"phoneNumber,omitempty"`
	OrganizationName string `json:"organizationName,omitempty"`
}

// IsZero reports whether no address field is set.
func (a Address) IsZero() bool {
	return a == Address{}
}

// FullName joins first and last name.
func (a Address) FullName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// FlowInfo is a key/value pair describing checkout flow URLs.
type FlowInfo struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

const (
	FlowTermsURL   = "TermsUrl"
	FlowReceiptURL = "ReceiptPageUrl"
)

// Checkout is the server-side checkout session. It is replaced wholesale after every mutation.
type Checkout struct {
	ID                  string     `json:"id"`
	ShippingAddress     *Address   `json:"shippingAddress"`
	BillingAddress      *Address   `json:"billingAddress"`
	ShippingOptions     []Option   `json:"shippingOptions"`
	PaymentOptions      []Option   `json:"paymentOptions"`
	PaymentHTMLSnippet  string     `json:"paymentHtmlSnippet"`
	ShipmentHTMLSnippet string     `json:"shipmentHtmlSnippet"`
	FlowInfo            []FlowInfo `json:"checkoutFlowInfo"`
}

// Flow returns the flow info value for key.
func (c Checkout) Flow(key string) string {
	for _, info := range c.FlowInfo {
		if strings.EqualFold(info.Key, key) {
			return info.Value
		}
	}
	return ""
}

// RowType classifies cart rows.
type RowType string

const (
	RowProduct     RowType = "PRODUCT"
	RowShippingFee RowType = "SHIPPING_FEE"
	RowFee         RowType = "FEE"
	RowDiscount    RowType = "DISCOUNT"
)

// OrderRow is a single cart line.
type OrderRow struct {
	ID                string  `json:"rowId"`
	ArticleNumber     string  `json:"articleNumber"`
	Description       string  `json:"description"`
	Quantity          int     `json:"quantity"`
	RowType           RowType `json:"rowType"`
	TotalIncludingVat float64 `json:"totalIncludingVat"`
	TotalExcludingVat float64 `json:"totalExcludingVat"`
}

// Total picks the row total for the given VAT mode.
func (r OrderRow) Total(includingVat bool) float64 {
	if includingVat {
		return r.TotalIncludingVat
	}
	return r.TotalExcludingVat
}

// DiscountInfo describes a discount applied to the cart.
type DiscountInfo struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
}

// Cart is the read-only cart aggregate.
type Cart struct {
	ID                     string         `json:"id"`
	Rows                   []OrderRow     `json:"rows"`
	ShowPricesIncludingVat bool           `json:"showPricesIncludingVat"`
	GrandTotal             float64        `json:"grandTotal"`
	TotalVat               float64        `json:"totalVat"`
	DiscountInfos          []DiscountInfo `json:"discountInfos"`
	Currency               string         `json:"currency"`
}

// RowsOfType returns the rows matching rowType in cart order.
func (c Cart) RowsOfType(rowType RowType) []OrderRow {
	var out []OrderRow
	for _, row := range c.Rows {
		if row.RowType == rowType {
			out = append(out, row)
		}
	}
	return out
}

// Quantity sums product row quantities.
func (c Cart) Quantity() int {
	total := 0
	for _, row := range c.RowsOfType(RowProduct) {
		total += row.Quantity
	}
	return total
}

// OrderConfirmation is returned by placeOrder.
type OrderConfirmation struct {
	OrderID    string `json:"orderId"`
	ReceiptURL string `json:"receiptUrl"`
}

// CustomerAddress is a saved address book entry.
type CustomerAddress struct {
	ID string `json:"id"`
	Address
}

// Customer is the signed-in account.
type Customer struct {
	ID        string            `json:"id"`
	Email     string            `json:"email"`
	FirstName string            `json:"firstName"`
	LastName  string            `json:"lastName"`
	Addresses []CustomerAddress `json:"addresses"`
}

// Product is a listing entry.
type Product struct {
	ID            string  `json:"id"`
	ArticleNumber string  `json:"articleNumber"`
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	URL           string  `json:"url"`
	ImageURL      string  `json:"imageUrl"`
	Price         float64 `json:"price"`
	Currency      string  `json:"currency"`
	Brand         string  `json:"brand,omitempty"`
	Color         string  `json:"color,omitempty"`
}

// FacetType distinguishes checklist and range facets.
type FacetType string

const (
	FacetDistinct FacetType = "DISTINCT"
	FacetRange    FacetType = "RANGE"
)

// FacetValue is one distinct facet entry.
type FacetValue struct {
	Value    string `json:"value"`
	Name     string `json:"name"`
	Count    int    `json:"count"`
	Selected bool   `json:"selected"`
}

// FacetGroup is a filterable search dimension.
type FacetGroup struct {
	Field       string       `json:"field"`
	Name        string       `json:"name"`
	Type        FacetType    `json:"type"`
	Values      []FacetValue `json:"values,omitempty"`
	Min         float64      `json:"min,omitempty"`
	Max         float64      `json:"max,omitempty"`
	SelectedMin float64      `json:"selectedMin,omitempty"`
	SelectedMax float64      `json:"selectedMax,omitempty"`
}

// FilterInput restricts a search to facet values or a range.
type FilterInput struct {
	Field  string   `json:"field"`
	Values []string `json:"values,omitempty"`
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
}

// SearchInput is the product search request.
type SearchInput struct {
	Query         string        `json:"query"`
	Filters       []FilterInput `json:"filters,omitempty"`
	SortBy        string        `json:"sortBy,omitempty"`
	SortDirection string        `json:"sortDirection,omitempty"`
	Page          int           `json:"page"`
	PageSize      int           `json:"pageSize"`
}

// SearchResult is a page of products plus facets.
type SearchResult struct {
	Products   []Product    `json:"products"`
	Facets     []FacetGroup `json:"facets"`
	TotalCount int          `json:"totalCount"`
}

// CheckoutDetailsInput updates checkout addresses. Nil fields are left untouched.
type CheckoutDetailsInput struct {
	ShippingAddress *Address `json:"shippingAddress,omitempty"`
	BillingAddress  *Address `json:"billingAddress,omitempty"`
}

// CheckoutOptionsInput updates selected options. Empty fields are left untouched.
type CheckoutOptionsInput struct {
	ShippingOptionID    string `json:"shippingOptionId,omitempty"`
	ShippingWidgetValue string `json:"shippingWidgetValue,omitempty"`
	PaymentOptionID     string `json:"paymentOptionId,omitempty"`
}
