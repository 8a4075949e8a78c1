package commerce

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/oklog/ulid/v2"

	"finitefield.org/storefront/internal/platform/requestctx"
)

const (
	memoryVatRate  = 0.25
	memoryCurrency = "SEK"
	tokenLifetime  = 24 * time.Hour
)

// Memory is an in-process Backend used for local development and tests.
type Memory struct {
	mu sync.Mutex

	catalog          []Product
	shippingOptions  []Option
	paymentOptions   []Option
	paymentSnippet   string
	shipmentSnippet  string
	validationErrors []string
	flowInfo         []FlowInfo

	carts   map[string]*memoryCart
	users   map[string]*memoryUser
	orders  map[string]OrderConfirmation
	signKey []byte
	now     func() time.Time
}

type memoryCart struct {
	id          string
	rows        []OrderRow
	shipping    *Address
	billing     *Address
	shippingID  string
	paymentID   string
	widgetValue string
}

type memoryUser struct {
	password string
	customer Customer
}

// MemoryOption customises the in-memory backend.
type MemoryOption func(*Memory)

// WithCatalog replaces the seeded product catalog.
func WithCatalog(products []Product) MemoryOption {
	return func(m *Memory) {
		m.catalog = append([]Product(nil), products...)
	}
}

// WithShippingOptions replaces the offered shipping options.
func WithShippingOptions(options ...Option) MemoryOption {
	return func(m *Memory) {
		m.shippingOptions = append([]Option(nil), options...)
	}
}

// WithPaymentOptions replaces the offered payment options.
func WithPaymentOptions(options ...Option) MemoryOption {
	return func(m *Memory) {
		m.paymentOptions = append([]Option(nil), options...)
	}
}

// WithPaymentSnippet sets the provider HTML returned once a widget payment option is selected.
func WithPaymentSnippet(snippet string) MemoryOption {
	return func(m *Memory) {
		m.paymentSnippet = snippet
	}
}

// WithShipmentSnippet sets the provider HTML returned once a delivery checkout option is selected.
func WithShipmentSnippet(snippet string) MemoryOption {
	return func(m *Memory) {
		m.shipmentSnippet = snippet
	}
}

// WithValidationErrors makes ValidateCart report messages.
func WithValidationErrors(messages ...string) MemoryOption {
	return func(m *Memory) {
		m.validationErrors = append([]string(nil), messages...)
	}
}

// WithUser registers a customer that can sign in with email and password.
func WithUser(email, password string, customer Customer) MemoryOption {
	return func(m *Memory) {
		email = strings.ToLower(strings.TrimSpace(email))
		if customer.ID == "" {
			customer.ID = ulid.Make().String()
		}
		customer.Email = email
		m.users[email] = &memoryUser{password: password, customer: customer}
	}
}

// WithClock overrides the time source used for token expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemory builds a Memory backend seeded with a small catalog and default options.
func NewMemory(opts ...MemoryOption) *Memory {
	key := make([]byte, 32)
	_, _ = rand.Read(key)
	m := &Memory{
		catalog: defaultCatalog(),
		shippingOptions: []Option{
			{ID: "standard", Name: "Standard delivery", Description: "2-4 business days", Price: 49, IntegrationType: IntegrationInline},
			{ID: "express", Name: "Express delivery", Description: "Next business day", Price: 129, IntegrationType: IntegrationInline},
		},
		paymentOptions: []Option{
			{ID: "invoice", Name: "Invoice", Description: "Pay within 30 days", IntegrationType: IntegrationDirectPayment},
		},
		flowInfo: []FlowInfo{{Key: FlowTermsURL, Value: "/page/terms"}},
		carts:    map[string]*memoryCart{},
		users:    map[string]*memoryUser{},
		orders:   map[string]OrderConfirmation{},
		signKey:  key,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func defaultCatalog() []Product {
	return []Product{
		{ID: "p-1", ArticleNumber: "A-100", Name: "Linen shirt", Description: "Breathable linen shirt", Price: 499, Brand: "Nord", Color: "white"},
		{ID: "p-2", ArticleNumber: "A-101", Name: "Wool sweater", Description: "Merino wool crew neck", Price: 899, Brand: "Nord", Color: "grey"},
		{ID: "p-3", ArticleNumber: "A-102", Name: "Canvas sneakers", Description: "Low-top canvas sneakers", Price: 649, Brand: "Fjell", Color: "white"},
		{ID: "p-4", ArticleNumber: "A-103", Name: "Rain jacket", Description: "Waterproof shell jacket", Price: 1499, Brand: "Fjell", Color: "yellow"},
		{ID: "p-5", ArticleNumber: "A-104", Name: "Cotton socks", Description: "Three-pack cotton socks", Price: 149, Brand: "Strand", Color: "grey"},
	}
}

// CreateCheckoutSession returns the checkout view of cartID.
func (m *Memory) CreateCheckoutSession(_ context.Context, cartID string) (Checkout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, err := m.cart(cartID)
	if err != nil {
		return Checkout{}, err
	}
	return m.checkoutView(cart), nil
}

// UpdateCheckoutDetails stores addresses on the checkout.
func (m *Memory) UpdateCheckoutDetails(_ context.Context, cartID string, in CheckoutDetailsInput) (Checkout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, err := m.cart(cartID)
	if err != nil {
		return Checkout{}, err
	}
	if in.ShippingAddress != nil {
		addr := *in.ShippingAddress
		cart.shipping = &addr
	}
	if in.BillingAddress != nil {
		addr := *in.BillingAddress
		cart.billing = &addr
	}
	return m.checkoutView(cart), nil
}

// UpdateCheckoutOptions stores option selections and recomputes the shipping fee row.
func (m *Memory) UpdateCheckoutOptions(_ context.Context, cartID string, in CheckoutOptionsInput) (Checkout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, err := m.cart(cartID)
	if err != nil {
		return Checkout{}, err
	}
	if in.ShippingOptionID != "" {
		opt, ok := findOption(m.shippingOptions, in.ShippingOptionID)
		if !ok {
			return m.checkoutView(cart), NewError(fmt.Sprintf("unknown shipping option %q", in.ShippingOptionID), "INVALID_OPTION")
		}
		if cart.shippingID != opt.ID {
			cart.widgetValue = ""
		}
		cart.shippingID = opt.ID
		if in.ShippingWidgetValue != "" {
			cart.widgetValue = in.ShippingWidgetValue
		}
	}
	if in.PaymentOptionID != "" {
		if _, ok := findOption(m.paymentOptions, in.PaymentOptionID); !ok {
			return m.checkoutView(cart), NewError(fmt.Sprintf("unknown payment option %q", in.PaymentOptionID), "INVALID_OPTION")
		}
		cart.paymentID = in.PaymentOptionID
	}
	m.refreshShippingFee(cart)
	return m.checkoutView(cart), nil
}

// PlaceOrder confirms the order and empties the cart.
func (m *Memory) PlaceOrder(_ context.Context, cartID string) (OrderConfirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, err := m.cart(cartID)
	if err != nil {
		return OrderConfirmation{}, err
	}
	var problems Errors
	if len(rowsOfType(cart.rows, RowProduct)) == 0 {
		problems = append(problems, NewError("The cart is empty.", "CART_EMPTY")...)
	}
	if cart.shipping == nil || cart.shipping.IsZero() {
		problems = append(problems, NewError("A delivery address is required.", "ADDRESS_REQUIRED")...)
	}
	if cart.paymentID == "" {
		problems = append(problems, NewError("Select a payment option.", "PAYMENT_REQUIRED")...)
	}
	if len(problems) > 0 {
		return OrderConfirmation{}, problems
	}
	id := ulid.Make().String()
	conf := OrderConfirmation{OrderID: id, ReceiptURL: "/order/" + id}
	m.orders[id] = conf
	*cart = memoryCart{id: cart.id}
	return conf, nil
}

// ValidateCart reports configured validation messages.
func (m *Memory) ValidateCart(_ context.Context, cartID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.cart(cartID); err != nil {
		return nil, err
	}
	return append([]string(nil), m.validationErrors...), nil
}

// CreateCart creates an empty cart.
func (m *Memory) CreateCart(_ context.Context) (Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart := &memoryCart{id: ulid.Make().String()}
	m.carts[cart.id] = cart
	return m.cartView(cart), nil
}

// GetCart returns cartID.
func (m *Memory) GetCart(_ context.Context, cartID string) (Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, err := m.cart(cartID)
	if err != nil {
		return Cart{}, err
	}
	return m.cartView(cart), nil
}

// AddToCart adds quantity of articleNumber, merging with an existing row.
func (m *Memory) AddToCart(_ context.Context, cartID, articleNumber string, quantity int) (Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, err := m.cart(cartID)
	if err != nil {
		return Cart{}, err
	}
	if quantity <= 0 {
		return m.cartView(cart), NewError("Quantity must be positive.", "INVALID_QUANTITY")
	}
	product, ok := m.productByArticle(articleNumber)
	if !ok {
		return m.cartView(cart), ErrNotFound
	}
	for i := range cart.rows {
		if cart.rows[i].RowType == RowProduct && cart.rows[i].ArticleNumber == articleNumber {
			setRowQuantity(&cart.rows[i], cart.rows[i].Quantity+quantity, product.Price)
			return m.cartView(cart), nil
		}
	}
	row := OrderRow{ID: ulid.Make().String(), ArticleNumber: articleNumber, Description: product.Name, RowType: RowProduct}
	setRowQuantity(&row, quantity, product.Price)
	cart.rows = append(cart.rows, row)
	return m.cartView(cart), nil
}

// UpdateCartRow sets a row quantity; zero or less removes it.
func (m *Memory) UpdateCartRow(_ context.Context, cartID, rowID string, quantity int) (Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, err := m.cart(cartID)
	if err != nil {
		return Cart{}, err
	}
	for i := range cart.rows {
		if cart.rows[i].ID != rowID || cart.rows[i].RowType != RowProduct {
			continue
		}
		if quantity <= 0 {
			cart.rows = append(cart.rows[:i], cart.rows[i+1:]...)
			return m.cartView(cart), nil
		}
		product, _ := m.productByArticle(cart.rows[i].ArticleNumber)
		setRowQuantity(&cart.rows[i], quantity, product.Price)
		return m.cartView(cart), nil
	}
	return m.cartView(cart), ErrNotFound
}

// Search filters the catalog.
func (m *Memory) Search(_ context.Context, in SearchInput) (SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matches := m.queryMatches(in.Query)
	filtered := applyFilters(matches, in.Filters)
	sortProducts(filtered, in.SortBy, in.SortDirection)

	result := SearchResult{TotalCount: len(filtered), Facets: buildFacets(matches, in.Filters)}
	pageSize := in.PageSize
	if pageSize <= 0 {
		pageSize = len(filtered)
	}
	page := in.Page
	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start < len(filtered) {
		end := start + pageSize
		if end > len(filtered) {
			end = len(filtered)
		}
		result.Products = filtered[start:end]
	}
	return result, nil
}

// SearchCount returns the number of hits for in.
func (m *Memory) SearchCount(ctx context.Context, in SearchInput) (int, error) {
	in.PageSize = 0
	res, err := m.Search(ctx, in)
	return res.TotalCount, err
}

// Product returns the catalog product with id.
func (m *Memory) Product(_ context.Context, id string) (Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.catalog {
		if p.ID == id {
			return m.decorate(p), nil
		}
	}
	return Product{}, ErrNotFound
}

// Login verifies credentials and issues a signed token.
func (m *Memory) Login(_ context.Context, email, password string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[strings.ToLower(strings.TrimSpace(email))]
	if !ok || user.password != password {
		return "", NewError("Invalid email or password.", "INVALID_CREDENTIALS")
	}
	now := m.now()
	claims := jwt.RegisteredClaims{
		Subject:   user.customer.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.signKey)
}

// Me returns the customer for the request token.
func (m *Memory) Me(ctx context.Context) (Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, err := m.userFromToken(ctx)
	if err != nil {
		return Customer{}, err
	}
	return cloneCustomer(user.customer), nil
}

// AddAddress appends an address to the signed-in customer.
func (m *Memory) AddAddress(ctx context.Context, addr Address) (Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, err := m.userFromToken(ctx)
	if err != nil {
		return Customer{}, err
	}
	user.customer.Addresses = append(user.customer.Addresses, CustomerAddress{ID: ulid.Make().String(), Address: addr})
	return cloneCustomer(user.customer), nil
}

// UpdateAddress replaces a saved address.
func (m *Memory) UpdateAddress(ctx context.Context, id string, addr Address) (Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, err := m.userFromToken(ctx)
	if err != nil {
		return Customer{}, err
	}
	for i := range user.customer.Addresses {
		if user.customer.Addresses[i].ID == id {
			user.customer.Addresses[i].Address = addr
			return cloneCustomer(user.customer), nil
		}
	}
	return cloneCustomer(user.customer), ErrNotFound
}

// RemoveAddress deletes a saved address.
func (m *Memory) RemoveAddress(ctx context.Context, id string) (Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, err := m.userFromToken(ctx)
	if err != nil {
		return Customer{}, err
	}
	for i := range user.customer.Addresses {
		if user.customer.Addresses[i].ID == id {
			user.customer.Addresses = append(user.customer.Addresses[:i], user.customer.Addresses[i+1:]...)
			return cloneCustomer(user.customer), nil
		}
	}
	return cloneCustomer(user.customer), ErrNotFound
}

func (m *Memory) userFromToken(ctx context.Context) (*memoryUser, error) {
	raw := requestctx.AuthToken(ctx)
	if raw == "" {
		return nil, NewError("Sign in required.", CodeNotAuthorized)
	}
	var claims jwt.RegisteredClaims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	token, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return m.signKey, nil
	})
	if err != nil || !token.Valid || claims.ExpiresAt == nil || !claims.ExpiresAt.After(m.now()) {
		return nil, NewError("Sign in required.", CodeNotAuthorized)
	}
	for _, user := range m.users {
		if user.customer.ID == claims.Subject {
			return user, nil
		}
	}
	return nil, NewError("Sign in required.", CodeNotAuthorized)
}

func (m *Memory) cart(cartID string) (*memoryCart, error) {
	cart, ok := m.carts[cartID]
	if !ok {
		return nil, ErrNotFound
	}
	return cart, nil
}

func (m *Memory) productByArticle(articleNumber string) (Product, bool) {
	for _, p := range m.catalog {
		if p.ArticleNumber == articleNumber {
			return p, true
		}
	}
	return Product{}, false
}

func (m *Memory) decorate(p Product) Product {
	if p.Currency == "" {
		p.Currency = memoryCurrency
	}
	if p.URL == "" {
		p.URL = "/product/" + p.ID
	}
	return p
}

func (m *Memory) refreshShippingFee(cart *memoryCart) {
	rows := cart.rows[:0]
	for _, row := range cart.rows {
		if row.RowType != RowShippingFee {
			rows = append(rows, row)
		}
	}
	cart.rows = rows
	opt, ok := findOption(m.shippingOptions, cart.shippingID)
	if !ok {
		return
	}
	description := opt.Name
	if opt.IntegrationType == IntegrationDeliveryCheckout {
		if cart.widgetValue == "" {
			return
		}
		description = fmt.Sprintf("%s (%s)", opt.Name, cart.widgetValue)
	}
	cart.rows = append(cart.rows, OrderRow{
		ID:                ulid.Make().String(),
		ArticleNumber:     "shipping-" + opt.ID,
		Description:       description,
		Quantity:          1,
		RowType:           RowShippingFee,
		TotalIncludingVat: opt.Price,
		TotalExcludingVat: excludingVat(opt.Price),
	})
}

func (m *Memory) checkoutView(cart *memoryCart) Checkout {
	out := Checkout{
		ID:              cart.id,
		ShippingOptions: selectOptions(m.shippingOptions, cart.shippingID),
		PaymentOptions:  selectOptions(m.paymentOptions, cart.paymentID),
		FlowInfo:        append([]FlowInfo(nil), m.flowInfo...),
	}
	if cart.shipping != nil {
		addr := *cart.shipping
		out.ShippingAddress = &addr
	}
	if cart.billing != nil {
		addr := *cart.billing
		out.BillingAddress = &addr
	}
	if opt, ok := findOption(m.paymentOptions, cart.paymentID); ok && opt.IntegrationType != IntegrationDirectPayment {
		out.PaymentHTMLSnippet = m.paymentSnippet
	}
	if opt, ok := findOption(m.shippingOptions, cart.shippingID); ok && opt.IntegrationType == IntegrationDeliveryCheckout {
		out.ShipmentHTMLSnippet = m.shipmentSnippet
	}
	return out
}

func (m *Memory) cartView(cart *memoryCart) Cart {
	out := Cart{
		ID:                     cart.id,
		Rows:                   append([]OrderRow(nil), cart.rows...),
		ShowPricesIncludingVat: true,
		Currency:               memoryCurrency,
	}
	for _, row := range cart.rows {
		out.GrandTotal += row.TotalIncludingVat
		out.TotalVat += row.TotalIncludingVat - row.TotalExcludingVat
	}
	out.TotalVat = roundCents(out.TotalVat)
	return out
}

func (m *Memory) queryMatches(query string) []Product {
	query = strings.ToLower(strings.TrimSpace(query))
	var out []Product
	for _, p := range m.catalog {
		if query == "" || strings.Contains(strings.ToLower(p.Name), query) || strings.Contains(strings.ToLower(p.Description), query) {
			out = append(out, m.decorate(p))
		}
	}
	return out
}

func applyFilters(products []Product, filters []FilterInput) []Product {
	out := make([]Product, 0, len(products))
	for _, p := range products {
		if matchesFilters(p, filters) {
			out = append(out, p)
		}
	}
	return out
}

func matchesFilters(p Product, filters []FilterInput) bool {
	for _, f := range filters {
		switch f.Field {
		case "price":
			if f.Min != nil && p.Price < *f.Min {
				return false
			}
			if f.Max != nil && p.Price > *f.Max {
				return false
			}
		default:
			if len(f.Values) == 0 {
				continue
			}
			value := productField(p, f.Field)
			found := false
			for _, v := range f.Values {
				if strings.EqualFold(v, value) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}

func productField(p Product, field string) string {
	switch field {
	case "brand":
		return p.Brand
	case "color":
		return p.Color
	default:
		return ""
	}
}

func sortProducts(products []Product, sortBy, direction string) {
	desc := strings.EqualFold(direction, "desc")
	less := func(i, j int) bool { return products[i].Name < products[j].Name }
	if sortBy == "price" {
		less = func(i, j int) bool { return products[i].Price < products[j].Price }
	}
	sort.SliceStable(products, func(i, j int) bool {
		if desc {
			return less(j, i)
		}
		return less(i, j)
	})
}

func buildFacets(products []Product, filters []FilterInput) []FacetGroup {
	selected := map[string]map[string]bool{}
	var priceFilter *FilterInput
	for i := range filters {
		if filters[i].Field == "price" {
			priceFilter = &filters[i]
			continue
		}
		set := map[string]bool{}
		for _, v := range filters[i].Values {
			set[strings.ToLower(v)] = true
		}
		selected[filters[i].Field] = set
	}

	var groups []FacetGroup
	for _, field := range []string{"brand", "color"} {
		counts := map[string]int{}
		for _, p := range products {
			if v := productField(p, field); v != "" {
				counts[v]++
			}
		}
		values := make([]FacetValue, 0, len(counts))
		for v, n := range counts {
			values = append(values, FacetValue{Value: v, Name: v, Count: n, Selected: selected[field][strings.ToLower(v)]})
		}
		sort.Slice(values, func(i, j int) bool { return values[i].Value < values[j].Value })
		groups = append(groups, FacetGroup{Field: field, Name: field, Type: FacetDistinct, Values: values})
	}

	if len(products) > 0 {
		price := FacetGroup{Field: "price", Name: "price", Type: FacetRange, Min: math.Inf(1), Max: math.Inf(-1)}
		for _, p := range products {
			price.Min = math.Min(price.Min, p.Price)
			price.Max = math.Max(price.Max, p.Price)
		}
		price.SelectedMin, price.SelectedMax = price.Min, price.Max
		if priceFilter != nil {
			if priceFilter.Min != nil {
				price.SelectedMin = *priceFilter.Min
			}
			if priceFilter.Max != nil {
				price.SelectedMax = *priceFilter.Max
			}
		}
		groups = append(groups, price)
	}
	return groups
}

func selectOptions(options []Option, selectedID string) []Option {
	out := make([]Option, len(options))
	for i, opt := range options {
		opt.Selected = selectedID != "" && opt.ID == selectedID
		out[i] = opt
	}
	return out
}

func findOption(options []Option, id string) (Option, bool) {
	if id == "" {
		return Option{}, false
	}
	for _, opt := range options {
		if opt.ID == id {
			return opt, true
		}
	}
	return Option{}, false
}

func rowsOfType(rows []OrderRow, rowType RowType) []OrderRow {
	return Cart{Rows: rows}.RowsOfType(rowType)
}

func setRowQuantity(row *OrderRow, quantity int, unitPrice float64) {
	row.Quantity = quantity
	row.TotalIncludingVat = roundCents(unitPrice * float64(quantity))
	row.TotalExcludingVat = excludingVat(row.TotalIncludingVat)
}

func excludingVat(including float64) float64 {
	return roundCents(including / (1 + memoryVatRate))
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

func cloneCustomer(c Customer) Customer {
	c.Addresses = append([]CustomerAddress(nil), c.Addresses...)
	return c
}
