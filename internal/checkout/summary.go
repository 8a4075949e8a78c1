package checkout

import "finitefield.org/storefront/internal/commerce"

// DeliverySummary is the delivery line shown in the order summary.
type DeliverySummary struct {
	Name  string
	Price float64
}

// SummarizeDelivery derives the delivery summary. The price is always the sum of the cart's
// shipping fee rows in the cart's VAT mode, never the option's nominal price. The name comes from
// the first shipping fee row for delivery checkout and delivery options integrations.
func SummarizeDelivery(s State) (DeliverySummary, bool) {
	opt, ok := GetSelectedOption(s.Checkout.ShippingOptions)
	if !ok {
		return DeliverySummary{}, false
	}
	fees := s.Cart.RowsOfType(commerce.RowShippingFee)
	summary := DeliverySummary{Name: opt.Name}
	switch opt.IntegrationType.Effective() {
	case commerce.IntegrationDeliveryCheckout, commerce.IntegrationDeliveryOptions:
		if len(fees) > 0 {
			summary.Name = fees[0].Description
		}
	}
	for _, row := range fees {
		summary.Price += row.Total(s.Cart.ShowPricesIncludingVat)
	}
	return summary, true
}

// TotalSummary is the order total section.
type TotalSummary struct {
	Products     []commerce.OrderRow
	Subtotal     float64
	Delivery     float64
	Fees         float64
	Discounts    []commerce.DiscountInfo
	GrandTotal   float64
	TotalVat     float64
	IncludingVat bool
	Currency     string
}

// SummarizeTotal groups the cart rows for the total section.
func SummarizeTotal(cart commerce.Cart) TotalSummary {
	out := TotalSummary{
		Discounts:    cart.DiscountInfos,
		GrandTotal:   cart.GrandTotal,
		TotalVat:     cart.TotalVat,
		IncludingVat: cart.ShowPricesIncludingVat,
		Currency:     cart.Currency,
	}
	for _, row := range cart.Rows {
		total := row.Total(cart.ShowPricesIncludingVat)
		switch row.RowType {
		case commerce.RowProduct:
			out.Products = append(out.Products, row)
			out.Subtotal += total
		case commerce.RowShippingFee:
			out.Delivery += total
		case commerce.RowFee:
			out.Fees += total
		}
	}
	return out
}
