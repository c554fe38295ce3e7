package shared

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Discount is either a percentage or a fixed amount; the amount wins when both are set.
type Discount struct {
	Percent *float64
	Amount  *float64
}

func (d Discount) apply(base decimal.Decimal) decimal.Decimal {
	if d.Amount != nil {
		return decimal.NewFromFloat(*d.Amount)
	}
	if d.Percent != nil {
		return base.Mul(decimal.NewFromFloat(*d.Percent)).Div(hundred)
	}
	return decimal.Zero
}

// LineInput carries the priced quantities of a document line.
type LineInput struct {
	Quantity   float64
	UnitPrice  float64
	Discount   Discount
	TaxPercent float64
}

// LineAmounts is the computed money breakdown of a line.
type LineAmounts struct {
	Gross          float64
	DiscountAmount float64
	Taxable        float64
	TaxAmount      float64
	LineTotal      float64
}

// ComputeLine returns quantity × unit price − discount + tax, rounded to cents.
func ComputeLine(in LineInput) LineAmounts {
	gross := decimal.NewFromFloat(in.Quantity).Mul(decimal.NewFromFloat(in.UnitPrice)).Round(2)
	discount := in.Discount.apply(gross).Round(2)
	taxable := gross.Sub(discount)
	tax := taxable.Mul(decimal.NewFromFloat(in.TaxPercent)).Div(hundred).Round(2)
	total := taxable.Add(tax)
	return LineAmounts{
		Gross:          gross.InexactFloat64(),
		DiscountAmount: discount.InexactFloat64(),
		Taxable:        taxable.InexactFloat64(),
		TaxAmount:      tax.InexactFloat64(),
		LineTotal:      total.InexactFloat64(),
	}
}

// HeaderInput carries header-level adjustments.
type HeaderInput struct {
	Discount  Discount
	TaxAmount float64
	Freight   float64
}

// Totals is the document money summary.
type Totals struct {
	Subtotal       float64
	DiscountAmount float64
	TaxAmount      float64
	FreightAmount  float64
	TotalAmount    float64
}

// ComputeTotals returns Σ line totals − header discount + header tax + freight.
func ComputeTotals(lines []LineAmounts, h HeaderInput) Totals {
	sumTotals := decimal.Zero
	subtotal := decimal.Zero
	lineTax := decimal.Zero
	for _, l := range lines {
		sumTotals = sumTotals.Add(decimal.NewFromFloat(l.LineTotal))
		subtotal = subtotal.Add(decimal.NewFromFloat(l.Taxable))
		lineTax = lineTax.Add(decimal.NewFromFloat(l.TaxAmount))
	}
	headerDiscount := h.Discount.apply(sumTotals).Round(2)
	headerTax := decimal.NewFromFloat(h.TaxAmount).Round(2)
	freight := decimal.NewFromFloat(h.Freight).Round(2)
	total := sumTotals.Sub(headerDiscount).Add(headerTax).Add(freight)
	return Totals{
		Subtotal:       subtotal.Round(2).InexactFloat64(),
		DiscountAmount: headerDiscount.InexactFloat64(),
		TaxAmount:      lineTax.Add(headerTax).Round(2).InexactFloat64(),
		FreightAmount:  freight.InexactFloat64(),
		TotalAmount:    total.Round(2).InexactFloat64(),
	}
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// AddMoney adds amounts without binary float drift.
func AddMoney(a, b float64) float64 {
	return decimal.NewFromFloat(a).Add(decimal.NewFromFloat(b)).Round(2).InexactFloat64()
}

// SubMoney subtracts amounts without binary float drift.
func SubMoney(a, b float64) float64 {
	return decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).Round(2).InexactFloat64()
}

// Prorate returns amount × part / whole, rounded to cents; zero when whole is zero.
func Prorate(amount, part, whole float64) float64 {
	if whole == 0 {
		return 0
	}
	return decimal.NewFromFloat(amount).Mul(decimal.NewFromFloat(part)).Div(decimal.NewFromFloat(whole)).Round(2).InexactFloat64()
}
