// Package pricing derives sale prices, combo prices and transaction totals.
// All amounts are integer cents.
package pricing

import "math"

// SalePrice applies a percentage margin on top of a cost. Halves round away from zero.
func SalePrice(costCents int64, marginPercent float64) int64 {
	return int64(math.Round(float64(costCents) * (1 + marginPercent/100)))
}

// ComboLine is one priced constituent of a combo.
type ComboLine struct {
	UnitPriceCents int64
	Quantity       int
}

func ComboPrice(lines []ComboLine, extraFeeCents int64) int64 {
	total := extraFeeCents
	for _, line := range lines {
		total += LineTotal(line.UnitPriceCents, line.Quantity)
	}
	return total
}

func LineTotal(unitPriceCents int64, qty int) int64 {
	return unitPriceCents * int64(qty)
}

// Requirement is the stock a single product must cover.
type Requirement struct {
	ProductID int64
	Quantity  int
}

type Fees struct {
	ShippingCents int64
	ServiceCents  int64
	AssemblyCents int64
	DiscountCents int64
}

func (f Fees) Validate() bool {
	return f.ShippingCents >= 0 && f.ServiceCents >= 0 && f.AssemblyCents >= 0 && f.DiscountCents >= 0
}

// TransactionTotal is the item total plus shipping, service and assembly, minus discount.
// The result may be negative when the discount exceeds everything else.
func TransactionTotal(itemsTotalCents int64, fees Fees) int64 {
	return itemsTotalCents + fees.ShippingCents + fees.ServiceCents + fees.AssemblyCents - fees.DiscountCents
}
