package pricing

import (
	"github.com/shopspring/decimal"
)

// Breakdown is the itemized price of an order. Values are unrounded until
// Rounded is called.
type Breakdown struct {
	Currency               string          `json:"currency"`
	Quantity               int             `json:"quantity"`
	BasePrice              decimal.Decimal `json:"base_price"`
	TotalBasePrice         decimal.Decimal `json:"total_base_price"`
	SelectedOptions        int             `json:"selected_options"`
	CustomizationFee       decimal.Decimal `json:"customization_fee"`
	MaterialCost           decimal.Decimal `json:"material_cost"`
	DeliveryFee            decimal.Decimal `json:"delivery_fee"`
	HandlingFee            decimal.Decimal `json:"handling_fee"`
	SubtotalBeforeDiscount decimal.Decimal `json:"subtotal_before_discount"`
	BulkDiscount           decimal.Decimal `json:"bulk_discount"`
	PlatformFee            decimal.Decimal `json:"platform_fee"`
	Subtotal               decimal.Decimal `json:"subtotal"`
	TaxRate                decimal.Decimal `json:"tax_rate"`
	TaxAmount              decimal.Decimal `json:"tax_amount"`
	Total                  decimal.Decimal `json:"total"`
}

// Rounded returns the display form: every amount at two decimals, with the
// total recomputed from the rounded subtotal and tax so it still adds up exactly.
func (b Breakdown) Rounded() Breakdown {
	out := b
	out.BasePrice = round(b.BasePrice)
	out.TotalBasePrice = round(b.TotalBasePrice)
	out.CustomizationFee = round(b.CustomizationFee)
	out.MaterialCost = round(b.MaterialCost)
	out.DeliveryFee = round(b.DeliveryFee)
	out.HandlingFee = round(b.HandlingFee)
	out.SubtotalBeforeDiscount = round(b.SubtotalBeforeDiscount)
	out.BulkDiscount = round(b.BulkDiscount)
	out.PlatformFee = round(b.PlatformFee)
	out.Subtotal = round(b.Subtotal)
	out.TaxAmount = round(b.TaxAmount)
	out.Total = out.Subtotal.Add(out.TaxAmount)
	return out
}

// Cents holds a rounded breakdown in minor units for persistence.
type Cents struct {
	BasePrice        int64
	TotalBasePrice   int64
	CustomizationFee int64
	MaterialCost     int64
	DeliveryFee      int64
	HandlingFee      int64
	BulkDiscount     int64
	PlatformFee      int64
	Subtotal         int64
	Tax              int64
	Total            int64
}

// Cents converts the rounded breakdown into integer minor units.
func (b Breakdown) Cents() Cents {
	r := b.Rounded()
	c := Cents{
		BasePrice:        ToCents(r.BasePrice),
		TotalBasePrice:   ToCents(r.TotalBasePrice),
		CustomizationFee: ToCents(r.CustomizationFee),
		MaterialCost:     ToCents(r.MaterialCost),
		DeliveryFee:      ToCents(r.DeliveryFee),
		HandlingFee:      ToCents(r.HandlingFee),
		BulkDiscount:     ToCents(r.BulkDiscount),
		PlatformFee:      ToCents(r.PlatformFee),
		Subtotal:         ToCents(r.Subtotal),
		Tax:              ToCents(r.TaxAmount),
	}
	c.Total = c.Subtotal + c.Tax
	return c
}

// ToCents rounds d to two places and returns it in minor units.
func ToCents(d decimal.Decimal) int64 {
	return round(d).Shift(2).IntPart()
}

func round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
