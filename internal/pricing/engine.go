package pricing

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/threadline/settlement-backend/internal/listings"
	"github.com/threadline/settlement-backend/pkg/config"
	"github.com/threadline/settlement-backend/pkg/enums"
	pkgerrors "github.com/threadline/settlement-backend/pkg/errors"
)

var hundred = decimal.NewFromInt(100)

// MaterialPricer returns the current unit price of inventory items.
type MaterialPricer interface {
	UnitPrices(ctx context.Context, itemIDs []uuid.UUID) (map[uuid.UUID]decimal.Decimal, error)
}

// Engine computes order prices from a listing snapshot and the fee policy.
type Engine struct {
	policy config.PricingConfig
	pricer MaterialPricer
}

// NewEngine builds a pricing engine. pricer may be nil when no listing carries materials.
func NewEngine(policy config.PricingConfig, pricer MaterialPricer) (*Engine, error) {
	if policy.TaxRate.IsNegative() {
		return nil, fmt.Errorf("tax rate must not be negative")
	}
	if policy.CustomizationFee.IsNegative() || policy.HandlingFee.IsNegative() || policy.PlatformFee.IsNegative() {
		return nil, fmt.Errorf("fees must not be negative")
	}
	if strings.TrimSpace(policy.Currency) == "" {
		policy.Currency = "USD"
	}
	return &Engine{policy: policy, pricer: pricer}, nil
}

// ComputePrice returns the unrounded breakdown for quantity units of listing.
// The only side effect is the point-in-time material price read.
func (e *Engine) ComputePrice(ctx context.Context, listing listings.Snapshot, quantity int, choices map[string]string, method enums.DeliveryMethod) (Breakdown, error) {
	if quantity <= 0 {
		return Breakdown{}, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be a positive integer")
	}
	if listing.Price.IsNegative() {
		return Breakdown{}, pkgerrors.New(pkgerrors.CodeValidation, "listing price must not be negative")
	}

	selected, err := validateChoices(listing, choices)
	if err != nil {
		return Breakdown{}, err
	}

	deliveryFee, err := deliveryFeeFor(listing, method)
	if err != nil {
		return Breakdown{}, err
	}

	materialCost, err := e.materialCost(ctx, listing.Materials)
	if err != nil {
		return Breakdown{}, err
	}

	currency := listing.Currency
	if currency == "" {
		currency = e.policy.Currency
	}

	b := Breakdown{
		Currency:        currency,
		Quantity:        quantity,
		BasePrice:       listing.Price,
		SelectedOptions: selected,
		MaterialCost:    materialCost,
		DeliveryFee:     deliveryFee,
		HandlingFee:     e.policy.HandlingFee,
		PlatformFee:     e.policy.PlatformFee,
		TaxRate:         e.policy.TaxRate,
	}
	b.TotalBasePrice = b.BasePrice.Mul(decimal.NewFromInt(int64(quantity)))
	b.CustomizationFee = e.policy.CustomizationFee.Mul(decimal.NewFromInt(int64(selected)))
	b.SubtotalBeforeDiscount = b.TotalBasePrice.
		Add(b.CustomizationFee).
		Add(b.MaterialCost).
		Add(b.DeliveryFee).
		Add(b.HandlingFee)
	b.BulkDiscount = bulkDiscount(listing.BulkTiers, quantity, b.TotalBasePrice)
	b.Subtotal = b.SubtotalBeforeDiscount.Sub(b.BulkDiscount).Add(b.PlatformFee)
	b.TaxAmount = b.Subtotal.Mul(b.TaxRate)
	b.Total = b.Subtotal.Add(b.TaxAmount)
	return b, nil
}

// validateChoices returns the number of selected options.
func validateChoices(listing listings.Snapshot, choices map[string]string) (int, error) {
	if len(choices) == 0 {
		return 0, nil
	}
	if !listing.Customizable {
		return 0, pkgerrors.New(pkgerrors.CodeInvalidCustomization, "listing does not accept customization")
	}
	names := make([]string, 0, len(choices))
	for name := range choices {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		value := choices[name]
		allowed, ok := listing.Options[name]
		if !ok {
			return 0, pkgerrors.New(pkgerrors.CodeInvalidCustomization, "unknown customization option").
				WithDetails(map[string]any{"option": name})
		}
		if !contains(allowed, value) {
			return 0, pkgerrors.New(pkgerrors.CodeInvalidCustomization, "invalid customization choice").
				WithDetails(map[string]any{"option": name, "value": value, "allowed": allowed})
		}
	}
	return len(choices), nil
}

func deliveryFeeFor(listing listings.Snapshot, method enums.DeliveryMethod) (decimal.Decimal, error) {
	if method == enums.DeliveryMethodPickup {
		return decimal.Zero, nil
	}
	if !method.IsValid() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeUnsupportedDelivery, "unsupported delivery method").
			WithDetails(map[string]any{"delivery_method": string(method)})
	}
	fee, ok := listing.DeliveryFees[method]
	if !ok {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeUnsupportedDelivery, "delivery method not offered for this listing").
			WithDetails(map[string]any{"delivery_method": string(method)})
	}
	return fee, nil
}

// materialCost sums unit price × quantity-per-unit across the bill of materials.
func (e *Engine) materialCost(ctx context.Context, lines []listings.MaterialLine) (decimal.Decimal, error) {
	if len(lines) == 0 {
		return decimal.Zero, nil
	}
	if e.pricer == nil {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeInternal, "material pricer not configured")
	}
	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.InventoryItemID)
	}
	prices, err := e.pricer.UnitPrices(ctx, ids)
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return decimal.Zero, typed
		}
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load material prices")
	}
	total := decimal.Zero
	for _, line := range lines {
		price, ok := prices[line.InventoryItemID]
		if !ok {
			return decimal.Zero, pkgerrors.New(pkgerrors.CodeNotFound, "inventory item not found").
				WithDetails(map[string]any{"inventory_item_id": line.InventoryItemID})
		}
		total = total.Add(price.Mul(decimal.NewFromInt(int64(line.QuantityPerUnit))))
	}
	return total, nil
}

// bulkDiscount applies the tier with the highest threshold reached by quantity.
// The discount never exceeds the total base price.
func bulkDiscount(tiers []listings.BulkTier, quantity int, totalBase decimal.Decimal) decimal.Decimal {
	best := -1
	for i, tier := range tiers {
		if tier.MinQuantity <= 0 || quantity < tier.MinQuantity {
			continue
		}
		if best < 0 || tier.MinQuantity > tiers[best].MinQuantity {
			best = i
		}
	}
	if best < 0 {
		return decimal.Zero
	}
	percent := tiers[best].Percent
	if percent.IsNegative() {
		return decimal.Zero
	}
	discount := totalBase.Mul(percent).Div(hundred)
	if discount.GreaterThan(totalBase) {
		return totalBase
	}
	return discount
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
