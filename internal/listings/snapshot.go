package listings

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/threadline/settlement-backend/pkg/db/models"
	"github.com/threadline/settlement-backend/pkg/enums"
)

// Snapshot is the read-only view of a listing used to price and place an order.
type Snapshot struct {
	ID           uuid.UUID
	SellerID     uuid.UUID
	Title        string
	Price        decimal.Decimal
	Currency     string
	Customizable bool
	Options      map[string][]string
	BulkTiers    []BulkTier
	DeliveryFees map[enums.DeliveryMethod]decimal.Decimal
	Materials    []MaterialLine
	Active       bool
}

// BulkTier grants Percent off the total base price at MinQuantity units or more.
type BulkTier struct {
	MinQuantity int
	Percent     decimal.Decimal
}

// MaterialLine is one bill-of-materials entry consumed per unit ordered.
type MaterialLine struct {
	InventoryItemID uuid.UUID
	QuantityPerUnit int
}

// FromCents converts integer minor units into a decimal amount.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// SnapshotFromModel converts a persisted listing into its pricing view.
// Delivery fee keys that are not known delivery methods are dropped.
func SnapshotFromModel(l models.Listing) Snapshot {
	snap := Snapshot{
		ID:           l.ID,
		SellerID:     l.SellerID,
		Title:        l.Title,
		Price:        FromCents(l.PriceCents),
		Currency:     l.Currency,
		Customizable: l.Customizable,
		Options:      l.Options,
		Active:       l.Active,
		DeliveryFees: make(map[enums.DeliveryMethod]decimal.Decimal, len(l.DeliveryFees)),
	}
	for _, tier := range l.BulkTiers {
		snap.BulkTiers = append(snap.BulkTiers, BulkTier{MinQuantity: tier.MinQuantity, Percent: tier.Percent})
	}
	for raw, cents := range l.DeliveryFees {
		method, err := enums.ParseDeliveryMethod(raw)
		if err != nil {
			continue
		}
		snap.DeliveryFees[method] = FromCents(cents)
	}
	for _, m := range l.Materials {
		snap.Materials = append(snap.Materials, MaterialLine{
			InventoryItemID: m.InventoryItemID,
			QuantityPerUnit: m.QuantityPerUnit,
		})
	}
	return snap
}
