package listings

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/threadline/settlement-backend/pkg/db/models"
	"github.com/threadline/settlement-backend/pkg/enums"
	pkgerrors "github.com/threadline/settlement-backend/pkg/errors"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:listings_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Listing{}, &models.ListingMaterial{}))
	return db
}

func TestSnapshotLoadsMaterialsAndFees(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	catalog, err := NewService(repo)
	require.NoError(t, err)

	itemID := uuid.New()
	listing := &models.Listing{
		SellerID:     uuid.New(),
		Title:        "Tailored blazer",
		PriceCents:   5000,
		Currency:     "USD",
		Customizable: true,
		Options:      map[string][]string{"lining": {"silk", "cotton"}},
		BulkTiers:    []models.BulkDiscountTier{{MinQuantity: 5, Percent: decimal.NewFromInt(10)}},
		DeliveryFees: map[string]int64{"standard": 500, "teleport": 100},
		Active:       true,
		Materials:    []models.ListingMaterial{{InventoryItemID: itemID, QuantityPerUnit: 2}},
	}
	require.NoError(t, repo.Create(context.Background(), listing))

	snap, err := catalog.Snapshot(context.Background(), listing.ID)
	require.NoError(t, err)
	require.True(t, snap.Price.Equal(decimal.RequireFromString("50.00")))
	require.Equal(t, []MaterialLine{{InventoryItemID: itemID, QuantityPerUnit: 2}}, snap.Materials)
	require.True(t, snap.DeliveryFees[enums.DeliveryMethodStandard].Equal(decimal.RequireFromString("5")))
	require.Len(t, snap.DeliveryFees, 1, "unknown delivery methods are dropped")
	require.Len(t, snap.BulkTiers, 1)
	require.Equal(t, []string{"silk", "cotton"}, snap.Options["lining"])
}

func TestSnapshotNotFound(t *testing.T) {
	catalog, err := NewService(NewRepository(newTestDB(t)))
	require.NoError(t, err)

	_, err = catalog.Snapshot(context.Background(), uuid.New())
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))

	_, err = catalog.Snapshot(context.Background(), uuid.Nil)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}
